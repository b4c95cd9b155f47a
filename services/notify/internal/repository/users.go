package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/diagnosis/luxsuv-confirmations/services/notify/internal/domain"
)

// UserDirectory resolves a user id to an email address. It returns
// domain.ErrUserNotFound when the user is unknown or has no address.
type UserDirectory interface {
	LookupEmail(ctx context.Context, userID string) (string, error)
}

type UserRepository struct{ pool *pgxpool.Pool }

func NewUserRepository(pool *pgxpool.Pool) *UserRepository { return &UserRepository{pool: pool} }

func (r *UserRepository) LookupEmail(ctx context.Context, userID string) (string, error) {
	const q = `SELECT COALESCE(email, '') FROM users WHERE id = $1`

	var email string
	if err := r.pool.QueryRow(ctx, q, userID).Scan(&email); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrUserNotFound
		}
		return "", fmt.Errorf("lookup user %s: %w", userID, err)
	}
	return nonEmptyEmail(email)
}

// MongoUsers reads the users collection next to the bookings collection.
type MongoUsers struct{ coll *mongo.Collection }

func NewMongoUsers(db *mongo.Database) *MongoUsers { return &MongoUsers{coll: db.Collection("users")} }

func (r *MongoUsers) LookupEmail(ctx context.Context, userID string) (string, error) {
	var user struct {
		Email string `bson:"email"`
	}
	opts := options.FindOne().SetProjection(bson.D{{Key: "email", Value: 1}})
	err := r.coll.FindOne(ctx, keyFilter(userID), opts).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", domain.ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup user %s: %w", userID, err)
	}
	return nonEmptyEmail(user.Email)
}

// RedisUsers reads the email field of the hash stored under prefix+id.
type RedisUsers struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisUsers(client redis.UniversalClient, prefix string) *RedisUsers {
	return &RedisUsers{client: client, prefix: prefix}
}

func (r *RedisUsers) LookupEmail(ctx context.Context, userID string) (string, error) {
	email, err := r.client.HGet(ctx, r.prefix+userID, "email").Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup user %s: %w", userID, err)
	}
	return nonEmptyEmail(email)
}

type MemoryUsers struct {
	mu     sync.RWMutex
	emails map[string]string
}

func NewMemoryUsers() *MemoryUsers { return &MemoryUsers{emails: make(map[string]string)} }

func (r *MemoryUsers) Put(userID, email string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emails[userID] = email
}

func (r *MemoryUsers) LookupEmail(_ context.Context, userID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	email, ok := r.emails[userID]
	if !ok {
		return "", domain.ErrUserNotFound
	}
	return nonEmptyEmail(email)
}

func nonEmptyEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", domain.ErrUserNotFound
	}
	return email, nil
}
