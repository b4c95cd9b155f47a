package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/diagnosis/luxsuv-confirmations/pkg/config"
	"github.com/diagnosis/luxsuv-confirmations/pkg/database"
	"github.com/diagnosis/luxsuv-confirmations/pkg/logger"
	mw "github.com/diagnosis/luxsuv-confirmations/pkg/middleware"
	"github.com/diagnosis/luxsuv-confirmations/pkg/mongodb"
	"github.com/diagnosis/luxsuv-confirmations/pkg/redisdb"
	"github.com/diagnosis/luxsuv-confirmations/services/notify/internal/repository"
)

const redisUserPrefix = "users:"

// backend holds the record store selected by RECORD_STORE and the
// connections behind it.
type backend struct {
	store      repository.BookingStore
	users      repository.UserDirectory
	pool       *pgxpool.Pool
	mongo      *mongo.Client
	mongoStore *repository.MongoStore
	memory     *repository.MemoryStore
	redis      *redis.Client
	checks     map[string]mw.HealthCheck
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	b := &backend{checks: make(map[string]mw.HealthCheck)}

	switch cfg.Notify.RecordStore {
	case config.StorePostgres:
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		b.pool = pool
		if cfg.Database.Migrate {
			if err := database.Migrate(ctx, pool); err != nil {
				b.close()
				return nil, err
			}
		}
		b.store = repository.NewPostgresStore(pool)
		b.users = repository.NewUserRepository(pool)
		b.checks["postgres"] = database.Healthcheck(pool)

	case config.StoreMongo:
		client, err := mongodb.Connect(ctx, cfg.Mongo)
		if err != nil {
			return nil, err
		}
		b.mongo = client
		b.mongoStore = repository.NewMongoStore(client, cfg.Mongo.Database, cfg.Mongo.Collection)
		b.store = b.mongoStore
		b.users = repository.NewMongoUsers(client.Database(cfg.Mongo.Database))
		b.checks["mongodb"] = mongodb.Healthcheck(client)

	case config.StoreRedis:
		client, err := redisdb.Connect(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		b.redis = client
		b.store = repository.NewRedisStore(client, cfg.Redis.KeyPrefix)
		b.users = repository.NewRedisUsers(client, redisUserPrefix)
		b.checks["redis"] = redisdb.Healthcheck(client)

	case config.StoreMemory:
		logger.Warn("Using in-memory record store; bookings are not persisted and are mirrored from incoming events")
		b.memory = repository.NewMemoryStore()
		b.store = b.memory
		b.users = repository.NewMemoryUsers()
		b.checks["store"] = b.store.Ping
		return b, nil

	default:
		return nil, fmt.Errorf("%w: RECORD_STORE %q", config.ErrInvalidOption, cfg.Notify.RecordStore)
	}

	if cfg.Redis.EmailCacheTTL > 0 {
		if err := b.enableEmailCache(ctx, cfg.Redis); err != nil {
			b.close()
			return nil, err
		}
	}
	return b, nil
}

func (b *backend) enableEmailCache(ctx context.Context, cfg config.RedisConfig) error {
	if b.redis == nil {
		client, err := redisdb.Connect(ctx, cfg)
		if err != nil {
			return fmt.Errorf("user email cache: %w", err)
		}
		b.redis = client
		b.checks["redis"] = redisdb.Healthcheck(client)
	}
	b.users = repository.NewCachedDirectory(b.users, b.redis, cfg.EmailCacheTTL)
	logger.Info("User email cache enabled", "ttl", cfg.EmailCacheTTL)
	return nil
}

func (b *backend) close() {
	if b.pool != nil {
		b.pool.Close()
	}
	if b.mongo != nil {
		if err := b.mongo.Disconnect(context.Background()); err != nil {
			logger.Warn("Failed to disconnect from MongoDB", "error", err)
		}
	}
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			logger.Warn("Failed to close Redis client", "error", err)
		}
	}
}
