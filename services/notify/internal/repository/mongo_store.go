package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/diagnosis/luxsuv-confirmations/services/notify/internal/domain"
)

// MongoStore keeps bookings in a MongoDB collection keyed by string or ObjectID _id.
// Claims run in a multi-document transaction, which needs a replica set.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func NewMongoStore(client *mongo.Client, database, collection string) *MongoStore {
	return &MongoStore{
		client: client,
		coll:   client.Database(database).Collection(collection),
	}
}

func (s *MongoStore) Collection() *mongo.Collection { return s.coll }

func (s *MongoStore) Get(ctx context.Context, id string) (domain.Snapshot, error) {
	doc, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, domain.ErrNotFound
	}
	return doc, nil
}

func (s *MongoStore) Claim(ctx context.Context, id string, policy domain.ClaimPolicy) (ClaimResult, error) {
	var res ClaimResult
	err := s.inTransaction(ctx, func(ctx context.Context) error {
		current, err := s.find(ctx, id)
		if err != nil {
			return err
		}

		var patch *domain.Patch
		res, patch = decideClaim(id, current, policy)
		if patch == nil {
			return nil
		}
		return s.apply(ctx, id, *patch)
	})
	if err != nil {
		return ClaimResult{}, fmt.Errorf("claim booking %s: %w", id, err)
	}
	return res, nil
}

func (s *MongoStore) CommitOutcome(ctx context.Context, id string, outcome domain.Outcome) error {
	return s.inTransaction(ctx, func(ctx context.Context) error {
		current, err := s.find(ctx, id)
		if err != nil {
			return err
		}
		if err := checkOutcome(id, current); err != nil {
			return err
		}
		return s.apply(ctx, id, outcome.Patch())
	})
}

func (s *MongoStore) Ping(ctx context.Context) error { return s.client.Ping(ctx, nil) }

// inTransaction runs fn in a session transaction. The driver retries fn on
// transient errors such as a write conflict with a concurrent claim, so fn
// must re-read everything it decides on.
func (s *MongoStore) inTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(context.WithoutCancel(ctx))

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

func (s *MongoStore) find(ctx context.Context, id string) (domain.Snapshot, error) {
	var raw bson.M
	err := s.coll.FindOne(ctx, keyFilter(id)).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return SnapshotFromBSON(raw), nil
}

func (s *MongoStore) apply(ctx context.Context, id string, p domain.Patch) error {
	update := bson.D{}
	if len(p.Set) > 0 {
		set := bson.M{}
		for k, v := range p.Set {
			set[k] = v
		}
		update = append(update, bson.E{Key: "$set", Value: set})
	}
	if len(p.Unset) > 0 {
		unset := bson.M{}
		for _, k := range p.Unset {
			unset[k] = ""
		}
		update = append(update, bson.E{Key: "$unset", Value: unset})
	}
	if len(update) == 0 {
		return nil
	}

	res, err := s.coll.UpdateOne(ctx, keyFilter(id), update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// keyFilter matches a document by its string id or, when id is the hex form of
// an ObjectID, by that ObjectID as well. Change streams report ObjectID keys in
// hex form.
func keyFilter(id string) bson.D {
	if oid, err := bson.ObjectIDFromHex(id); err == nil {
		return bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: bson.A{id, oid}}}}}
	}
	return bson.D{{Key: "_id", Value: id}}
}

// SnapshotFromBSON converts a decoded document into plain Go values: BSON
// dates become time.Time and nested documents become maps.
func SnapshotFromBSON(doc bson.M) domain.Snapshot {
	if doc == nil {
		return nil
	}
	out := make(domain.Snapshot, len(doc))
	for k, v := range doc {
		if k == "_id" {
			continue
		}
		out[k] = normalizeBSON(v)
	}
	return out
}

func normalizeBSON(v any) any {
	switch t := v.(type) {
	case bson.DateTime:
		return t.Time().UTC()
	case bson.Timestamp:
		return time.Unix(int64(t.T), 0).UTC()
	case bson.Decimal128:
		return t.String()
	case bson.M:
		return map[string]any(SnapshotFromBSON(t))
	case bson.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = normalizeBSON(e.Value)
		}
		return m
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeBSON(e)
		}
		return out
	default:
		return v
	}
}
