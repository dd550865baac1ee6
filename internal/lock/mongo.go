package lock

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/tokenflow/pkg/api"
)

// Mongo is a ProcessingLock backed by a MongoDB collection.
//
// Collection schema:
//
//	{
//	  _id:        string,    // lock key
//	  owner:      string,
//	  expires_at: time.Time,
//	}
type Mongo struct {
	coll *mongo.Collection
	opts Options
}

var _ api.LockRenewer = (*Mongo)(nil)

type mongoLeaseDoc struct {
	Key       string    `bson:"_id"`
	Owner     string    `bson:"owner"`
	ExpiresAt time.Time `bson:"expires_at"`
}

// NewMongo creates a Mongo-backed lock.
// dbName defaults to "tokenflow", collName to "processing_locks".
func NewMongo(client *mongo.Client, dbName, collName string, opts Options) (*Mongo, error) {
	if client == nil {
		return nil, errors.New("lock: mongo client is required")
	}
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if dbName == "" {
		dbName = "tokenflow"
	}
	if collName == "" {
		collName = DefaultTable
	}
	return &Mongo{
		coll: client.Database(dbName).Collection(collName),
		opts: opts,
	}, nil
}

// Acquire takes the lease with a filtered upsert: an expired document is
// overwritten, a missing one is inserted, and a live one makes the insert
// collide on _id.
func (m *Mongo) Acquire(ctx context.Context, key string) (bool, error) {
	now := m.opts.Now().UTC()
	filter := bson.M{
		"_id":        key,
		"expires_at": bson.M{"$lte": now},
	}
	update := bson.M{
		"$set": bson.M{
			"owner":      m.opts.Owner,
			"expires_at": now.Add(m.opts.TTL),
		},
	}
	_, err := m.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (m *Mongo) Release(ctx context.Context, key string) error {
	res, err := m.coll.DeleteOne(ctx, bson.M{"_id": key, "owner": m.opts.Owner})
	if err != nil {
		return err
	}
	if res.DeletedCount > 0 {
		return nil
	}

	var doc mongoLeaseDoc
	err = m.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	}
	if err != nil {
		return err
	}
	if doc.Owner != m.opts.Owner && m.opts.Now().Before(doc.ExpiresAt) {
		return api.ErrLockNotHeld
	}
	return nil
}

func (m *Mongo) Renew(ctx context.Context, key string) error {
	now := m.opts.Now().UTC()
	filter := bson.M{
		"_id":        key,
		"owner":      m.opts.Owner,
		"expires_at": bson.M{"$gt": now},
	}
	update := bson.M{"$set": bson.M{"expires_at": now.Add(m.opts.TTL)}}
	res, err := m.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return api.ErrLockNotHeld
	}
	return nil
}

// TTL returns the lease duration.
func (m *Mongo) TTL() time.Duration {
	return m.opts.TTL
}
