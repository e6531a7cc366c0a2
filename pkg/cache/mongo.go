package cache

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/packmule/packmule/pkg/observability"
)

// mongoCollection holds one document per indexed (name, version) pair.
const mongoCollection = "tarballs"

// MongoStore implements Store on a mongodb collection. Documents carry a
// written_at timestamp so operators can query mirror history.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoStore connects to the mongodb instance at uri and uses the
// given database (default "packmule").
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	if database == "" {
		database = "packmule"
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return &MongoStore{
		client: client,
		coll:   client.Database(database).Collection(mongoCollection),
	}, nil
}

// Exists reports whether the pair has a document in the collection.
func (s *MongoStore) Exists(ctx context.Context, name, version string) (bool, error) {
	err := s.coll.FindOne(ctx, bson.M{"_id": key(name, version)}).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		observability.Cache().OnIndexMiss(ctx, "mongo")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	observability.Cache().OnIndexHit(ctx, "mongo")
	return true, nil
}

// Add upserts the pair's document.
func (s *MongoStore) Add(ctx context.Context, name, version string) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": key(name, version)},
		bson.M{"$setOnInsert": bson.M{
			"name":       name,
			"version":    version,
			"written_at": time.Now().UTC(),
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return err
	}
	observability.Cache().OnIndexAdd(ctx, "mongo")
	return nil
}

// Close disconnects from mongodb.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

var _ Store = (*MongoStore)(nil)
