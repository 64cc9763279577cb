package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoCollection = "models"

// MongoStore keeps model records in MongoDB, one document per
// users/<uid>/models/<model id> path.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	now        func() time.Time
}

// NewMongoStore connects to uri and uses database.models.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(mongoCollection),
		now:        time.Now,
	}, nil
}

// SetVideoURL replaces (or inserts) the record for the user's model.
func (s *MongoStore) SetVideoURL(ctx context.Context, userID, modelID, url string) error {
	id := DocumentPath(userID, modelID)
	doc := mongoRecord{
		ID:        id,
		UserID:    userID,
		ModelID:   modelID,
		VideoURL:  url,
		UpdatedAt: s.now().UTC(),
	}

	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo replace %s: %w", id, err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, userID, modelID string) (*ModelRecord, error) {
	id := DocumentPath(userID, modelID)

	var doc mongoRecord
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongo find %s: %w", id, err)
	}
	return &ModelRecord{VideoURL: doc.VideoURL}, nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
