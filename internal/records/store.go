// Package records stores the public video URL of a user's model in a
// document database.
package records

import (
	"context"
	"errors"
	"time"
)

const (
	usersCollection  = "users"
	modelsCollection = "models"
)

// ErrNotFound is returned by Get when no record exists.
var ErrNotFound = errors.New("model record not found")

// ModelRecord is the document stored at users/<uid>/models/<model id>.
type ModelRecord struct {
	VideoURL string `firestore:"videoUrl" bson:"videoUrl" json:"videoUrl"`
}

// Store writes and reads model records.
type Store interface {
	// SetVideoURL replaces the record at users/<userID>/models/<modelID>.
	SetVideoURL(ctx context.Context, userID, modelID, url string) error
	Get(ctx context.Context, userID, modelID string) (*ModelRecord, error)
	Close() error
}

// DocumentPath returns users/<userID>/models/<modelID>.
func DocumentPath(userID, modelID string) string {
	return usersCollection + "/" + userID + "/" + modelsCollection + "/" + modelID
}

// mongoRecord is the Mongo shape of a model record; the Firestore path
// doubles as the document key.
type mongoRecord struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	ModelID   string    `bson:"model_id"`
	VideoURL  string    `bson:"videoUrl"`
	UpdatedAt time.Time `bson:"updated_at"`
}
