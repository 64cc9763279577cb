package records

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore keeps model records in Firestore.
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestoreStore wraps an existing client. Close does not close the
// client; its owner does.
func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

func (s *FirestoreStore) doc(userID, modelID string) *firestore.DocumentRef {
	return s.client.Collection(usersCollection).Doc(userID).Collection(modelsCollection).Doc(modelID)
}

// SetVideoURL overwrites the whole document with {videoUrl: url}.
func (s *FirestoreStore) SetVideoURL(ctx context.Context, userID, modelID, url string) error {
	if _, err := s.doc(userID, modelID).Set(ctx, ModelRecord{VideoURL: url}); err != nil {
		return fmt.Errorf("firestore set %s: %w", DocumentPath(userID, modelID), err)
	}
	return nil
}

func (s *FirestoreStore) Get(ctx context.Context, userID, modelID string) (*ModelRecord, error) {
	snap, err := s.doc(userID, modelID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("firestore get %s: %w", DocumentPath(userID, modelID), err)
	}

	var rec ModelRecord
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", DocumentPath(userID, modelID), err)
	}
	return &rec, nil
}

func (s *FirestoreStore) Close() error {
	return nil
}
