package ledger

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusUploaded  = "uploaded"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run is one attempt to publish a user's model video. StatusUploaded marks
// the state where the object is public but the model record was not written.
type Run struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	ModelID      string    `json:"model_id"`
	VideoPath    string    `json:"video_path"`
	ObjectPath   string    `json:"object_path"`
	DocumentPath string    `json:"document_path"`
	URL          string    `json:"url,omitempty"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
	Size         int64     `json:"size"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (r *Run) Terminal() bool {
	switch r.Status {
	case StatusCompleted, StatusFailed, StatusUploaded:
		return true
	}
	return false
}

func NewID() string {
	return uuid.NewString()
}
