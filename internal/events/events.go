// Package events announces finished uploads to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const SubjectUploaded = "model.video.uploaded"

type UploadedEvent struct {
	RunID        string    `json:"run_id"`
	UserID       string    `json:"user_id"`
	ObjectPath   string    `json:"object_path"`
	DocumentPath string    `json:"document_path"`
	URL          string    `json:"url"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

type Publisher interface {
	PublishUploaded(ctx context.Context, event *UploadedEvent) error
}

// NopPublisher drops events. Used when NATS is not configured.
type NopPublisher struct{}

func (NopPublisher) PublishUploaded(ctx context.Context, event *UploadedEvent) error {
	return nil
}

type conn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes JSON events, retrying a bounded number of times
// with a linear backoff.
type NATSPublisher struct {
	conn       conn
	subject    string
	maxRetries int
	backoff    time.Duration
}

func NewNATSPublisher(nc *nats.Conn, subject string, maxRetries int) *NATSPublisher {
	return newPublisher(nc, subject, maxRetries)
}

func newPublisher(c conn, subject string, maxRetries int) *NATSPublisher {
	if subject == "" {
		subject = SubjectUploaded
	}
	return &NATSPublisher{
		conn:       c,
		subject:    subject,
		maxRetries: maxRetries,
		backoff:    100 * time.Millisecond,
	}
}

func (p *NATSPublisher) PublishUploaded(ctx context.Context, event *UploadedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	for i := 0; i <= p.maxRetries; i++ {
		err = p.conn.Publish(p.subject, data)
		if err == nil {
			return nil
		}
		if i == p.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * p.backoff):
		}
	}

	return fmt.Errorf("publish failed after %d retries: %w", p.maxRetries, err)
}

// Connect dials NATS with reconnects enabled; the name shows up in server
// monitoring.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return nc, nil
}
