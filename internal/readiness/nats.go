package readiness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

type subscription interface {
	NextMsgWithContext(ctx context.Context) (*nats.Msg, error)
	Unsubscribe() error
}

// NATSWaiter blocks until the producer publishes on "<prefix><user id>".
// The message body is ignored; the file must exist once it arrives.
type NATSWaiter struct {
	Prefix  string
	Timeout time.Duration

	subscribe func(subject string) (subscription, error)
}

func NewNATSWaiter(conn *nats.Conn, prefix string, timeout time.Duration) *NATSWaiter {
	return &NATSWaiter{
		Prefix:  prefix,
		Timeout: timeout,
		subscribe: func(subject string) (subscription, error) {
			return conn.SubscribeSync(subject)
		},
	}
}

func (w *NATSWaiter) Subject(userID string) string {
	return w.Prefix + userID
}

func (w *NATSWaiter) Wait(ctx context.Context, target Target) error {
	subject := w.Subject(target.UserID)

	sub, err := w.subscribe(subject)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	defer sub.Unsubscribe()

	waitCtx, cancel := context.WithTimeout(ctx, w.Timeout)
	defer cancel()

	if _, err := sub.NextMsgWithContext(waitCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return timeoutErr(ctx, target.Path)
		}
		return fmt.Errorf("wait on %s: %w", subject, err)
	}
	return requireFile(target.Path)
}
