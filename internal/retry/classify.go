package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"

	"go.mongodb.org/mongo-driver/mongo"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Retryable is implemented by errors that know whether they are transient.
type Retryable interface {
	IsRetryable() bool
}

// IsTransient reports whether err is worth another attempt. Storage errors
// arrive as googleapi.Error, Firestore and Mongo errors as gRPC statuses or
// network errors.
func IsTransient(err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var r Retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return isTransientHTTPStatus(gerr.Code)
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted,
			codes.Aborted, codes.Internal:
			return true
		default:
			return false
		}
	}

	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return true
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}

	return false
}

func isTransientHTTPStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= http.StatusInternalServerError
}
