// Package objectstore uploads model videos to a bucket and makes them
// publicly readable.
package objectstore

import (
	"context"
	"fmt"
	"mime"
	"path"
	"strings"
)

// PublicBaseURL is the host that serves publicly readable GCS objects.
const PublicBaseURL = "https://storage.googleapis.com"

const defaultContentType = "video/mp4"

// Store is the storage side of an upload run.
type Store interface {
	// Upload copies the local file to objectPath, replacing any existing object.
	Upload(ctx context.Context, objectPath, localPath string) (*Object, error)
	// MakePublic grants unauthenticated read access to objectPath.
	MakePublic(ctx context.Context, objectPath string) error
	// PublicURL returns the unauthenticated URL of objectPath.
	PublicURL(objectPath string) string
}

// Object describes an uploaded object.
type Object struct {
	Bucket      string
	Path        string
	Size        int64
	ContentType string
	Generation  int64
}

// ObjectPath returns users/<userID>/models/<fileName>. The user id is used
// verbatim.
func ObjectPath(userID, fileName string) string {
	return "users/" + userID + "/models/" + fileName
}

// PublicURL builds the public URL of objectPath in bucket. Every byte other
// than an unreserved character or '/' is percent-escaped, the same form the
// Firebase Admin SDK writes.
func PublicURL(bucket, objectPath string) string {
	return PublicBaseURL + "/" + bucket + "/" + escapePath(objectPath)
}

func escapePath(p string) string {
	var b strings.Builder
	b.Grow(len(p))
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c == '/' || isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '_', c == '.', c == '~':
		return true
	}
	return false
}

// ContentTypeFor guesses the content type from the file extension.
func ContentTypeFor(name string) string {
	ext := strings.ToLower(path.Ext(name))
	switch ext {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return defaultContentType
}
