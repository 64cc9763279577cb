package objectstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectPath(t *testing.T) {
	assert.Equal(t, "users/U/models/test.mp4", ObjectPath("U", "test.mp4"))
	assert.Equal(t, "users/abc 123/models/test.mp4", ObjectPath("abc 123", "test.mp4"))
}

func TestPublicURL(t *testing.T) {
	cases := []struct {
		object string
		want   string
	}{
		{"users/U/models/test.mp4", "https://storage.googleapis.com/univ-capstone2024.appspot.com/users/U/models/test.mp4"},
		{"users/a b/models/test.mp4", "https://storage.googleapis.com/univ-capstone2024.appspot.com/users/a%20b/models/test.mp4"},
		{"users/x?y/models/test.mp4", "https://storage.googleapis.com/univ-capstone2024.appspot.com/users/x%3Fy/models/test.mp4"},
		{"users/a@b.c/models/test.mp4", "https://storage.googleapis.com/univ-capstone2024.appspot.com/users/a%40b.c/models/test.mp4"},
		{"users/a+b:c=d/models/test.mp4", "https://storage.googleapis.com/univ-capstone2024.appspot.com/users/a%2Bb%3Ac%3Dd/models/test.mp4"},
		{"users/~x_y-z/models/test.mp4", "https://storage.googleapis.com/univ-capstone2024.appspot.com/users/~x_y-z/models/test.mp4"},
		{"users/é/models/test.mp4", "https://storage.googleapis.com/univ-capstone2024.appspot.com/users/%C3%A9/models/test.mp4"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, PublicURL("univ-capstone2024.appspot.com", tc.object))
	}
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "video/mp4", ContentTypeFor("videos/test.mp4"))
	assert.Equal(t, "video/mp4", ContentTypeFor("VIDEO.MP4"))
	assert.Equal(t, "video/quicktime", ContentTypeFor("clip.mov"))
	assert.Equal(t, "video/webm", ContentTypeFor("clip.webm"))
	assert.Equal(t, "video/mp4", ContentTypeFor("no-extension"))
}

func writeVideo(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.mp4")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestMemoryStore_UploadAndPublish(t *testing.T) {
	store := NewMemoryStore("bucket")
	video := writeVideo(t, "video-bytes")
	ctx := context.Background()

	obj, err := store.Upload(ctx, "users/U/models/test.mp4", video)
	require.NoError(t, err)
	assert.Equal(t, int64(len("video-bytes")), obj.Size)
	assert.Equal(t, "video/mp4", obj.ContentType)

	data, public, ok := store.Get("users/U/models/test.mp4")
	require.True(t, ok)
	assert.False(t, public, "objects start private")
	assert.Equal(t, "video-bytes", string(data))

	require.NoError(t, store.MakePublic(ctx, "users/U/models/test.mp4"))
	_, public, _ = store.Get("users/U/models/test.mp4")
	assert.True(t, public)
}

func TestMemoryStore_MissingFileCreatesNothing(t *testing.T) {
	store := NewMemoryStore("bucket")

	_, err := store.Upload(context.Background(), "users/U/models/test.mp4", filepath.Join(t.TempDir(), "missing.mp4"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Empty(t, store.Paths())
}

func TestMemoryStore_OverwriteCountsUploads(t *testing.T) {
	store := NewMemoryStore("bucket")
	ctx := context.Background()

	_, err := store.Upload(ctx, "users/U/models/test.mp4", writeVideo(t, "first"))
	require.NoError(t, err)
	_, err = store.Upload(ctx, "users/U/models/test.mp4", writeVideo(t, "second"))
	require.NoError(t, err)

	assert.Equal(t, 2, store.Uploads())
	assert.Equal(t, []string{"users/U/models/test.mp4"}, store.Paths())
	data, _, _ := store.Get("users/U/models/test.mp4")
	assert.Equal(t, "second", string(data))
}

func TestMemoryStore_MakePublicUnknownObject(t *testing.T) {
	store := NewMemoryStore("bucket")
	assert.Error(t, store.MakePublic(context.Background(), "users/none/models/test.mp4"))
}

func TestMemoryStore_InjectedFailure(t *testing.T) {
	store := NewMemoryStore("bucket")
	boom := errors.New("boom")
	store.UploadFn = func(string) error { return boom }

	_, err := store.Upload(context.Background(), "users/U/models/test.mp4", writeVideo(t, "x"))
	assert.ErrorIs(t, err, boom)

	paths := store.Paths()
	sort.Strings(paths)
	assert.Empty(t, paths)
}
