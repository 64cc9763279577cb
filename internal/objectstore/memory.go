package objectstore

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// MemoryStore keeps objects in process. It backs tests and --dry-run style
// wiring where no bucket is available.
type MemoryStore struct {
	bucket string

	mu      sync.Mutex
	objects map[string]*memObject
	uploads int

	// UploadFn and MakePublicFn, when set, run before the default behaviour
	// and can inject failures.
	UploadFn     func(objectPath string) error
	MakePublicFn func(objectPath string) error
}

type memObject struct {
	data        []byte
	contentType string
	public      bool
}

func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{bucket: bucket, objects: make(map[string]*memObject)}
}

func (m *MemoryStore) Upload(ctx context.Context, objectPath, localPath string) (*Object, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, fmt.Errorf("open video: %w", err)
	}
	if m.UploadFn != nil {
		if err := m.UploadFn(objectPath); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads++
	m.objects[objectPath] = &memObject{data: data, contentType: ContentTypeFor(localPath)}

	return &Object{
		Bucket:      m.bucket,
		Path:        objectPath,
		Size:        int64(len(data)),
		ContentType: ContentTypeFor(localPath),
		Generation:  int64(m.uploads),
	}, nil
}

func (m *MemoryStore) MakePublic(ctx context.Context, objectPath string) error {
	if m.MakePublicFn != nil {
		if err := m.MakePublicFn(objectPath); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[objectPath]
	if !ok {
		return fmt.Errorf("object %q not found", objectPath)
	}
	obj.public = true
	return nil
}

func (m *MemoryStore) PublicURL(objectPath string) string {
	return PublicURL(m.bucket, objectPath)
}

// Get returns the stored bytes and whether the object is public.
func (m *MemoryStore) Get(objectPath string) (data []byte, public bool, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[objectPath]
	if !ok {
		return nil, false, false
	}
	return obj.data, obj.public, true
}

// Paths lists stored object paths.
func (m *MemoryStore) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.objects))
	for p := range m.objects {
		paths = append(paths, p)
	}
	return paths
}

// Uploads counts successful Upload calls, including overwrites.
func (m *MemoryStore) Uploads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uploads
}
