package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"shareit/internal/shareit"
)

// maxPrealloc caps how much Write reserves up front from the declared size.
const maxPrealloc = 8 << 20

// MemoryStore is an in-memory implementation of the BlobStore interface.
// Stored slices are never modified in place, so readers handed out by Read
// keep seeing complete content after a Delete or overwrite.
// This implementation is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte // object name -> content
}

// NewMemoryStore creates an empty in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// Write stores content read from r under the object name for (fileID, fileName).
func (m *MemoryStore) Write(ctx context.Context, fileID, fileName string, size int64, r io.Reader) (int64, error) {
	var buf bytes.Buffer
	if size > 0 && size <= maxPrealloc {
		buf.Grow(int(size))
	}
	n, err := copyExact(&buf, r, size)
	if err != nil {
		return n, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[ObjectName(fileID, fileName)] = buf.Bytes()
	return n, nil
}

// Read returns a reader over the stored content.
func (m *MemoryStore) Read(ctx context.Context, fileID, fileName string) (io.ReadCloser, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	name := ObjectName(fileID, fileName)
	data, ok := m.objects[name]
	if !ok {
		return nil, 0, fmt.Errorf("blob %s: %w", name, shareit.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

// Delete removes the object if present.
func (m *MemoryStore) Delete(ctx context.Context, fileID, fileName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.objects, ObjectName(fileID, fileName))
	return nil
}

// Len returns the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// ValidateSetup always succeeds for the in-memory store.
func (m *MemoryStore) ValidateSetup() error {
	return nil
}

// Compile-time check that MemoryStore implements shareit.BlobStore interface
var _ shareit.BlobStore = (*MemoryStore)(nil)
