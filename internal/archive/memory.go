package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// MemoryArchive keeps snapshots in memory. It is safe for concurrent use.
type MemoryArchive struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	now     func() time.Time
}

type memoryObject struct {
	data    []byte
	modTime time.Time
}

func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{
		objects: make(map[string]memoryObject),
		now:     time.Now,
	}
}

func (m *MemoryArchive) Put(_ context.Context, name string, r io.Reader, size int64) error {
	if err := validateName(name); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = memoryObject{data: data, modTime: m.now()}
	return nil
}

func (m *MemoryArchive) Get(_ context.Context, name string, w io.Writer) error {
	m.mu.RLock()
	obj, ok := m.objects[name]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if _, err := io.Copy(w, bytes.NewReader(obj.data)); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

func (m *MemoryArchive) List(_ context.Context) ([]Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	objs := make([]Object, 0, len(m.objects))
	for name, obj := range m.objects {
		objs = append(objs, Object{Name: name, Size: int64(len(obj.data)), ModTime: obj.modTime})
	}
	sort.Slice(objs, func(i, j int) bool { return objs[i].Name < objs[j].Name })
	return objs, nil
}

func (m *MemoryArchive) ValidateSetup(context.Context) error { return nil }

func (m *MemoryArchive) Location() string { return "memory" }

var _ Archive = (*MemoryArchive)(nil)
