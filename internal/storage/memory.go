package storage

import (
	"context"
	"fmt"
	"sync"
)

type object struct {
	data []byte
	meta map[string]string
}

// MemoryStore keeps payloads in process memory. It backs standalone runs and
// tests; the RWMutex lets concurrent workers read while uploads are written.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]*object
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]*object),
	}
}

// Put stores a private copy of data and returns its handle.
func (m *MemoryStore) Put(_ context.Context, name string, data []byte, meta map[string]string) (string, error) {
	sealed, err := Seal(data, meta)
	if err != nil {
		return "", err
	}
	handle := NewHandle(name)
	buf := make([]byte, len(data))
	copy(buf, data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[handle] = &object{data: buf, meta: sealed}
	return handle, nil
}

// Get returns a verified copy of the payload.
func (m *MemoryStore) Get(_ context.Context, handle string) ([]byte, error) {
	m.mu.RLock()
	obj, ok := m.objects[handle]
	if !ok {
		m.mu.RUnlock()
		return nil, fmt.Errorf("%s: %w", handle, ErrContentNotFound)
	}
	buf := make([]byte, len(obj.data))
	copy(buf, obj.data)
	meta := obj.meta
	m.mu.RUnlock()

	if err := Verify(handle, buf, meta); err != nil {
		return nil, err
	}
	return buf, nil
}

func (m *MemoryStore) Exists(_ context.Context, handle string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[handle]
	return ok, nil
}

// Delete removes a payload; deleting a missing handle is not an error.
func (m *MemoryStore) Delete(_ context.Context, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, handle)
	return nil
}

// Metadata returns a copy of the metadata stored for handle.
func (m *MemoryStore) Metadata(handle string) (map[string]string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[handle]
	if !ok {
		return nil, false
	}
	out := make(map[string]string, len(obj.meta))
	for k, v := range obj.meta {
		out[k] = v
	}
	return out, true
}

// Len reports how many payloads are held.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
