package storage

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"

	domain "github.com/bryanwahyu/xray-analyzer/internal/domain/uploads"
)

var ErrPreviewNotFound = errors.New("preview not found")

type object struct {
	contentType string
	data        []byte
}

// Memory keeps preview bytes in process, like a browser object URL.
// URLs are baseURL + key.
type Memory struct {
	baseURL string

	mu      sync.RWMutex
	objects map[string]object
}

func NewMemory(baseURL string) *Memory {
	if baseURL == "" {
		baseURL = "blob:"
	}
	return &Memory{baseURL: baseURL, objects: make(map[string]object)}
}

func (m *Memory) Create(_ context.Context, _ domain.SessionID, f domain.File) (domain.Preview, error) {
	key := uuid.New().String() + extension(f)

	m.mu.Lock()
	m.objects[key] = object{contentType: contentType(f), data: slices.Clone(f.Data)}
	m.mu.Unlock()

	return domain.Preview{Key: key, URL: m.baseURL + key}, nil
}

func (m *Memory) Release(_ context.Context, p domain.Preview) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[p.Key]; !ok {
		return ErrPreviewNotFound
	}
	delete(m.objects, p.Key)
	return nil
}

// Open returns the bytes behind a live preview.
func (m *Memory) Open(key string) ([]byte, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, "", ErrPreviewNotFound
	}
	return obj.data, obj.contentType, nil
}

// Live is the number of previews not yet released.
func (m *Memory) Live() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
