package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type memBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
	types map[string]string

	putErr error
	getErr error
	delErr error
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{
		blobs: map[string][]byte{},
		types: map[string]string{},
	}
}

func (m *memBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if m.putErr != nil {
		return "", m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = append([]byte(nil), data...)
	m.types[key] = contentType
	return "s3://test-bucket/" + key, nil
}

func (m *memBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, fmt.Errorf("no such key: %s", key)
	}
	return data, nil
}

func (m *memBlobStore) Delete(ctx context.Context, key string) error {
	if m.delErr != nil {
		return m.delErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return nil
}

func (m *memBlobStore) PresignedGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://test-bucket.example.com/%s?X-Amz-Expires=%d", key, int(ttl.Seconds())), nil
}

func (m *memBlobStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blobs[key]
	return ok
}

// memImageStore keeps records in insertion order so scans are
// deterministic.
type memImageStore struct {
	mu     sync.Mutex
	order  []string
	images map[string]*Image

	putErr  error
	getErr  error
	delErr  error
	scanErr error

	gets int
}

func newMemImageStore() *memImageStore {
	return &memImageStore{images: map[string]*Image{}}
}

func (m *memImageStore) PutImage(ctx context.Context, image *Image) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.images[image.ImageID]; ok {
		return fmt.Errorf("image %s already exists", image.ImageID)
	}
	copied := *image
	m.images[image.ImageID] = &copied
	m.order = append(m.order, image.ImageID)
	return nil
}

func (m *memImageStore) GetImage(ctx context.Context, imageID string) (*Image, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	image, ok := m.images[imageID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, imageID)
	}
	copied := *image
	return &copied, nil
}

func (m *memImageStore) DeleteImage(ctx context.Context, imageID string) error {
	if m.delErr != nil {
		return m.delErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.images, imageID)
	for i, id := range m.order {
		if id == imageID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *memImageStore) ScanImages(ctx context.Context, limit int) ([]*Image, error) {
	if m.scanErr != nil {
		return nil, m.scanErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	images := []*Image{}
	for _, id := range m.order {
		if len(images) == limit {
			break
		}
		copied := *m.images[id]
		images = append(images, &copied)
	}
	return images, nil
}

func (m *memImageStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.images)
}

func newTestLogger() (*logrus.Logger, *test.Hook) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	return log, hook
}
