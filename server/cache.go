package server

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

// Cache defines the interface for caching image records
type Cache interface {
	GetImage(ctx context.Context, imageID string) (*Image, error)
	SetImage(ctx context.Context, image *Image) error
	DeleteImage(ctx context.Context, imageID string) error
}

// NoOpCache implements the Cache interface but does nothing
type NoOpCache struct{}

// GetImage returns a not found error
func (c *NoOpCache) GetImage(ctx context.Context, imageID string) (*Image, error) {
	return nil, ErrNotFound
}

// SetImage does nothing
func (c *NoOpCache) SetImage(ctx context.Context, image *Image) error {
	return nil
}

// DeleteImage does nothing
func (c *NoOpCache) DeleteImage(ctx context.Context, imageID string) error {
	return nil
}

// cachedImageStore reads records through a Cache. Records never change
// after upload, so only delete has to invalidate.
type cachedImageStore struct {
	ImageStore
	cache Cache
	log   logrus.FieldLogger
}

// newCachedImageStore wraps store with cache. Cache failures are logged and
// never fail a request.
func newCachedImageStore(store ImageStore, cache Cache, log logrus.FieldLogger) ImageStore {
	if _, ok := cache.(*NoOpCache); ok {
		return store
	}
	return &cachedImageStore{ImageStore: store, cache: cache, log: log}
}

func (s *cachedImageStore) GetImage(ctx context.Context, imageID string) (*Image, error) {
	image, err := s.cache.GetImage(ctx, imageID)
	if err == nil {
		return image, nil
	}
	if !errors.Is(err, ErrNotFound) {
		s.warn("get", imageID, err)
	}

	image, err = s.ImageStore.GetImage(ctx, imageID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetImage(ctx, image); err != nil {
		s.warn("set", imageID, err)
	}
	return image, nil
}

func (s *cachedImageStore) DeleteImage(ctx context.Context, imageID string) error {
	if err := s.ImageStore.DeleteImage(ctx, imageID); err != nil {
		return err
	}
	if err := s.cache.DeleteImage(ctx, imageID); err != nil {
		s.warn("delete", imageID, err)
	}
	return nil
}

func (s *cachedImageStore) warn(op, imageID string, err error) {
	s.log.WithFields(logrus.Fields{
		"op":       op,
		"image_id": imageID,
	}).WithError(err).Warn("Image cache error")
}
