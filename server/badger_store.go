package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// BadgerImageStore implements the ImageStore interface on an embedded
// Badger database. Keys are image ids, values are JSON encoded records.
type BadgerImageStore struct {
	db *badger.DB
}

// NewBadgerImageStore opens (or creates) the database at path
func NewBadgerImageStore(path string) (*BadgerImageStore, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create badger directory: %w", err)
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &BadgerImageStore{db: db}, nil
}

// Close closes the database
func (s *BadgerImageStore) Close() error {
	return s.db.Close()
}

// PutImage stores a new record. An existing id is rejected.
func (s *BadgerImageStore) PutImage(ctx context.Context, image *Image) error {
	data, err := json.Marshal(image)
	if err != nil {
		return fmt.Errorf("failed to marshal image: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(image.ImageID))
		if err == nil {
			return fmt.Errorf("image %s already exists", image.ImageID)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set([]byte(image.ImageID), data)
	})
}

// GetImage retrieves a record by ID
func (s *BadgerImageStore) GetImage(ctx context.Context, imageID string) (*Image, error) {
	var image Image
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(imageID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, imageID)
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &image)
		})
	})
	if err != nil {
		return nil, err
	}
	return &image, nil
}

// DeleteImage deletes a record. Deleting a missing id is not an error.
func (s *BadgerImageStore) DeleteImage(ctx context.Context, imageID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(imageID))
	})
}

// ScanImages returns at most limit records in key order
func (s *BadgerImageStore) ScanImages(ctx context.Context, limit int) ([]*Image, error) {
	images := make([]*Image, 0, limit)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Rewind(); it.Valid() && len(images) < limit; it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var image Image
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &image)
			})
			if err != nil {
				return fmt.Errorf("failed to decode %s: %w", it.Item().Key(), err)
			}
			images = append(images, &image)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan images: %w", err)
	}
	return images, nil
}
