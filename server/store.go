package server

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by an ImageStore when no record exists for an id.
var ErrNotFound = errors.New("image not found")

// Image is the metadata record kept for every uploaded image.
type Image struct {
	ImageID     string                 `json:"image_id"`
	UserID      string                 `json:"user_id"`
	Filename    string                 `json:"filename"`
	StorageKey  string                 `json:"s3_key"`
	ContentType string                 `json:"content_type"`
	Size        int64                  `json:"size"`
	CreatedAt   time.Time              `json:"created_at"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// storageKey derives the blob key for a new image. It is computed once at
// upload time and persisted on the record.
func storageKey(userID, imageID, filename string) string {
	return fmt.Sprintf("images/%s/%s/%s", userID, imageID, filename)
}

// BlobStore defines the interface for image byte storage
type BlobStore interface {
	// Put stores data under key and returns a reference to the stored blob
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)

	// Get reads the whole blob stored under key
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the blob stored under key
	Delete(ctx context.Context, key string) error

	// PresignedGet returns a URL granting read access to key for ttl
	PresignedGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// ImageStore defines the interface for image metadata records
type ImageStore interface {
	PutImage(ctx context.Context, image *Image) error
	GetImage(ctx context.Context, imageID string) (*Image, error)
	DeleteImage(ctx context.Context, imageID string) error

	// ScanImages returns at most limit records in store order.
	ScanImages(ctx context.Context, limit int) ([]*Image, error)
}

// BucketProvisioner is implemented by blob stores that can create their
// container.
type BucketProvisioner interface {
	EnsureBucket(ctx context.Context) error
}

// SchemaProvisioner is implemented by image stores that can create their
// table or collection.
type SchemaProvisioner interface {
	EnsureSchema(ctx context.Context) error
}
