package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DocumentDBImageStore implements the ImageStore interface using AWS
// DocumentDB (or any MongoDB compatible server)
type DocumentDBImageStore struct {
	client   *mongo.Client
	database *mongo.Database
	images   *mongo.Collection
	log      logrus.FieldLogger
}

// DocumentDBImageItem represents an image document in DocumentDB
type DocumentDBImageItem struct {
	ImageID     string                 `bson:"_id"`
	UserID      string                 `bson:"user_id"`
	Filename    string                 `bson:"filename"`
	S3Key       string                 `bson:"s3_key"`
	ContentType string                 `bson:"content_type"`
	Size        int64                  `bson:"size"`
	CreatedAt   time.Time              `bson:"created_at"`
	Metadata    map[string]interface{} `bson:"metadata,omitempty"`
}

// createTLSConfig loads the DocumentDB CA bundle
func createTLSConfig(caFile string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate from %s: %w", caFile, err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}

	return &tls.Config{
		RootCAs: caCertPool,
	}, nil
}

// NewDocumentDBImageStore connects to DocumentDB and verifies the
// connection
func NewDocumentDBImageStore(ctx context.Context, cfg DocumentDBConfig, log logrus.FieldLogger) (*DocumentDBImageStore, error) {
	clientOptions := options.Client().ApplyURI(cfg.ConnectionString)

	if cfg.CAFile != "" {
		tlsConfig, err := createTLSConfig(cfg.CAFile)
		if err != nil {
			return nil, err
		}
		clientOptions.SetTLSConfig(tlsConfig)
	}

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DocumentDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping DocumentDB: %w", err)
	}

	log.WithField("database", cfg.DatabaseName).Info("Connected to DocumentDB")

	database := client.Database(cfg.DatabaseName)
	return &DocumentDBImageStore{
		client:   client,
		database: database,
		images:   database.Collection(cfg.Collection),
		log:      log,
	}, nil
}

// Close disconnects the client
func (s *DocumentDBImageStore) Close() error {
	return s.client.Disconnect(context.Background())
}

// PutImage inserts a new record
func (s *DocumentDBImageStore) PutImage(ctx context.Context, image *Image) error {
	item := DocumentDBImageItem{
		ImageID:     image.ImageID,
		UserID:      image.UserID,
		Filename:    image.Filename,
		S3Key:       image.StorageKey,
		ContentType: image.ContentType,
		Size:        image.Size,
		CreatedAt:   image.CreatedAt.UTC(),
		Metadata:    image.Metadata,
	}

	if _, err := s.images.InsertOne(ctx, item); err != nil {
		return fmt.Errorf("failed to insert image: %w", err)
	}
	return nil
}

// GetImage retrieves a record by ID
func (s *DocumentDBImageStore) GetImage(ctx context.Context, imageID string) (*Image, error) {
	var item DocumentDBImageItem
	err := s.images.FindOne(ctx, bson.M{"_id": imageID}).Decode(&item)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, imageID)
		}
		return nil, fmt.Errorf("failed to get image: %w", err)
	}

	return item.toImage(), nil
}

// DeleteImage deletes a record
func (s *DocumentDBImageStore) DeleteImage(ctx context.Context, imageID string) error {
	if _, err := s.images.DeleteOne(ctx, bson.M{"_id": imageID}); err != nil {
		return fmt.Errorf("failed to delete image: %w", err)
	}
	return nil
}

// ScanImages returns at most limit records in natural order
func (s *DocumentDBImageStore) ScanImages(ctx context.Context, limit int) ([]*Image, error) {
	cursor, err := s.images.Find(ctx, bson.M{}, options.Find().SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("failed to scan images: %w", err)
	}
	defer cursor.Close(ctx)

	images := make([]*Image, 0, limit)
	for cursor.Next(ctx) {
		var item DocumentDBImageItem
		if err := cursor.Decode(&item); err != nil {
			s.log.WithError(err).Warn("Failed to decode image document")
			continue
		}
		images = append(images, item.toImage())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate images: %w", err)
	}

	return images, nil
}

// EnsureSchema creates the images collection and its user_id index
func (s *DocumentDBImageStore) EnsureSchema(ctx context.Context) error {
	err := s.database.CreateCollection(ctx, s.images.Name())
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Name == "NamespaceExists" {
		err = nil
	}
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", s.images.Name(), err)
	}

	_, err = s.images.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create user_id index: %w", err)
	}
	return nil
}

func (item *DocumentDBImageItem) toImage() *Image {
	metadata := item.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return &Image{
		ImageID:     item.ImageID,
		UserID:      item.UserID,
		Filename:    item.Filename,
		StorageKey:  item.S3Key,
		ContentType: item.ContentType,
		Size:        item.Size,
		CreatedAt:   item.CreatedAt,
		Metadata:    metadata,
	}
}
