package server

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3BlobStore implements the BlobStore interface using AWS S3
type S3BlobStore struct {
	s3Client   *s3.S3
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	bucketName string
}

// NewS3BlobStore creates a new S3 blob store
func NewS3BlobStore(sess *session.Session, cfg S3Config) (*S3BlobStore, error) {
	if cfg.BucketName == "" {
		return nil, fmt.Errorf("S3 bucket name is required")
	}

	// Check if the bucket name contains placeholders
	if strings.Contains(cfg.BucketName, "[") || strings.Contains(cfg.BucketName, "]") {
		return nil, fmt.Errorf("S3 bucket name contains placeholders: %s", cfg.BucketName)
	}

	client := s3.New(sess, &aws.Config{
		S3ForcePathStyle: aws.Bool(cfg.ForcePathStyle),
	})

	return &S3BlobStore{
		s3Client:   client,
		uploader:   s3manager.NewUploaderWithClient(client),
		downloader: s3manager.NewDownloaderWithClient(client),
		bucketName: cfg.BucketName,
	}, nil
}

// Put uploads a blob to S3 and returns its s3:// location
func (s *S3BlobStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload blob: %w", err)
	}

	return s.location(key), nil
}

// Get downloads a blob from S3
func (s *S3BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	buf := aws.NewWriteAtBuffer(nil)
	_, err := s.downloader.DownloadWithContext(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get blob: %w", err)
	}

	return buf.Bytes(), nil
}

// Delete removes a blob from S3
func (s *S3BlobStore) Delete(ctx context.Context, key string) error {
	_, err := s.s3Client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete blob: %w", err)
	}

	return nil
}

// PresignedGet returns a GET URL for key valid for ttl. Signing is local;
// no request is sent to S3.
func (s *S3BlobStore) PresignedGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, _ := s.s3Client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	req.SetContext(ctx)

	url, err := req.Presign(ttl)
	if err != nil {
		return "", fmt.Errorf("failed to presign blob: %w", err)
	}

	return url, nil
}

// EnsureBucket creates the bucket when it does not exist yet
func (s *S3BlobStore) EnsureBucket(ctx context.Context) error {
	_, err := s.s3Client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucketName),
	})
	if err == nil {
		return nil
	}

	_, err = s.s3Client.CreateBucketWithContext(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucketName),
	})
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeBucketAlreadyOwnedByYou, s3.ErrCodeBucketAlreadyExists:
			return nil
		}
	}
	if err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucketName, err)
	}

	return s.s3Client.WaitUntilBucketExistsWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucketName),
	})
}

// location formats the s3:// reference returned for stored blobs
func (s *S3BlobStore) location(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucketName, key)
}
