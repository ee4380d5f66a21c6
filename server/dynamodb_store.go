package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/expression"
	"github.com/sirupsen/logrus"
)

// DynamoDBImageStore implements the ImageStore interface using a single
// DynamoDB table keyed on image_id
type DynamoDBImageStore struct {
	client      *dynamodb.DynamoDB
	imagesTable string
	log         logrus.FieldLogger
}

// DynamoDBImageItem represents an image record in DynamoDB. Metadata is
// kept as a JSON string attribute.
type DynamoDBImageItem struct {
	ImageID     string `json:"image_id"`
	UserID      string `json:"user_id"`
	Filename    string `json:"filename"`
	S3Key       string `json:"s3_key"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	CreatedAt   string `json:"created_at"`
	Metadata    string `json:"metadata,omitempty"`
}

// NewDynamoDBImageStore creates a new DynamoDB image store
func NewDynamoDBImageStore(sess *session.Session, imagesTable string, log logrus.FieldLogger) *DynamoDBImageStore {
	return &DynamoDBImageStore{
		client:      dynamodb.New(sess),
		imagesTable: imagesTable,
		log:         log,
	}
}

// PutImage writes a new record. The write is conditional so an existing
// image_id is never overwritten.
func (s *DynamoDBImageStore) PutImage(ctx context.Context, image *Image) error {
	item, err := toDynamoDBItem(image)
	if err != nil {
		return err
	}

	av, err := dynamodbattribute.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal image item: %w", err)
	}

	cond := expression.AttributeNotExists(expression.Name("image_id"))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("failed to build expression: %w", err)
	}

	_, err = s.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.imagesTable),
		Item:                     av,
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	if err != nil {
		return fmt.Errorf("failed to put image item: %w", err)
	}

	return nil
}

// GetImage retrieves a record by ID
func (s *DynamoDBImageStore) GetImage(ctx context.Context, imageID string) (*Image, error) {
	result, err := s.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.imagesTable),
		Key: map[string]*dynamodb.AttributeValue{
			"image_id": {
				S: aws.String(imageID),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}

	if result.Item == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, imageID)
	}

	var item DynamoDBImageItem
	if err := dynamodbattribute.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal image item: %w", err)
	}

	return fromDynamoDBItem(&item)
}

// DeleteImage deletes a record
func (s *DynamoDBImageStore) DeleteImage(ctx context.Context, imageID string) error {
	_, err := s.client.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.imagesTable),
		Key: map[string]*dynamodb.AttributeValue{
			"image_id": {
				S: aws.String(imageID),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete image: %w", err)
	}

	return nil
}

// ScanImages reads a single scan page of at most limit items. Items that
// fail to decode are logged and skipped.
func (s *DynamoDBImageStore) ScanImages(ctx context.Context, limit int) ([]*Image, error) {
	result, err := s.client.ScanWithContext(ctx, &dynamodb.ScanInput{
		TableName: aws.String(s.imagesTable),
		Limit:     aws.Int64(int64(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan images: %w", err)
	}

	images := make([]*Image, 0, len(result.Items))
	for _, av := range result.Items {
		var item DynamoDBImageItem
		if err := dynamodbattribute.UnmarshalMap(av, &item); err != nil {
			s.log.WithError(err).Warn("Failed to unmarshal image item")
			continue
		}
		image, err := fromDynamoDBItem(&item)
		if err != nil {
			s.log.WithError(err).WithField("image_id", item.ImageID).Warn("Skipping malformed image item")
			continue
		}
		images = append(images, image)
	}

	return images, nil
}

// EnsureSchema creates the images table (hash key image_id) when it does
// not exist and waits for it to become active
func (s *DynamoDBImageStore) EnsureSchema(ctx context.Context) error {
	_, err := s.client.DescribeTableWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.imagesTable),
	})
	if err == nil {
		return nil
	}
	if aerr, ok := err.(awserr.Error); !ok || aerr.Code() != dynamodb.ErrCodeResourceNotFoundException {
		return fmt.Errorf("failed to describe table %s: %w", s.imagesTable, err)
	}

	_, err = s.client.CreateTableWithContext(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.imagesTable),
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{
				AttributeName: aws.String("image_id"),
				AttributeType: aws.String("S"),
			},
		},
		KeySchema: []*dynamodb.KeySchemaElement{
			{
				AttributeName: aws.String("image_id"),
				KeyType:       aws.String("HASH"),
			},
		},
		BillingMode: aws.String("PAY_PER_REQUEST"),
	})
	if aerr, ok := err.(awserr.Error); ok && aerr.Code() == dynamodb.ErrCodeResourceInUseException {
		err = nil
	}
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.imagesTable, err)
	}

	s.log.WithField("table", s.imagesTable).Info("Waiting for table to be active")
	return s.client.WaitUntilTableExistsWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.imagesTable),
	})
}

func toDynamoDBItem(image *Image) (*DynamoDBImageItem, error) {
	item := &DynamoDBImageItem{
		ImageID:     image.ImageID,
		UserID:      image.UserID,
		Filename:    image.Filename,
		S3Key:       image.StorageKey,
		ContentType: image.ContentType,
		Size:        image.Size,
		CreatedAt:   image.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if len(image.Metadata) > 0 {
		data, err := json.Marshal(image.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		item.Metadata = string(data)
	}
	return item, nil
}

func fromDynamoDBItem(item *DynamoDBImageItem) (*Image, error) {
	image := &Image{
		ImageID:     item.ImageID,
		UserID:      item.UserID,
		Filename:    item.Filename,
		StorageKey:  item.S3Key,
		ContentType: item.ContentType,
		Size:        item.Size,
		Metadata:    map[string]interface{}{},
	}

	if item.CreatedAt != "" {
		createdAt, err := time.Parse(time.RFC3339Nano, item.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("invalid created_at %q: %w", item.CreatedAt, err)
		}
		image.CreatedAt = createdAt
	}

	if item.Metadata != "" {
		if err := json.Unmarshal([]byte(item.Metadata), &image.Metadata); err != nil {
			return nil, fmt.Errorf("invalid metadata: %w", err)
		}
	}

	return image, nil
}
