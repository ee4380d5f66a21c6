package server

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDynamoDBItemConversion(t *testing.T) {
	want := testImage("img-1")

	item, err := toDynamoDBItem(want)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-06T07:08:09Z", item.CreatedAt)
	assert.JSONEq(t, `{"album":"pets"}`, item.Metadata)

	av, err := dynamodbattribute.MarshalMap(item)
	require.NoError(t, err)
	assert.Equal(t, "img-1", aws.StringValue(av["image_id"].S))
	assert.Equal(t, "1234", aws.StringValue(av["size"].N))
	assert.Equal(t, "images/alice/img-1/cat.png", aws.StringValue(av["s3_key"].S))

	var decoded DynamoDBImageItem
	require.NoError(t, dynamodbattribute.UnmarshalMap(av, &decoded))
	got, err := fromDynamoDBItem(&decoded)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDynamoDBItemConversion_EmptyMetadata(t *testing.T) {
	image := testImage("img-2")
	image.Metadata = map[string]interface{}{}

	item, err := toDynamoDBItem(image)
	require.NoError(t, err)
	assert.Empty(t, item.Metadata)

	av, err := dynamodbattribute.MarshalMap(item)
	require.NoError(t, err)
	_, ok := av["metadata"]
	assert.False(t, ok)

	got, err := fromDynamoDBItem(item)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{}, got.Metadata)
}

func TestFromDynamoDBItem_Malformed(t *testing.T) {
	_, err := fromDynamoDBItem(&DynamoDBImageItem{ImageID: "x", CreatedAt: "yesterday"})
	assert.Error(t, err)

	_, err = fromDynamoDBItem(&DynamoDBImageItem{ImageID: "x", Metadata: "{not json"})
	assert.Error(t, err)
}

// The tests below need DynamoDB Local or LocalStack at IMAGES_AWS_ENDPOINT.

func newIntegrationDynamoDBStore(t *testing.T) *DynamoDBImageStore {
	t.Helper()
	sess := newLocalStackSession(t)
	log, _ := newTestLogger()

	table := fmt.Sprintf("image-metadata-test-%d", time.Now().UnixNano())
	store := NewDynamoDBImageStore(sess, table, log)
	require.NoError(t, store.EnsureSchema(context.Background()))

	t.Cleanup(func() {
		_, err := store.client.DeleteTable(&dynamodb.DeleteTableInput{TableName: aws.String(table)})
		if err != nil {
			t.Logf("Error deleting table %s: %v", table, err)
		}
	})
	return store
}

func TestDynamoDBImageStore_Integration(t *testing.T) {
	store := newIntegrationDynamoDBStore(t)
	ctx := context.Background()

	// EnsureSchema is idempotent
	require.NoError(t, store.EnsureSchema(ctx))

	_, err := store.GetImage(ctx, "img-1")
	assert.True(t, errors.Is(err, ErrNotFound))

	want := testImage("img-1")
	require.NoError(t, store.PutImage(ctx, want))
	assert.Error(t, store.PutImage(ctx, want), "put must not overwrite an existing id")

	got, err := store.GetImage(ctx, "img-1")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	for i := 2; i <= 4; i++ {
		require.NoError(t, store.PutImage(ctx, testImage(fmt.Sprintf("img-%d", i))))
	}
	images, err := store.ScanImages(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, images, 2)

	images, err = store.ScanImages(ctx, 1000)
	require.NoError(t, err)
	assert.Len(t, images, 4)

	require.NoError(t, store.DeleteImage(ctx, "img-1"))
	_, err = store.GetImage(ctx, "img-1")
	assert.True(t, errors.Is(err, ErrNotFound))
}
