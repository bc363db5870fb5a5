package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/rowgo/blobstore"
)

// ErrConcurrentModification is returned when a concurrent CURRENT update is
// detected.
var ErrConcurrentModification = errors.New("concurrent modification detected")

// DDBClient is the interface for DynamoDB operations.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// CommitStore wraps an S3 Store and routes CURRENT-pointer updates through
// DynamoDB conditional writes, so concurrent archivers cannot clobber each
// other: each commit claims the next version number, and a lost race
// surfaces as ErrConcurrentModification instead of silent overwrite.
//
// Table schema:
//   - Partition key: base_uri (string) - the S3 bucket/prefix
//   - Sort key: version (number) - monotonically increasing version
//
// Create the table with:
//
//	aws dynamodb create-table \
//	  --table-name rowgo-commits \
//	  --attribute-definitions AttributeName=base_uri,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=base_uri,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type CommitStore struct {
	store     *Store
	ddbClient DDBClient
	tableName string
	baseURI   string
}

// NewCommitStore creates an S3+DynamoDB commit store. baseURI is the
// partition key value, conventionally "s3://bucket/prefix".
func NewCommitStore(store *Store, ddbClient DDBClient, tableName, baseURI string) *CommitStore {
	return &CommitStore{
		store:     store,
		ddbClient: ddbClient,
		tableName: tableName,
		baseURI:   baseURI,
	}
}

// Open opens a blob for reading. CURRENT is resolved from DynamoDB.
func (s *CommitStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if name == blobstore.CurrentPointer {
		version, target, err := s.latestVersion(ctx)
		if err != nil {
			return nil, err
		}
		if version == 0 {
			return nil, blobstore.ErrNotFound
		}
		return io.NopCloser(bytes.NewReader([]byte(target))), nil
	}
	return s.store.Open(ctx, name)
}

// Put writes a blob. For CURRENT, the pointer is committed to DynamoDB with
// a conditional write instead of being stored as an object.
func (s *CommitStore) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	if name == blobstore.CurrentPointer {
		target, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		return s.commitVersion(ctx, string(target))
	}
	return s.store.Put(ctx, name, r, size)
}

// Delete removes a blob.
func (s *CommitStore) Delete(ctx context.Context, name string) error {
	return s.store.Delete(ctx, name)
}

// List returns blob names under prefix, sorted.
func (s *CommitStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.store.List(ctx, prefix)
}

// latestVersion queries DynamoDB for the latest committed version.
func (s *CommitStore) latestVersion(ctx context.Context) (uint64, string, error) {
	resp, err := s.ddbClient.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: s.baseURI},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("query commit table: %w", err)
	}

	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	item := resp.Items[0]
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("invalid version attribute in commit table")
	}
	targetAttr, ok := item["snapshot_path"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("invalid snapshot_path attribute in commit table")
	}

	var version uint64
	if _, err := fmt.Sscanf(versionAttr.Value, "%d", &version); err != nil {
		return 0, "", fmt.Errorf("parse version: %w", err)
	}
	return version, targetAttr.Value, nil
}

// commitVersion claims the next version number with a conditional put.
func (s *CommitStore) commitVersion(ctx context.Context, snapshotPath string) error {
	currentVersion, _, err := s.latestVersion(ctx)
	if err != nil {
		return err
	}

	newVersion := currentVersion + 1

	_, err = s.ddbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"base_uri":      &types.AttributeValueMemberS{Value: s.baseURI},
			"version":       &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", newVersion)},
			"snapshot_path": &types.AttributeValueMemberS{Value: snapshotPath},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConcurrentModification
		}
		return fmt.Errorf("commit version: %w", err)
	}
	return nil
}
