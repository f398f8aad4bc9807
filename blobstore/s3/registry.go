package s3

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/huevec/blobstore"
)

// DDBClient is the subset of the DynamoDB API the registry uses.
// *dynamodb.Client satisfies it.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Registry implements blobstore.RevisionRegistry on DynamoDB. S3 has
// no compare-and-swap, so concurrent publishers of the same revision
// are arbitrated by a conditional put: the first commit wins, later
// ones fail with blobstore.ErrRevisionCommitted.
//
// Table schema:
//   - Partition key: dataset (string)
//   - Sort key: revision (string)
//
// Create with:
//
//	aws dynamodb create-table \
//	  --table-name huevec-revisions \
//	  --attribute-definitions AttributeName=dataset,AttributeType=S AttributeName=revision,AttributeType=S \
//	  --key-schema AttributeName=dataset,KeyType=HASH AttributeName=revision,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type Registry struct {
	client  DDBClient
	table   string
	dataset string
}

// NewRegistry creates a registry on the given table. dataset keys the
// partition, so one table can serve several vector collections.
func NewRegistry(client DDBClient, table, dataset string) *Registry {
	return &Registry{
		client:  client,
		table:   table,
		dataset: dataset,
	}
}

// Commit implements blobstore.RevisionRegistry.
func (r *Registry) Commit(ctx context.Context, revision, manifestPath string) error {
	_, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.table),
		Item: map[string]types.AttributeValue{
			"dataset":       &types.AttributeValueMemberS{Value: r.dataset},
			"revision":      &types.AttributeValueMemberS{Value: revision},
			"manifest_path": &types.AttributeValueMemberS{Value: manifestPath},
			"committed_at":  &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
		ConditionExpression: aws.String("attribute_not_exists(revision)"),
	})
	if err != nil {
		var cond *types.ConditionalCheckFailedException
		if errors.As(err, &cond) {
			return fmt.Errorf("s3: revision %q: %w", revision, blobstore.ErrRevisionCommitted)
		}
		return fmt.Errorf("s3: commit revision %q: %w", revision, err)
	}

	return nil
}

// Lookup implements blobstore.RevisionRegistry.
func (r *Registry) Lookup(ctx context.Context, revision string) (string, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.table),
		Key: map[string]types.AttributeValue{
			"dataset":  &types.AttributeValueMemberS{Value: r.dataset},
			"revision": &types.AttributeValueMemberS{Value: revision},
		},
	})
	if err != nil {
		return "", fmt.Errorf("s3: lookup revision %q: %w", revision, err)
	}
	if len(out.Item) == 0 {
		return "", blobstore.ErrNotFound
	}

	path, ok := out.Item["manifest_path"].(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("s3: revision %q: malformed registry item", revision)
	}

	return path.Value, nil
}

// Revisions returns all committed revisions of the dataset.
func (r *Registry) Revisions(ctx context.Context) ([]string, error) {
	var revisions []string

	var startKey map[string]types.AttributeValue
	for {
		out, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(r.table),
			KeyConditionExpression: aws.String("dataset = :d"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":d": &types.AttributeValueMemberS{Value: r.dataset},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("s3: list revisions: %w", err)
		}

		for _, item := range out.Items {
			if rev, ok := item["revision"].(*types.AttributeValueMemberS); ok {
				revisions = append(revisions, rev.Value)
			}
		}

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	return revisions, nil
}
