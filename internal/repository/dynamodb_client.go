package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"openrouter-proxy/internal/domain"
)

const (
	pkPrefixRoute = "ROUTE#"
	skPrefixTS    = "TS#"
	ttlDuration   = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Client writes exchange records to a DynamoDB table.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// routePK returns the partition key for a route.
func routePK(route string) string {
	return pkPrefixRoute + route
}

// exchangeSK orders records of a route chronologically; the id keeps
// concurrent records with equal timestamps distinct.
func exchangeSK(ts time.Time, id string) string {
	return skPrefixTS + ts.UTC().Format(time.RFC3339Nano) + "#" + id
}

// ttlValue returns a Unix timestamp 30 days after ts.
func ttlValue(ts time.Time) int64 {
	return ts.Add(ttlDuration).Unix()
}

// NewExchange constructs an Exchange with keys and TTL derived from the current time.
func NewExchange(route string, status int, correlationID, model string, elapsed time.Duration) domain.Exchange {
	now := time.Now().UTC()
	id := uuid.NewString()
	return domain.Exchange{
		PK:            routePK(route),
		SK:            exchangeSK(now, id),
		ID:            id,
		Route:         route,
		Status:        status,
		CorrelationID: correlationID,
		Model:         model,
		DurationMs:    elapsed.Milliseconds(),
		CreatedAt:     now.Format(time.RFC3339Nano),
		TTL:           ttlValue(now),
	}
}

// Record persists one exchange record. Records are immutable, so an existing
// key is an error.
func (c *Client) Record(ctx context.Context, ex domain.Exchange) error {
	if ex.PK == "" || ex.SK == "" {
		return errors.New("repository: Record: PK and SK are required")
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                exchangeItem(ex),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: Record: %w", err)
	}
	return nil
}

func exchangeItem(ex domain.Exchange) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":            &types.AttributeValueMemberS{Value: ex.PK},
		"SK":            &types.AttributeValueMemberS{Value: ex.SK},
		"id":            &types.AttributeValueMemberS{Value: ex.ID},
		"route":         &types.AttributeValueMemberS{Value: ex.Route},
		"status":        &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ex.Status)},
		"correlationId": &types.AttributeValueMemberS{Value: ex.CorrelationID},
		"model":         &types.AttributeValueMemberS{Value: ex.Model},
		"durationMs":    &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ex.DurationMs)},
		"createdAt":     &types.AttributeValueMemberS{Value: ex.CreatedAt},
		"ttl":           &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ex.TTL)},
	}
}
