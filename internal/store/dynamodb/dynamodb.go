// Package dynamodb implements the delivery state store on DynamoDB. Claims
// are conditional UpdateItem calls, which makes them safe across any number
// of concurrently running senders.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/lupppig/notifysender/internal/domain"
	"github.com/lupppig/notifysender/internal/store"
)

// API is the subset of *dynamodb.Client the store uses.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

type Config struct {
	AttemptsTable string `yaml:"attempts_table"`
	OutcomesTable string `yaml:"outcomes_table"`
	// Namespace prefixes every key, so several ledgers can share tables.
	Namespace string `yaml:"namespace"`
}

type Store struct {
	client API
	cfg    Config
}

func New(client API, cfg Config) *Store {
	return &Store{client: client, cfg: cfg}
}

type attemptItem struct {
	PK             string `dynamodbav:"pk"`
	NotificationID string `dynamodbav:"notification_id"`
	RecipientID    string `dynamodbav:"recipient_id"`
	Channel        string `dynamodbav:"channel"`
	Status         string `dynamodbav:"status"`
	Attempts       int    `dynamodbav:"attempts"`
	LastAttemptAt  int64  `dynamodbav:"last_attempt_at"`
	ClaimedBy      string `dynamodbav:"claimed_by"`
	ClaimExpiresAt int64  `dynamodbav:"claim_expires_at"`
	LastError      string `dynamodbav:"last_error"`
}

type outcomeItem struct {
	PK             string `dynamodbav:"pk"`
	NotificationID string `dynamodbav:"notification_id"`
	RecipientID    string `dynamodbav:"recipient_id"`
	Outcome        string `dynamodbav:"outcome"`
	UpdatedAt      int64  `dynamodbav:"updated_at"`
	RemovedAt      *int64 `dynamodbav:"removed_at,omitempty"`
}

func (s *Store) attemptPK(key domain.DeliveryKey) string {
	return s.cfg.Namespace + "#" + key.String()
}

func (s *Store) outcomePK(id string) string {
	return s.cfg.Namespace + "#" + id
}

func pkKey(pk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"pk": &types.AttributeValueMemberS{Value: pk}}
}

func num(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func str(s string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: s}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func (s *Store) Get(ctx context.Context, key domain.DeliveryKey) (*domain.DeliveryAttemptRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.cfg.AttemptsTable),
		Key:            pkKey(s.attemptPK(key)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get delivery attempt %s: %w", key, err)
	}
	if out.Item == nil {
		return nil, store.ErrNotFound
	}

	var item attemptItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("decode delivery attempt %s: %w", key, err)
	}
	return &domain.DeliveryAttemptRecord{
		Key:            key,
		Status:         domain.DeliveryStatus(item.Status),
		Attempts:       item.Attempts,
		LastAttemptAt:  fromMillis(item.LastAttemptAt),
		ClaimedBy:      item.ClaimedBy,
		ClaimExpiresAt: fromMillis(item.ClaimExpiresAt),
		LastError:      item.LastError,
	}, nil
}

func (s *Store) TryClaim(ctx context.Context, key domain.DeliveryKey, claim store.Claim) (bool, error) {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.cfg.AttemptsTable),
		Key:       pkKey(s.attemptPK(key)),
		UpdateExpression: aws.String("SET #status = :pending, #attempts = if_not_exists(#attempts, :zero) + :one, " +
			"#last = :now, #owner = :owner, #expires = :expires, #nid = :nid, #rid = :rid, #ch = :ch"),
		ConditionExpression: aws.String("attribute_not_exists(pk) OR #status = :failed OR " +
			"(#status = :pending AND #expires <= :now)"),
		ExpressionAttributeNames: map[string]string{
			"#status":   "status",
			"#attempts": "attempts",
			"#last":     "last_attempt_at",
			"#owner":    "claimed_by",
			"#expires":  "claim_expires_at",
			"#nid":      "notification_id",
			"#rid":      "recipient_id",
			"#ch":       "channel",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pending": str(string(domain.DeliveryStatusPending)),
			":failed":  str(string(domain.DeliveryStatusFailed)),
			":zero":    num(0),
			":one":     num(1),
			":now":     num(claim.At.UnixMilli()),
			":owner":   str(claim.Owner),
			":expires": num(claim.ExpiresAt().UnixMilli()),
			":nid":     str(key.NotificationID),
			":rid":     str(key.RecipientID),
			":ch":      str(string(key.Channel)),
		},
	})
	if isConditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim delivery attempt %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) RecordResult(ctx context.Context, key domain.DeliveryKey, result store.Result) error {
	names := map[string]string{
		"#status":  "status",
		"#err":     "last_error",
		"#last":    "last_attempt_at",
		"#owner":   "claimed_by",
		"#expires": "claim_expires_at",
	}
	values := map[string]types.AttributeValue{
		":status":    str(string(result.Status())),
		":err":       str(result.Error),
		":at":        num(result.At.UnixMilli()),
		":none":      str(""),
		":zero":      num(0),
		":delivered": str(string(domain.DeliveryStatusDelivered)),
	}

	condition := "attribute_exists(pk) AND #status <> :delivered"
	if !result.Delivered {
		condition += " AND #owner = :owner"
		values[":owner"] = str(result.Owner)
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.cfg.AttemptsTable),
		Key:                       pkKey(s.attemptPK(key)),
		UpdateExpression:          aws.String("SET #status = :status, #err = :err, #last = :at, #owner = :none, #expires = :zero"),
		ConditionExpression:       aws.String(condition),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if isConditionFailed(err) {
		if result.Delivered {
			if rec, getErr := s.Get(ctx, key); getErr == nil && rec.Status == domain.DeliveryStatusDelivered {
				return nil
			}
		}
		return store.ErrClaimLost
	}
	if err != nil {
		return fmt.Errorf("record delivery result %s: %w", key, err)
	}
	return nil
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func (s *Store) Close() error {
	return nil
}

var _ store.Store = (*Store)(nil)
