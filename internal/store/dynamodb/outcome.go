package dynamodb

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/lupppig/notifysender/internal/domain"
	"github.com/lupppig/notifysender/internal/store"
)

func (s *Store) SaveOutcome(ctx context.Context, rec domain.OutcomeRecord) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.cfg.OutcomesTable),
		Key:              pkKey(s.outcomePK(rec.NotificationID)),
		UpdateExpression: aws.String("SET #nid = :nid, #rid = :rid, #outcome = :outcome, #updated = :updated"),
		ExpressionAttributeNames: map[string]string{
			"#nid":     "notification_id",
			"#rid":     "recipient_id",
			"#outcome": "outcome",
			"#updated": "updated_at",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":nid":     str(rec.NotificationID),
			":rid":     str(rec.RecipientID),
			":outcome": str(string(rec.Outcome)),
			":updated": num(rec.UpdatedAt.UnixMilli()),
		},
	})
	if err != nil {
		return fmt.Errorf("save outcome %s: %w", rec.NotificationID, err)
	}
	return nil
}

// ListOutcomes scans the outcome table. The table only holds notifications
// still known to the ledger plus removed tombstones, so a filtered scan stays
// proportional to the pending backlog.
func (s *Store) ListOutcomes(ctx context.Context, outcome domain.Outcome, limit int) ([]domain.OutcomeRecord, error) {
	input := &dynamodb.ScanInput{
		TableName:        aws.String(s.cfg.OutcomesTable),
		FilterExpression: aws.String("#outcome = :outcome AND attribute_not_exists(#removed)"),
		ExpressionAttributeNames: map[string]string{
			"#outcome": "outcome",
			"#removed": "removed_at",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":outcome": str(string(outcome)),
		},
		ConsistentRead: aws.Bool(true),
	}

	prefix := s.cfg.Namespace + "#"
	var out []domain.OutcomeRecord
	paginator := dynamodb.NewScanPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan outcomes: %w", err)
		}

		var items []outcomeItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("decode outcomes: %w", err)
		}
		for _, item := range items {
			if !strings.HasPrefix(item.PK, prefix) {
				continue
			}
			out = append(out, domain.OutcomeRecord{
				NotificationID: item.NotificationID,
				RecipientID:    item.RecipientID,
				Outcome:        domain.Outcome(item.Outcome),
				UpdatedAt:      fromMillis(item.UpdatedAt),
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].NotificationID < out[j].NotificationID
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkRemoved(ctx context.Context, notificationID string, at time.Time) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(s.cfg.OutcomesTable),
		Key:                      pkKey(s.outcomePK(notificationID)),
		UpdateExpression:         aws.String("SET #removed = :at"),
		ConditionExpression:      aws.String("attribute_exists(pk)"),
		ExpressionAttributeNames: map[string]string{"#removed": "removed_at"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":at": num(at.UnixMilli()),
		},
	})
	if isConditionFailed(err) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("mark removed %s: %w", notificationID, err)
	}
	return nil
}
