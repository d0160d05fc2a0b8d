// Package dynamodb reads recipient endpoints from a DynamoDB table keyed by
// recipient_id (partition) and endpoint (sort, "<channel>#<address>").
package dynamodb

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/lupppig/notifysender/internal/directory"
	"github.com/lupppig/notifysender/internal/domain"
)

type Directory struct {
	client dynamodb.QueryAPIClient
	table  string
}

type endpointItem struct {
	RecipientID string `dynamodbav:"recipient_id"`
	Endpoint    string `dynamodbav:"endpoint"`
	Channel     string `dynamodbav:"channel"`
	Address     string `dynamodbav:"address"`
	Enabled     bool   `dynamodbav:"enabled"`
}

func New(client dynamodb.QueryAPIClient, table string) *Directory {
	return &Directory{client: client, table: table}
}

func (d *Directory) Lookup(ctx context.Context, recipientID string) ([]domain.RecipientEndpoint, error) {
	paginator := dynamodb.NewQueryPaginator(d.client, &dynamodb.QueryInput{
		TableName:              aws.String(d.table),
		KeyConditionExpression: aws.String("recipient_id = :rid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":rid": &types.AttributeValueMemberS{Value: recipientID},
		},
	})

	var eps []domain.RecipientEndpoint
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, directory.Unavailable(fmt.Errorf("query endpoints of %s: %w", recipientID, err))
		}

		var items []endpointItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("decode endpoints of %s: %w", recipientID, err)
		}
		for _, item := range items {
			eps = append(eps, domain.RecipientEndpoint{
				Channel: domain.ChannelKind(item.Channel),
				Address: item.Address,
				Enabled: item.Enabled,
			})
		}
	}
	return eps, nil
}

// Item renders an endpoint in the table's item layout.
func Item(recipientID string, ep domain.RecipientEndpoint) (map[string]types.AttributeValue, error) {
	return attributevalue.MarshalMap(endpointItem{
		RecipientID: recipientID,
		Endpoint:    string(ep.Channel) + "#" + ep.Address,
		Channel:     string(ep.Channel),
		Address:     ep.Address,
		Enabled:     ep.Enabled,
	})
}

var _ directory.Directory = (*Directory)(nil)
