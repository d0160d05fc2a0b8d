// Package sns sends push notifications to mobile platform endpoints
// registered in Amazon SNS.
package sns

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/lupppig/notifysender/internal/domain"
)

type API interface {
	Publish(ctx context.Context, in *sns.PublishInput, opts ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type Sender struct {
	client API
}

func New(client API) *Sender {
	return &Sender{client: client}
}

type gcmMessage struct {
	Notification struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	} `json:"notification"`
	Data map[string]string `json:"data,omitempty"`
}

type apnsMessage struct {
	APS struct {
		Alert struct {
			Title string `json:"title"`
			Body  string `json:"body"`
		} `json:"alert"`
	} `json:"aps"`
	Data map[string]string `json:"data,omitempty"`
}

// Message renders payload in SNS's per-platform JSON message structure.
func Message(payload domain.Payload) (string, error) {
	var gcm gcmMessage
	gcm.Notification.Title = payload.Title
	gcm.Notification.Body = payload.Body
	gcm.Data = payload.Metadata

	var apns apnsMessage
	apns.APS.Alert.Title = payload.Title
	apns.APS.Alert.Body = payload.Body
	apns.Data = payload.Metadata

	gcmJSON, err := json.Marshal(gcm)
	if err != nil {
		return "", err
	}
	apnsJSON, err := json.Marshal(apns)
	if err != nil {
		return "", err
	}

	msg, err := json.Marshal(map[string]string{
		"default":      payload.Body,
		"GCM":          string(gcmJSON),
		"APNS":         string(apnsJSON),
		"APNS_SANDBOX": string(apnsJSON),
	})
	if err != nil {
		return "", err
	}
	return string(msg), nil
}

// Send publishes to the platform endpoint whose ARN is address.
func (s *Sender) Send(ctx context.Context, address string, payload domain.Payload) error {
	msg, err := Message(payload)
	if err != nil {
		return fmt.Errorf("encode sns message: %w", err)
	}

	_, err = s.client.Publish(ctx, &sns.PublishInput{
		TargetArn:        aws.String(address),
		Message:          aws.String(msg),
		MessageStructure: aws.String("json"),
	})
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}
	return nil
}
