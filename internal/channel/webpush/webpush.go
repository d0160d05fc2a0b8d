// Package webpush sends push notifications through an HTTP push gateway.
package webpush

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lupppig/notifysender/internal/domain"
	"github.com/lupppig/notifysender/internal/httpclient"
)

type Config struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

type Sender struct {
	client *httpclient.Client
	cfg    Config
}

type message struct {
	To    string            `json:"to"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

func New(client *httpclient.Client, cfg Config) *Sender {
	return &Sender{client: client, cfg: cfg}
}

func (s *Sender) Send(ctx context.Context, address string, payload domain.Payload) error {
	body, err := json.Marshal(message{
		To:    address,
		Title: payload.Title,
		Body:  payload.Body,
		Data:  payload.Metadata,
	})
	if err != nil {
		return fmt.Errorf("encode push message: %w", err)
	}

	var headers map[string]string
	if s.cfg.Token != "" {
		headers = map[string]string{"Authorization": "Bearer " + s.cfg.Token}
	}

	resp, err := s.client.Post(ctx, s.cfg.URL, headers, body)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("push gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(resp.Body))
	}
	return nil
}
