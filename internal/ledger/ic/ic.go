// Package ic is the ledger gateway backed by the notifications canister on
// the Internet Computer.
package ic

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aviate-labs/agent-go"
	"github.com/aviate-labs/agent-go/identity"
	"github.com/aviate-labs/agent-go/principal"

	"github.com/lupppig/notifysender/internal/domain"
	"github.com/lupppig/notifysender/internal/ledger"
	"github.com/lupppig/notifysender/internal/logging"
)

const (
	methodPending = "pending_notifications"
	methodRemove  = "remove_notification"

	defaultPageSize = 100
)

// Caller is the subset of *agent.Agent used by the gateway.
type Caller interface {
	Query(canisterID principal.Principal, methodName string, args []any, values []any) error
	Call(canisterID principal.Principal, methodName string, args []any, values []any) error
}

type Config struct {
	CanisterID string `yaml:"canister_id"`
	URL        string `yaml:"url"`
	// IdentityPEM is either the PEM text itself or a path to a PEM file.
	IdentityPEM  string `yaml:"identity_pem"`
	FetchRootKey bool   `yaml:"fetch_root_key"`
	PageSize     int    `yaml:"page_size"`
}

type pendingArgs struct {
	After *uint64 `ic:"after"`
	Limit uint32  `ic:"limit"`
}

type metadataEntry struct {
	Key   string `ic:"key"`
	Value string `ic:"value"`
}

type candidNotification struct {
	ID        uint64              `ic:"id"`
	Recipient principal.Principal `ic:"recipient"`
	Title     string              `ic:"title"`
	Body      string              `ic:"body"`
	Metadata  []metadataEntry     `ic:"metadata"`
	// Nanoseconds since the epoch, as reported by the canister clock.
	CreatedAt uint64 `ic:"created_at"`
}

type Gateway struct {
	caller   Caller
	canister principal.Principal
	pageSize int
}

// Dial builds an agent from cfg and returns a gateway bound to the
// configured canister.
func Dial(cfg Config) (*Gateway, error) {
	canister, err := principal.Decode(cfg.CanisterID)
	if err != nil {
		return nil, fmt.Errorf("decode canister id %q: %w", cfg.CanisterID, err)
	}
	host, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse ic url: %w", err)
	}
	id, err := LoadIdentity(cfg.IdentityPEM)
	if err != nil {
		return nil, err
	}

	a, err := agent.New(agent.Config{
		Identity:     id,
		ClientConfig: &agent.ClientConfig{Host: host},
		FetchRootKey: cfg.FetchRootKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create ic agent: %w", err)
	}

	slog.Info("IC agent ready",
		slog.String("code", "SYS_STARTUP"),
		slog.String("canister", canister.String()),
		slog.String("host", host.Host),
		slog.Bool("fetch_root_key", cfg.FetchRootKey))

	return New(a, canister, cfg.PageSize), nil
}

func New(caller Caller, canister principal.Principal, pageSize int) *Gateway {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Gateway{caller: caller, canister: canister, pageSize: pageSize}
}

// LoadIdentity parses a secp256k1 or ed25519 PEM. An empty value yields the
// anonymous identity.
func LoadIdentity(pemOrPath string) (identity.Identity, error) {
	if strings.TrimSpace(pemOrPath) == "" {
		return new(identity.AnonymousIdentity), nil
	}

	data := []byte(pemOrPath)
	if !strings.Contains(pemOrPath, "-----BEGIN") {
		raw, err := os.ReadFile(pemOrPath)
		if err != nil {
			return nil, fmt.Errorf("read identity pem: %w", err)
		}
		data = raw
	}

	if id, err := identity.NewSecp256k1IdentityFromPEM(data); err == nil {
		return id, nil
	}
	id, err := identity.NewEd25519IdentityFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("parse identity pem: not a secp256k1 or ed25519 key: %w", err)
	}
	return id, nil
}

func (g *Gateway) FetchPending(ctx context.Context, filter ledger.Filter) ([]domain.Notification, error) {
	var after *uint64
	if filter.After != "" {
		n, err := parseID(filter.After)
		if err != nil {
			return nil, err
		}
		after = &n
	}

	var out []domain.Notification
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("fetch pending notifications: %w", err)
		}

		size := g.pageSize
		if filter.Limit > 0 && filter.Limit-len(out) < size {
			size = filter.Limit - len(out)
		}

		var page []candidNotification
		args := pendingArgs{After: after, Limit: uint32(size)}
		if err := g.caller.Query(g.canister, methodPending, []any{args}, []any{&page}); err != nil {
			return nil, fmt.Errorf("query %s: %w", methodPending, err)
		}

		for _, n := range page {
			out = append(out, toDomain(n))
		}
		logging.FromContext(ctx).Debug("fetched ledger page",
			slog.Int("page", len(page)),
			slog.Int("total", len(out)))

		if len(page) < size || (filter.Limit > 0 && len(out) >= filter.Limit) {
			return out, nil
		}
		last := page[len(page)-1].ID
		after = &last
	}
}

func (g *Gateway) Remove(ctx context.Context, id string) error {
	n, err := parseID(id)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("remove notification %s: %w", id, err)
	}

	var removed bool
	if err := g.caller.Call(g.canister, methodRemove, []any{n}, []any{&removed}); err != nil {
		return fmt.Errorf("call %s(%s): %w", methodRemove, id, err)
	}
	if !removed {
		return ledger.ErrNotFound
	}
	return nil
}

func toDomain(n candidNotification) domain.Notification {
	var metadata map[string]string
	if len(n.Metadata) > 0 {
		metadata = make(map[string]string, len(n.Metadata))
		for _, e := range n.Metadata {
			metadata[e.Key] = e.Value
		}
	}
	return domain.Notification{
		ID:          strconv.FormatUint(n.ID, 10),
		RecipientID: n.Recipient.String(),
		Payload: domain.Payload{
			Title:    n.Title,
			Body:     n.Body,
			Metadata: metadata,
		},
		CreatedAt: time.Unix(0, int64(n.CreatedAt)).UTC(),
	}
}

func parseID(id string) (uint64, error) {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid notification id %q: %w", id, err)
	}
	return n, nil
}

var _ ledger.Gateway = (*Gateway)(nil)
