package domain

import "time"

type ChannelKind string

const (
	ChannelPush  ChannelKind = "push"
	ChannelEmail ChannelKind = "email"
)

// Valid reports whether k is a channel kind the dispatcher knows how to route.
func (k ChannelKind) Valid() bool {
	return k == ChannelPush || k == ChannelEmail
}

type Payload struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Notification is a transient copy of a ledger record. The ledger owns it;
// the dispatcher never mutates it.
type Notification struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipient_id"`
	Payload     Payload   `json:"payload"`
	CreatedAt   time.Time `json:"created_at"`
}

type RecipientEndpoint struct {
	Channel ChannelKind `json:"channel" yaml:"channel"`
	Address string      `json:"address" yaml:"address"`
	Enabled bool        `json:"enabled" yaml:"enabled"`
}

// EnabledChannels groups the enabled endpoint addresses by channel kind.
// Endpoints with an unknown kind or an empty address are dropped.
func EnabledChannels(endpoints []RecipientEndpoint) map[ChannelKind][]string {
	out := make(map[ChannelKind][]string)
	for _, ep := range endpoints {
		if !ep.Enabled || ep.Address == "" || !ep.Channel.Valid() {
			continue
		}
		out[ep.Channel] = append(out[ep.Channel], ep.Address)
	}
	return out
}
