package ledger

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lupppig/notifysender/internal/domain"
)

type fileNotification struct {
	ID          string            `yaml:"id"`
	RecipientID string            `yaml:"recipient_id"`
	Title       string            `yaml:"title"`
	Body        string            `yaml:"body"`
	Metadata    map[string]string `yaml:"metadata"`
	CreatedAt   time.Time         `yaml:"created_at"`
}

// LoadFile seeds a Memory ledger from a YAML list of notifications. Removals
// are kept in memory only.
func LoadFile(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger file: %w", err)
	}
	return ParseFile(data)
}

func ParseFile(data []byte) (*Memory, error) {
	var doc struct {
		Notifications []fileNotification `yaml:"notifications"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse ledger file: %w", err)
	}

	m := NewMemory()
	for i, n := range doc.Notifications {
		if n.ID == "" || n.RecipientID == "" {
			return nil, fmt.Errorf("notification %d: id and recipient_id are required", i)
		}
		m.Add(domain.Notification{
			ID:          n.ID,
			RecipientID: n.RecipientID,
			Payload:     domain.Payload{Title: n.Title, Body: n.Body, Metadata: n.Metadata},
			CreatedAt:   n.CreatedAt,
		})
	}
	return m, nil
}
