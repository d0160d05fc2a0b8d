package directory

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lupppig/notifysender/internal/domain"
)

// File is a read-only directory loaded from a YAML document of the form
//
//	recipients:
//	  <recipient id>:
//	    - channel: email
//	      address: someone@example.com
//	      enabled: true
type File struct {
	recipients map[string][]domain.RecipientEndpoint
}

type fileDoc struct {
	Recipients map[string][]domain.RecipientEndpoint `yaml:"recipients"`
}

func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory file: %w", err)
	}
	return ParseFile(data)
}

func ParseFile(data []byte) (*File, error) {
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse directory file: %w", err)
	}
	for id, eps := range doc.Recipients {
		for _, ep := range eps {
			if !ep.Channel.Valid() {
				return nil, fmt.Errorf("recipient %s: unknown channel %q", id, ep.Channel)
			}
		}
	}
	if doc.Recipients == nil {
		doc.Recipients = make(map[string][]domain.RecipientEndpoint)
	}
	return &File{recipients: doc.Recipients}, nil
}

func (f *File) Lookup(_ context.Context, recipientID string) ([]domain.RecipientEndpoint, error) {
	eps := f.recipients[recipientID]
	return append([]domain.RecipientEndpoint(nil), eps...), nil
}

var _ Directory = (*File)(nil)
