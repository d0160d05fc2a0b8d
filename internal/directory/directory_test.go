package directory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lupppig/notifysender/internal/domain"
)

const sampleFile = `
recipients:
  alice:
    - channel: push
      address: arn:aws:sns:eu-west-2:1:endpoint/GCM/app/alice
      enabled: true
    - channel: email
      address: alice@example.com
      enabled: false
  bob:
    - channel: email
      address: bob@example.com
      enabled: true
`

func TestFileLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recipients.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleFile), 0o644))

	dir, err := LoadFile(path)
	require.NoError(t, err)

	eps, err := dir.Lookup(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, eps, 2)
	assert.Equal(t, domain.ChannelPush, eps[0].Channel)
	assert.False(t, eps[1].Enabled)

	eps, err = dir.Lookup(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, eps)
}

func TestFileRejectsUnknownChannel(t *testing.T) {
	_, err := ParseFile([]byte("recipients:\n  x:\n    - channel: sms\n      address: '1'\n"))
	assert.ErrorContains(t, err, "unknown channel")
}

func TestUnavailableWraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := Unavailable(cause)

	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, cause)
}
