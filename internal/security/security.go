package security

import (
	"crypto/sha256"
	"fmt"
	"os"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	RunPrefix = "run_"
	Alphabet  = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// NewRunID returns a random, URL-safe run identifier.
func NewRunID() (string, error) {
	id, err := gonanoid.Generate(Alphabet, 16)
	if err != nil {
		return "", err
	}
	return RunPrefix + id, nil
}

// NewOwner returns the claim owner token for a run. It names the host so a
// stuck claim can be traced to the process that took it.
func NewOwner(runID string) (string, error) {
	suffix, err := gonanoid.Generate(Alphabet, 8)
	if err != nil {
		return "", err
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s@%s/%s", runID, host, suffix), nil
}

// Fingerprint returns a short SHA-256 prefix of a secret, safe to log.
func Fingerprint(secret string) string {
	hash := sha256.Sum256([]byte(secret))
	return fmt.Sprintf("%x", hash[:6])
}
