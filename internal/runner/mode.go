package runner

import (
	"fmt"
	"strings"
)

// Mode selects what a run does. The zero value is invalid.
type Mode int

const (
	SendNotifications Mode = iota + 1
	RemoveNotifications
)

func (m Mode) String() string {
	switch m {
	case SendNotifications:
		return "SendNotifications"
	case RemoveNotifications:
		return "RemoveNotifications"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts the canonical names as well as the short CLI forms
// "send" and "remove", case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sendnotifications", "send":
		return SendNotifications, nil
	case "removenotifications", "remove":
		return RemoveNotifications, nil
	default:
		return 0, fmt.Errorf("unknown run mode %q", s)
	}
}

func (m Mode) MarshalText() ([]byte, error) {
	if m != SendNotifications && m != RemoveNotifications {
		return nil, fmt.Errorf("invalid run mode %d", int(m))
	}
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Request is the invocation payload shared by the Lambda handler and the
// HTTP trigger: {"run_mode": "SendNotifications"}.
type Request struct {
	RunMode Mode `json:"run_mode"`
}
