package relay

import (
	"encoding/json"
	"fmt"
)

// Action is the closed set of relay operations. Unknown action strings are
// rejected when the request is decoded, not deep inside a dispatch switch.
type Action int

const (
	// ActionTest sends a test notification to the chat.
	ActionTest Action = iota

	// ActionValidate checks whether the chat ID is deliverable.
	ActionValidate
)

func (a Action) String() string {
	switch a {
	case ActionTest:
		return "test"
	case ActionValidate:
		return "validate"
	}
	return "unknown"
}

// UnmarshalJSON maps the wire strings "test" and "validate" onto the closed
// Action set.
func (a *Action) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("action must be a string: %w", err)
	}

	switch raw {
	case "test":
		*a = ActionTest
	case "validate":
		*a = ActionValidate
	default:
		return fmt.Errorf("unknown action %q", raw)
	}

	return nil
}

func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}
