package channel

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Request actions.
const (
	ActionStart = "start"
	ActionStop  = "stop"
)

// Request is the on-demand directive the control plane writes to
// KeyRequest. Field names are the wire contract.
type Request struct {
	RequestID string `json:"request_id"`
	Action    string `json:"action"`
	PluginID  string `json:"plugin_id,omitempty"`
	Mode      string `json:"mode,omitempty"`

	// Duration is in seconds. Zero or absent means pinned.
	Duration float64 `json:"duration,omitempty"`
	Pinned   bool    `json:"pinned,omitempty"`

	// Timestamp is epoch seconds, informational only.
	Timestamp float64 `json:"timestamp,omitempty"`
}

// Validate checks the structural invariants a request must satisfy before
// the engine even looks at the registry.
func (r *Request) Validate() error {
	if r.RequestID == "" {
		return fmt.Errorf("request missing request_id")
	}
	switch r.Action {
	case ActionStart:
		if r.PluginID == "" && r.Mode == "" {
			return fmt.Errorf("start request needs plugin_id or mode")
		}
		if r.Duration < 0 {
			return fmt.Errorf("negative duration %v", r.Duration)
		}
	case ActionStop:
	default:
		return fmt.Errorf("unknown action %q", r.Action)
	}
	return nil
}

// State is the engine's published view of the on-demand lifecycle,
// written to KeyState after every transition and at the end of every
// slice. Nullable wire fields are pointers so the JSON carries explicit
// nulls, which the control plane relies on.
type State struct {
	Active      bool     `json:"active"`
	Status      string   `json:"status"` // idle | active | error
	Mode        *string  `json:"mode"`
	PluginID    *string  `json:"plugin_id"`
	Modes       []string `json:"modes"`
	ModeIndex   int      `json:"mode_index"`
	RequestedAt *float64 `json:"requested_at"`
	ExpiresAt   *float64 `json:"expires_at"`
	Remaining   *float64 `json:"remaining"`
	Pinned      bool     `json:"pinned"`
	LastEvent   *string  `json:"last_event"`
	LastError   *string  `json:"last_error"`
	LastUpdated float64  `json:"last_updated"`
}

// Session is the engine's snapshot of the active directive, written to
// KeyConfig so a restart can resume an on-demand request mid-flight.
type Session struct {
	Request   Request `json:"request"`
	StartedAt float64 `json:"started_at"`
	ExpiresAt float64 `json:"expires_at,omitempty"` // zero when pinned
	ResumeIdx int     `json:"resume_index"`
}

// DecodeRequest parses a KeyRequest value. Unknown fields are rejected so
// a control plane speaking a newer dialect fails loudly instead of being
// half-understood.
func DecodeRequest(data []byte) (*Request, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var r Request
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// EncodeState renders a State for KeyState.
func EncodeState(s *State) ([]byte, error) {
	return json.Marshal(s)
}

// DecodeState parses a KeyState value; used by tests and the debug
// endpoint.
func DecodeState(data []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &s, nil
}

// EncodeSession renders a Session for KeyConfig.
func EncodeSession(s *Session) ([]byte, error) {
	return json.Marshal(s)
}

// DecodeSession parses a KeyConfig value.
func DecodeSession(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

// StrPtr and F64Ptr build the nullable wire fields.
func StrPtr(s string) *string { return &s }

// F64Ptr returns a pointer to v.
func F64Ptr(v float64) *float64 { return &v }
