package widget

import (
	"fmt"
	"time"
)

// Position places the widget panel on the host page.
type Position string

const (
	BottomRight Position = "bottom-right"
	BottomLeft  Position = "bottom-left"
	TopRight    Position = "top-right"
	TopLeft     Position = "top-left"
)

// ParsePosition validates a configured position.
func ParsePosition(raw string) (Position, error) {
	switch p := Position(raw); p {
	case BottomRight, BottomLeft, TopRight, TopLeft:
		return p, nil
	}
	return "", fmt.Errorf("unknown widget position %q", raw)
}

// DefaultBackendURL is the production chat backend.
const DefaultBackendURL = "https://podc-chatbot-backend-v2.onrender.com"

// Config is the embedding configuration of a widget mount.
type Config struct {
	BackendURL string   `json:"backendUrl"`
	Position   Position `json:"position"`
	Theme      string   `json:"theme"`
}

// DefaultConfig returns the configuration used when the embedder sets nothing.
func DefaultConfig() Config {
	return Config{
		BackendURL: DefaultBackendURL,
		Position:   BottomRight,
		Theme:      "light",
	}
}

// Decision is the user's answer to the consent prompt.
type Decision string

const (
	Accept  Decision = "accept"
	Decline Decision = "decline"
)

// ParseDecision validates a consent decision.
func ParseDecision(raw string) (Decision, error) {
	switch d := Decision(raw); d {
	case Accept, Decline:
		return d, nil
	}
	return "", fmt.Errorf("unknown consent decision %q", raw)
}

// Input describes the state of the text input and send control.
type Input struct {
	Enabled     bool   `json:"enabled"`
	Placeholder string `json:"placeholder"`
	Focused     bool   `json:"focused"`
}

// Snapshot is a point-in-time copy of a session for rendering.
type Snapshot struct {
	ID              string    `json:"id"`
	Config          Config    `json:"config"`
	Open            bool      `json:"open"`
	IntroShown      bool      `json:"introShown"`
	Accepted        bool      `json:"accepted"`
	Pending         bool      `json:"pending"`
	ConsentControls bool      `json:"consentControls"`
	Input           Input     `json:"input"`
	Messages        []Message `json:"messages"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Event kinds published while a session changes.
const (
	EventMessage = "message"
	EventState   = "state"
	EventNotice  = "notice"
)

// Event is pushed to live subscribers of a session.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId"`
	Message   *Message  `json:"message,omitempty"`
	State     *Snapshot `json:"state,omitempty"`
	Notice    string    `json:"notice,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// ChatReply is a validated ChatBackend answer.
type ChatReply struct {
	Response  string
	Citations []Citation
}

// FlagReport is the body sent to the FlagBackend.
type FlagReport struct {
	FlaggedText string `json:"flaggedText"`
	UserPrompt  string `json:"userPrompt"`
	Timestamp   string `json:"timestamp"`
}
