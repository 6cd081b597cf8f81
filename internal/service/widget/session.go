package widget

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/podc/assistant-widget/internal/metrics"
	"github.com/podc/assistant-widget/internal/model/widget"
	"github.com/podc/assistant-widget/internal/render"
	"github.com/podc/assistant-widget/internal/service/backend"
)

var (
	ErrEmptyMessage    = errors.New("message is empty")
	ErrInputDisabled   = errors.New("input is disabled until the consent prompt is accepted")
	ErrBusy            = errors.New("a message is already awaiting a reply")
	ErrConsentClosed   = errors.New("consent prompt is not available")
	ErrMessageNotFound = errors.New("message not found")
	ErrNotFlaggable    = errors.New("message cannot be flagged")
	ErrAlreadyFlagged  = errors.New("message already flagged")
)

// isoMillis matches the browser's toISOString output.
const isoMillis = "2006-01-02T15:04:05.000Z"

// ChatBackend answers user messages.
type ChatBackend interface {
	Chat(ctx context.Context, message string) (widget.ChatReply, error)
}

// FlagBackend records flagged replies.
type FlagBackend interface {
	Flag(ctx context.Context, report widget.FlagReport) error
}

// Renderer converts bot markdown into HTML.
type Renderer interface {
	Markdown(src string) (string, error)
}

// Publisher receives session events. Publish must not block.
type Publisher interface {
	Publish(sessionID string, event widget.Event)
}

// Deps are the collaborators shared by every session of a Service.
type Deps struct {
	Chat     ChatBackend
	Flags    FlagBackend
	Renderer Renderer
	Events   Publisher
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// Session is the state of one widget mount. All fields are guarded by mu,
// which is never held across a backend call.
type Session struct {
	mu   sync.Mutex
	id   string
	cfg  widget.Config
	deps Deps

	open            bool
	introShown      bool
	accepted        bool
	pending         bool
	inputEnabled    bool
	inputFocused    bool
	consentControls bool
	placeholder     string
	lastUserMessage string
	messages        []widget.Message

	createdAt  time.Time
	lastActive time.Time
}

func newSession(cfg widget.Config, deps Deps) *Session {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	now := deps.Now().UTC()
	return &Session{
		id:          uuid.NewString(),
		cfg:         cfg,
		deps:        deps,
		placeholder: widget.PlaceholderIdle,
		messages:    make([]widget.Message, 0, 16),
		createdAt:   now,
		lastActive:  now,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// LastActive reports when the session was last touched.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// ToggleOpen flips panel visibility. The first time the panel opens the
// greeting with its consent controls is appended. Returns the new state.
func (s *Session) ToggleOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()

	s.open = !s.open
	if s.open && !s.introShown {
		s.appendLocked(widget.SenderBot, widget.GreetingText, nil, true)
		s.introShown = true
		s.consentControls = true
	}
	s.publishStateLocked()
	return s.open
}

// RespondToConsent applies the user's answer to the consent prompt. Accept is
// final and removes the controls; decline keeps them so the user may answer again.
func (s *Session) RespondToConsent(decision widget.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()

	if !s.consentControls {
		return ErrConsentClosed
	}

	switch decision {
	case widget.Accept:
		s.accepted = true
		s.inputEnabled = true
		s.consentControls = false
		s.appendLocked(widget.SenderBot, widget.AcceptedText, nil, false)
	case widget.Decline:
		s.inputEnabled = false
		s.appendLocked(widget.SenderBot, widget.DeclinedText, nil, false)
	default:
		return errors.New("unknown consent decision")
	}

	s.publishStateLocked()
	return nil
}

// SendMessage records the user's text, asks the chat backend and appends the
// reply. Backend failures become bot messages rather than errors; the returned
// error only reports a rejected send. Cancelling ctx does not abort the
// backend call.
func (s *Session) SendMessage(ctx context.Context, text string) (widget.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return widget.Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.pending {
		s.mu.Unlock()
		return widget.Message{}, ErrBusy
	}
	if !s.inputEnabled {
		s.mu.Unlock()
		return widget.Message{}, ErrInputDisabled
	}

	s.touchLocked()
	s.lastUserMessage = text
	s.appendLocked(widget.SenderUser, text, nil, false)
	s.pending = true
	s.inputEnabled = false
	s.inputFocused = false
	s.placeholder = widget.PlaceholderPending
	s.publishStateLocked()
	s.mu.Unlock()

	// A started exchange always completes, even if the caller goes away.
	reply, err := s.deps.Chat.Chat(context.WithoutCancel(ctx), text)

	s.mu.Lock()
	defer s.mu.Unlock()

	var msg widget.Message
	switch {
	case err == nil:
		msg = s.appendLocked(widget.SenderBot, reply.Response, reply.Citations, false)
		s.count(metrics.OutcomeReply)
	case errors.Is(err, backend.ErrNoResponse):
		msg = s.appendLocked(widget.SenderBot, widget.NoResponseText, nil, false)
		s.count(metrics.OutcomeFallback)
	default:
		log.Printf("[widget] chat request failed for session=%s: %v", s.id, err)
		msg = s.appendLocked(widget.SenderBot, widget.ErrorTextPrefix+err.Error(), nil, false)
		s.count(metrics.OutcomeError)
	}

	s.touchLocked()
	s.pending = false
	s.inputEnabled = true
	s.inputFocused = true
	s.placeholder = widget.PlaceholderIdle
	s.publishStateLocked()
	return msg, nil
}

// Flag reports a bot reply. The message is marked before the request goes out
// so a reply is reported at most once. The returned notice is meant to be shown
// briefly; err carries the submission failure, if any.
//
// The report carries the latest user message of the session, which is not
// necessarily the prompt that produced the flagged reply.
func (s *Session) Flag(ctx context.Context, messageID string) (string, error) {
	s.mu.Lock()
	s.touchLocked()

	idx := s.indexLocked(messageID)
	if idx < 0 {
		s.mu.Unlock()
		return "", ErrMessageNotFound
	}
	msg := &s.messages[idx]
	if !msg.Flaggable {
		s.mu.Unlock()
		return "", ErrNotFlaggable
	}
	if msg.Flagged {
		s.mu.Unlock()
		return "", ErrAlreadyFlagged
	}

	msg.Flagged = true
	report := widget.FlagReport{
		FlaggedText: msg.Text,
		UserPrompt:  s.lastUserMessage,
		Timestamp:   s.deps.Now().UTC().Format(isoMillis),
	}
	s.publish(widget.Event{Type: widget.EventMessage, Message: copyMessage(msg)})
	s.mu.Unlock()

	notice := widget.FlagSuccessNotice
	err := s.deps.Flags.Flag(context.WithoutCancel(ctx), report)
	if err != nil {
		log.Printf("[widget] flag submission failed for session=%s message=%s: %v", s.id, messageID, err)
		notice = widget.FlagFailureNotice
		s.countFlag(metrics.OutcomeError)
	} else {
		s.countFlag(metrics.OutcomeOK)
	}

	s.publish(widget.Event{Type: widget.EventNotice, Notice: notice})
	return notice, err
}

// Snapshot returns a copy of the session suitable for rendering.
func (s *Session) Snapshot() widget.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.stateLocked()
	snap.Messages = make([]widget.Message, len(s.messages))
	copy(snap.Messages, s.messages)
	return snap
}

func (s *Session) stateLocked() widget.Snapshot {
	return widget.Snapshot{
		ID:              s.id,
		Config:          s.cfg,
		Open:            s.open,
		IntroShown:      s.introShown,
		Accepted:        s.accepted,
		Pending:         s.pending,
		ConsentControls: s.consentControls,
		Input: widget.Input{
			Enabled:     s.inputEnabled,
			Placeholder: s.placeholder,
			Focused:     s.inputFocused,
		},
		CreatedAt: s.createdAt,
	}
}

func (s *Session) appendLocked(sender widget.Sender, text string, citations []widget.Citation, consent bool) widget.Message {
	msg := widget.Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Text:      text,
		Citations: citations,
		Consent:   consent,
		Flaggable: sender == widget.SenderBot && !widget.IsSystemText(text),
		CreatedAt: s.deps.Now().UTC(),
	}

	if sender == widget.SenderUser {
		msg.HTML = render.PlainText(text)
	} else {
		msg.Sources = render.Citations(citations)
		msg.HTML = s.renderBotLocked(text, msg.Sources)
	}

	s.messages = append(s.messages, msg)
	s.publish(widget.Event{Type: widget.EventMessage, Message: copyMessage(&msg)})
	return msg
}

func (s *Session) renderBotLocked(text string, sources []widget.DisplayCitation) string {
	body, err := s.deps.Renderer.Markdown(text)
	if err != nil {
		log.Printf("[widget] markdown render failed for session=%s: %v", s.id, err)
		body = render.PlainText(text)
	}

	list, err := render.CitationList(sources)
	if err != nil {
		log.Printf("[widget] citation render failed for session=%s: %v", s.id, err)
		return body
	}
	return body + list
}

func (s *Session) indexLocked(messageID string) int {
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			return i
		}
	}
	return -1
}

func (s *Session) touchLocked() {
	s.lastActive = s.deps.Now().UTC()
}

func (s *Session) publishStateLocked() {
	state := s.stateLocked()
	s.publish(widget.Event{Type: widget.EventState, State: &state})
}

func (s *Session) publish(event widget.Event) {
	if s.deps.Events == nil {
		return
	}
	event.SessionID = s.id
	event.Timestamp = s.deps.Now().UnixMilli()
	s.deps.Events.Publish(s.id, event)
}

func (s *Session) count(outcome string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.ChatExchanges.WithLabelValues(outcome).Inc()
	}
}

func (s *Session) countFlag(outcome string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.FlagSubmissions.WithLabelValues(outcome).Inc()
	}
}

func copyMessage(msg *widget.Message) *widget.Message {
	c := *msg
	return &c
}
