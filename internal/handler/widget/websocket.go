package widget

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	widgetmodel "github.com/podc/assistant-widget/internal/model/widget"
	widgetsvc "github.com/podc/assistant-widget/internal/service/widget"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// inboundCommand is a user action sent over the websocket.
type inboundCommand struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Decision  string `json:"decision,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

type outgoingError struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Error     string `json:"error"`
	Timestamp int64  `json:"timestamp"`
}

// feedConn serializes writes; gorilla connections allow one writer at a time.
type feedConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *feedConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *feedConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// handleWebSocket streams session events to the client and accepts the same
// actions as the JSON API.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		http.Error(w, "live feed unavailable", http.StatusServiceUnavailable)
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	session, err := h.sessions.Get(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[websocket] new connection for session: %s", sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	feed := &feedConn{conn: conn}
	events, _ := h.events.Subscribe(ctx, sessionID)

	snap := session.Snapshot()
	if err := feed.writeJSON(widgetmodel.Event{
		Type:      widgetmodel.EventState,
		SessionID: sessionID,
		State:     &snap,
		Timestamp: time.Now().UnixMilli(),
	}); err != nil {
		log.Printf("[websocket] write snapshot failed: %v", err)
		return
	}

	go h.forward(ctx, feed, events)
	go pingLoop(ctx, feed)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var cmd inboundCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[websocket] read error: %v", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		switch cmd.Type {
		case "send", "flag":
			// Backend calls must not stall the read loop or pong handling.
			go h.run(ctx, feed, session, cmd)
		default:
			if !h.run(ctx, feed, session, cmd) {
				return
			}
		}
	}
}

// run applies cmd and reports a rejection as an error frame. It returns false
// once the connection can no longer be written to.
func (h *Handler) run(ctx context.Context, feed *feedConn, session *widgetsvc.Session, cmd inboundCommand) bool {
	err := h.apply(ctx, session, cmd)
	if err == nil {
		return true
	}
	if werr := feed.writeJSON(outgoingError{
		Type:      "error",
		SessionID: session.ID(),
		Error:     err.Error(),
		Timestamp: time.Now().UnixMilli(),
	}); werr != nil {
		log.Printf("[websocket] write error failed: %v", werr)
		return false
	}
	return true
}

// apply runs one inbound command. Results reach the client as events.
func (h *Handler) apply(ctx context.Context, session *widgetsvc.Session, cmd inboundCommand) error {
	switch cmd.Type {
	case "toggle":
		session.ToggleOpen()
		return nil
	case "consent":
		decision, err := widgetmodel.ParseDecision(cmd.Decision)
		if err != nil {
			return err
		}
		return session.RespondToConsent(decision)
	case "send":
		_, err := session.SendMessage(ctx, cmd.Text)
		return err
	case "flag":
		notice, err := session.Flag(ctx, cmd.MessageID)
		if notice != "" {
			// The notice event already told the client.
			return nil
		}
		return err
	default:
		return &unsupportedCommandError{kind: cmd.Type}
	}
}

type unsupportedCommandError struct {
	kind string
}

func (e *unsupportedCommandError) Error() string {
	return "unsupported message type: " + e.kind
}

func (h *Handler) forward(ctx context.Context, feed *feedConn, events <-chan widgetmodel.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := feed.writeJSON(event); err != nil {
				log.Printf("[websocket] write event failed: %v", err)
				return
			}
		}
	}
}

func pingLoop(ctx context.Context, feed *feedConn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := feed.ping(); err != nil {
				return
			}
		}
	}
}
