// Package widget exposes widget sessions over HTTP: a JSON API, a live
// websocket feed and a server-rendered panel.
package widget

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	widgetmodel "github.com/podc/assistant-widget/internal/model/widget"
	widgetsvc "github.com/podc/assistant-widget/internal/service/widget"
	"github.com/podc/assistant-widget/pkg/utils"
)

// Handler serves widget sessions.
type Handler struct {
	sessions *widgetsvc.Service
	events   *widgetsvc.Broadcaster
	upgrader websocket.Upgrader
}

// New creates a widget handler. events may be nil, which disables the
// websocket feed.
func New(sessions *widgetsvc.Service, events *widgetsvc.Broadcaster) *Handler {
	return &Handler{
		sessions: sessions,
		events:   events,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the JSON API on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleMount)
	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/", h.handleSnapshot)
		r.Delete("/", h.handleUnmount)
		r.Post("/toggle", h.handleToggle)
		r.Post("/consent", h.handleConsent)
		r.Post("/messages", h.handleSend)
		r.Post("/messages/{messageID}/flag", h.handleFlag)
		r.Get("/ws", h.handleWebSocket)
	})
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*widgetsvc.Session, bool) {
	session, err := h.sessions.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return session, true
}

func (h *Handler) handleMount(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.Mount(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusCreated, session.Snapshot())
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, session.Snapshot())
}

func (h *Handler) handleUnmount(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Unmount(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleToggle(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	session.ToggleOpen()
	utils.RespondJSON(w, http.StatusOK, session.Snapshot())
}

func (h *Handler) handleConsent(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var payload struct {
		Decision string `json:"decision"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	decision, err := widgetmodel.ParseDecision(payload.Decision)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := session.RespondToConsent(decision); err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, session.Snapshot())
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, err := session.SendMessage(r.Context(), payload.Text); err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, session.Snapshot())
}

type flagResponse struct {
	Notice   string               `json:"notice"`
	OK       bool                 `json:"ok"`
	Snapshot widgetmodel.Snapshot `json:"snapshot"`
}

func (h *Handler) handleFlag(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	notice, err := session.Flag(r.Context(), chi.URLParam(r, "messageID"))
	if err != nil && notice == "" {
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, flagResponse{
		Notice:   notice,
		OK:       err == nil,
		Snapshot: session.Snapshot(),
	})
}

// statusFor maps session errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, widgetsvc.ErrSessionNotFound), errors.Is(err, widgetsvc.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, widgetsvc.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, widgetsvc.ErrInputDisabled):
		return http.StatusForbidden
	case errors.Is(err, widgetsvc.ErrBusy), errors.Is(err, widgetsvc.ErrConsentClosed), errors.Is(err, widgetsvc.ErrAlreadyFlagged):
		return http.StatusConflict
	case errors.Is(err, widgetsvc.ErrNotFlaggable):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
