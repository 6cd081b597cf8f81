// Package backend serves the reference chat and flag endpoints the widget
// talks to.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/podc/assistant-widget/internal/metrics"
	"github.com/podc/assistant-widget/internal/model/flag"
	"github.com/podc/assistant-widget/internal/model/widget"
	"github.com/podc/assistant-widget/internal/service/ai"
	"github.com/podc/assistant-widget/pkg/utils"
)

const timestampLayout = "2006-01-02T15:04:05.000Z"

// Answerer produces replies for /chat and /chat/stream.
type Answerer interface {
	GenerateResponse(ctx context.Context, query string) (ai.Answer, error)
	StreamResponse(ctx context.Context, query string) (*schema.StreamReader[*schema.Message], []widget.Citation, error)
	StreamingEnabled() bool
}

// Handler serves the backend routes.
type Handler struct {
	answerer Answerer
	flags    flag.Store
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New creates a backend handler. answerer may be nil when no model is
// configured; chat routes then answer 503.
func New(answerer Answerer, flags flag.Store, m *metrics.Metrics) *Handler {
	return &Handler{
		answerer: answerer,
		flags:    flags,
		metrics:  m,
		now:      time.Now,
	}
}

// RegisterRoutes mounts the backend routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
	r.Post("/chat/stream", h.handleChatStream)
	r.Post("/flag", h.handleFlag)
	r.Get("/flags", h.handleListFlags)
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Response  string         `json:"response"`
	Citations []wireCitation `json:"citations"`
}

type wireCitation struct {
	Filename string       `json:"filename"`
	FileID   string       `json:"file_id,omitempty"`
	Metadata wireMetadata `json:"metadata"`
}

type wireMetadata struct {
	URL      string `json:"url,omitempty"`
	Category string `json:"category,omitempty"`
}

func toWire(citations []widget.Citation) []wireCitation {
	out := make([]wireCitation, 0, len(citations))
	for _, c := range citations {
		out = append(out, wireCitation{
			Filename: c.Filename,
			FileID:   c.FileID,
			Metadata: wireMetadata{URL: c.URL, Category: c.Category},
		})
	}
	return out
}

// decodeMessage reads the question; an unreadable body counts as empty.
func decodeMessage(r *http.Request) string {
	var payload chatRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return ""
	}
	return strings.TrimSpace(payload.Message)
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	message := decodeMessage(r)
	if message == "" {
		h.respondChat(w, http.StatusBadRequest, chatResponse{Response: "No message received", Citations: []wireCitation{}})
		return
	}

	if h.answerer == nil {
		h.respondChat(w, http.StatusServiceUnavailable, chatResponse{Response: "Server error: no chat model configured", Citations: []wireCitation{}})
		return
	}

	log.Printf("[backend] received message length=%d", len(message))
	answer, err := h.answerer.GenerateResponse(r.Context(), message)
	if err != nil {
		log.Printf("[backend] chat failed: %v", err)
		h.respondChat(w, http.StatusInternalServerError, chatResponse{Response: "Server error: " + err.Error(), Citations: []wireCitation{}})
		return
	}

	h.respondChat(w, http.StatusOK, chatResponse{Response: answer.Text, Citations: toWire(answer.Citations)})
}

func (h *Handler) respondChat(w http.ResponseWriter, status int, payload chatResponse) {
	h.countChat(status)
	utils.RespondJSON(w, status, payload)
}

// streamEvent is the data of one SSE event on /chat/stream.
type streamEvent struct {
	Content   string         `json:"content,omitempty"`
	Response  string         `json:"response,omitempty"`
	Citations []wireCitation `json:"citations,omitempty"`
	Finished  bool           `json:"finished,omitempty"`
	Error     string         `json:"error,omitempty"`
}

func (h *Handler) handleChatStream(w http.ResponseWriter, r *http.Request) {
	message := decodeMessage(r)
	if message == "" {
		h.respondChat(w, http.StatusBadRequest, chatResponse{Response: "No message received", Citations: []wireCitation{}})
		return
	}
	if h.answerer == nil {
		h.respondChat(w, http.StatusServiceUnavailable, chatResponse{Response: "Server error: no chat model configured", Citations: []wireCitation{}})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	answer, err := h.dispatch(r.Context(), w, flusher, message)
	if err != nil {
		log.Printf("[backend] stream failed: %v", err)
		h.countChat(http.StatusInternalServerError)
		utils.SendSSEEvent(w, flusher, "error", streamEvent{Error: "Server error: " + err.Error()})
		return
	}

	utils.SendSSEEvent(w, flusher, "message", streamEvent{Response: answer.Text, Citations: toWire(answer.Citations)})
	utils.SendSSEEvent(w, flusher, "end", streamEvent{Finished: true})
	h.countChat(http.StatusOK)
}

func (h *Handler) countChat(status int) {
	if h.metrics != nil {
		h.metrics.BackendChats.WithLabelValues(strconv.Itoa(status)).Inc()
	}
}

// dispatch streams deltas when the model supports it and otherwise produces
// the whole answer at once.
func (h *Handler) dispatch(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, message string) (ai.Answer, error) {
	if !h.answerer.StreamingEnabled() {
		return h.answerer.GenerateResponse(ctx, message)
	}

	stream, citations, err := h.answerer.StreamResponse(ctx, message)
	if err != nil {
		return ai.Answer{}, err
	}
	defer stream.Close()

	chunks := make([]*schema.Message, 0, 8)
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return ai.Answer{}, recvErr
		}
		if chunk == nil {
			continue
		}

		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			utils.SendSSEEvent(w, flusher, "delta", streamEvent{Content: chunk.Content})
		}
	}

	if len(chunks) == 0 {
		return ai.Answer{Citations: citations}, nil
	}
	full, err := schema.ConcatMessages(chunks)
	if err != nil {
		return ai.Answer{}, err
	}
	return ai.Answer{Text: full.Content, Citations: citations}, nil
}

type flagRequest struct {
	FlaggedText string `json:"flaggedText"`
	UserPrompt  string `json:"userPrompt"`
	Timestamp   string `json:"timestamp"`
}

func (h *Handler) handleFlag(w http.ResponseWriter, r *http.Request) {
	var payload flagRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.countFlag(metrics.OutcomeError)
		utils.RespondJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid flag payload"})
		return
	}
	if strings.TrimSpace(payload.FlaggedText) == "" {
		h.countFlag(metrics.OutcomeError)
		utils.RespondJSON(w, http.StatusBadRequest, map[string]string{"message": "flaggedText is required"})
		return
	}

	timestamp := payload.Timestamp
	if timestamp == "" {
		timestamp = h.now().UTC().Format(timestampLayout)
	}

	record := flag.Flag{
		ID:          uuid.NewString(),
		Timestamp:   timestamp,
		UserPrompt:  payload.UserPrompt,
		FlaggedText: payload.FlaggedText,
	}

	log.Printf("[backend] flagged response at=%s prompt_length=%d", record.Timestamp, len(record.UserPrompt))
	if err := h.flags.Save(r.Context(), record); err != nil {
		log.Printf("[backend] storing flag failed: %v", err)
		h.countFlag(metrics.OutcomeError)
		utils.RespondJSON(w, http.StatusInternalServerError, map[string]string{"message": "Internal error storing flag"})
		return
	}

	h.countFlag(metrics.OutcomeOK)
	utils.RespondJSON(w, http.StatusOK, map[string]string{"message": "Flag stored"})
}

func (h *Handler) countFlag(outcome string) {
	if h.metrics != nil {
		h.metrics.BackendFlags.WithLabelValues(outcome).Inc()
	}
}

func (h *Handler) handleListFlags(w http.ResponseWriter, r *http.Request) {
	flags, err := h.flags.List(r.Context())
	if err != nil {
		log.Printf("[backend] listing flags failed: %v", err)
		utils.RespondJSON(w, http.StatusInternalServerError, map[string]string{"message": "Failed to fetch flags"})
		return
	}
	if flags == nil {
		flags = []flag.Flag{}
	}
	utils.RespondJSON(w, http.StatusOK, flags)
}
