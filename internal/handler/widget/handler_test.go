package widget

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	widgetmodel "github.com/podc/assistant-widget/internal/model/widget"
	"github.com/podc/assistant-widget/internal/render"
	widgetsvc "github.com/podc/assistant-widget/internal/service/widget"
)

type stubChat struct {
	mu    sync.Mutex
	reply widgetmodel.ChatReply
	err   error
	gate  chan struct{}
}

// hold makes later Chat calls wait until the returned channel is closed.
func (s *stubChat) hold() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = make(chan struct{})
	return s.gate
}

func (s *stubChat) Chat(context.Context, string) (widgetmodel.ChatReply, error) {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return s.reply, s.err
}

type stubFlags struct {
	mu      sync.Mutex
	err     error
	reports []widgetmodel.FlagReport
}

func (s *stubFlags) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}

func (s *stubFlags) Flag(_ context.Context, report widgetmodel.FlagReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, report)
	return s.err
}

type fixture struct {
	router   *chi.Mux
	sessions *widgetsvc.Service
	events   *widgetsvc.Broadcaster
	chat     *stubChat
	flags    *stubFlags
}

func setupRouter() *fixture {
	f := &fixture{
		events: widgetsvc.NewBroadcaster(),
		chat: &stubChat{reply: widgetmodel.ChatReply{
			Response:  "**Yes**, newborn screening is routine.",
			Citations: []widgetmodel.Citation{{Filename: "Screening_NEW.pdf", URL: "https://example.org/s"}},
		}},
		flags: &stubFlags{},
	}
	f.sessions = widgetsvc.NewService(widgetmodel.DefaultConfig(), widgetsvc.Deps{
		Chat:     f.chat,
		Flags:    f.flags,
		Renderer: render.NewMarkdown(),
		Events:   f.events,
	}, 0)

	h := New(f.sessions, f.events)
	r := chi.NewRouter()
	r.Route("/api/widget", h.RegisterRoutes)
	r.Route("/widget", func(r chi.Router) {
		h.RegisterPanelRoutes(r, "/widget", "/api/widget")
	})
	f.router = r
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)
	return resp
}

func decodeSnapshot(t *testing.T, resp *httptest.ResponseRecorder) widgetmodel.Snapshot {
	t.Helper()
	var snap widgetmodel.Snapshot
	if err := json.Unmarshal(resp.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v (%s)", err, resp.Body.String())
	}
	return snap
}

// mountAccepted mounts a session, opens it and accepts the consent prompt.
func (f *fixture) mountAccepted(t *testing.T) string {
	t.Helper()
	resp := f.do(http.MethodPost, "/api/widget/sessions", "")
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}
	id := decodeSnapshot(t, resp).ID
	f.do(http.MethodPost, "/api/widget/sessions/"+id+"/toggle", "")
	if resp := f.do(http.MethodPost, "/api/widget/sessions/"+id+"/consent", `{"decision":"accept"}`); resp.Code != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d", resp.Code)
	}
	return id
}

func TestMountReturnsClosedSession(t *testing.T) {
	f := setupRouter()

	resp := f.do(http.MethodPost, "/api/widget/sessions", "")
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}
	snap := decodeSnapshot(t, resp)
	if snap.ID == "" || snap.Open || snap.IntroShown || len(snap.Messages) != 0 {
		t.Fatalf("unexpected initial snapshot %+v", snap)
	}
	if snap.Config.Position != widgetmodel.BottomRight {
		t.Fatalf("expected default position, got %s", snap.Config.Position)
	}
}

func TestToggleShowsGreetingOnce(t *testing.T) {
	f := setupRouter()
	id := decodeSnapshot(t, f.do(http.MethodPost, "/api/widget/sessions", "")).ID

	snap := decodeSnapshot(t, f.do(http.MethodPost, "/api/widget/sessions/"+id+"/toggle", ""))
	if !snap.Open || len(snap.Messages) != 1 || snap.Messages[0].Text != widgetmodel.GreetingText {
		t.Fatalf("expected greeting on first open, got %+v", snap)
	}

	f.do(http.MethodPost, "/api/widget/sessions/"+id+"/toggle", "")
	snap = decodeSnapshot(t, f.do(http.MethodPost, "/api/widget/sessions/"+id+"/toggle", ""))
	if !snap.Open || len(snap.Messages) != 1 {
		t.Fatalf("expected greeting once, got %d messages", len(snap.Messages))
	}
}

func TestUnknownSessionIs404(t *testing.T) {
	f := setupRouter()

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/widget/sessions/missing"},
		{http.MethodDelete, "/api/widget/sessions/missing"},
		{http.MethodPost, "/api/widget/sessions/missing/toggle"},
		{http.MethodPost, "/api/widget/sessions/missing/messages"},
	} {
		if resp := f.do(tc.method, tc.path, `{"text":"hi"}`); resp.Code != http.StatusNotFound {
			t.Fatalf("%s %s: expected 404, got %d", tc.method, tc.path, resp.Code)
		}
	}
}

func TestConsentValidation(t *testing.T) {
	f := setupRouter()
	id := decodeSnapshot(t, f.do(http.MethodPost, "/api/widget/sessions", "")).ID

	if resp := f.do(http.MethodPost, "/api/widget/sessions/"+id+"/consent", `{"decision":"accept"}`); resp.Code != http.StatusConflict {
		t.Fatalf("consent before greeting: expected 409, got %d", resp.Code)
	}

	f.do(http.MethodPost, "/api/widget/sessions/"+id+"/toggle", "")
	if resp := f.do(http.MethodPost, "/api/widget/sessions/"+id+"/consent", `{"decision":"maybe"}`); resp.Code != http.StatusBadRequest {
		t.Fatalf("bad decision: expected 400, got %d", resp.Code)
	}

	resp := f.do(http.MethodPost, "/api/widget/sessions/"+id+"/consent", `{"decision":"decline"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("decline: expected 200, got %d", resp.Code)
	}
	snap := decodeSnapshot(t, resp)
	if snap.Accepted || snap.Input.Enabled || !snap.ConsentControls {
		t.Fatalf("unexpected state after decline %+v", snap)
	}

	f.do(http.MethodPost, "/api/widget/sessions/"+id+"/consent", `{"decision":"accept"}`)
	if resp := f.do(http.MethodPost, "/api/widget/sessions/"+id+"/consent", `{"decision":"accept"}`); resp.Code != http.StatusConflict {
		t.Fatalf("second accept: expected 409, got %d", resp.Code)
	}
}

func TestSendRequiresConsent(t *testing.T) {
	f := setupRouter()
	id := decodeSnapshot(t, f.do(http.MethodPost, "/api/widget/sessions", "")).ID
	f.do(http.MethodPost, "/api/widget/sessions/"+id+"/toggle", "")

	if resp := f.do(http.MethodPost, "/api/widget/sessions/"+id+"/messages", `{"text":"hello"}`); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestSendAppendsReply(t *testing.T) {
	f := setupRouter()
	id := f.mountAccepted(t)

	if resp := f.do(http.MethodPost, "/api/widget/sessions/"+id+"/messages", `{"text":"   "}`); resp.Code != http.StatusBadRequest {
		t.Fatalf("empty: expected 400, got %d", resp.Code)
	}

	resp := f.do(http.MethodPost, "/api/widget/sessions/"+id+"/messages", `{"text":"Is screening routine?"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	snap := decodeSnapshot(t, resp)
	last := snap.Messages[len(snap.Messages)-1]
	if last.Sender != widgetmodel.SenderBot || !strings.Contains(last.HTML, "<strong>Yes</strong>") {
		t.Fatalf("unexpected reply %+v", last)
	}
	if !strings.Contains(last.HTML, `<a href="https://example.org/s"`) || !strings.Contains(last.HTML, "Screening</a>") {
		t.Fatalf("expected linked citation, got %s", last.HTML)
	}
	if snap.Pending || !snap.Input.Enabled {
		t.Fatalf("expected input re-enabled, got %+v", snap.Input)
	}
}

func TestSendBackendFailureStillOK(t *testing.T) {
	f := setupRouter()
	f.chat.err = errors.New("HTTP error! status: 502")
	id := f.mountAccepted(t)

	snap := decodeSnapshot(t, f.do(http.MethodPost, "/api/widget/sessions/"+id+"/messages", `{"text":"hi"}`))
	last := snap.Messages[len(snap.Messages)-1]
	if last.Text != widgetmodel.ErrorTextPrefix+"HTTP error! status: 502" {
		t.Fatalf("unexpected error text %q", last.Text)
	}
}

func TestFlagLifecycle(t *testing.T) {
	f := setupRouter()
	id := f.mountAccepted(t)
	snap := decodeSnapshot(t, f.do(http.MethodPost, "/api/widget/sessions/"+id+"/messages", `{"text":"Is screening routine?"}`))
	reply := snap.Messages[len(snap.Messages)-1]
	greeting := snap.Messages[0]

	resp := f.do(http.MethodPost, "/api/widget/sessions/"+id+"/messages/"+reply.ID+"/flag", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body flagResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.OK || body.Notice != widgetmodel.FlagSuccessNotice {
		t.Fatalf("unexpected flag response %+v", body)
	}
	if len(f.flags.reports) != 1 || f.flags.reports[0].UserPrompt != "Is screening routine?" {
		t.Fatalf("unexpected reports %+v", f.flags.reports)
	}

	if resp := f.do(http.MethodPost, "/api/widget/sessions/"+id+"/messages/"+reply.ID+"/flag", ""); resp.Code != http.StatusConflict {
		t.Fatalf("second flag: expected 409, got %d", resp.Code)
	}
	if resp := f.do(http.MethodPost, "/api/widget/sessions/"+id+"/messages/"+greeting.ID+"/flag", ""); resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("greeting flag: expected 422, got %d", resp.Code)
	}
	if resp := f.do(http.MethodPost, "/api/widget/sessions/"+id+"/messages/nope/flag", ""); resp.Code != http.StatusNotFound {
		t.Fatalf("missing message: expected 404, got %d", resp.Code)
	}
}

func TestFlagSubmissionFailureReportsNotice(t *testing.T) {
	f := setupRouter()
	f.flags.err = errors.New("HTTP error! status: 500")
	id := f.mountAccepted(t)
	snap := decodeSnapshot(t, f.do(http.MethodPost, "/api/widget/sessions/"+id+"/messages", `{"text":"q"}`))
	reply := snap.Messages[len(snap.Messages)-1]

	resp := f.do(http.MethodPost, "/api/widget/sessions/"+id+"/messages/"+reply.ID+"/flag", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body flagResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.OK || body.Notice != widgetmodel.FlagFailureNotice {
		t.Fatalf("unexpected flag response %+v", body)
	}
}

func TestUnmount(t *testing.T) {
	f := setupRouter()
	id := decodeSnapshot(t, f.do(http.MethodPost, "/api/widget/sessions", "")).ID

	if resp := f.do(http.MethodDelete, "/api/widget/sessions/"+id, ""); resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	if resp := f.do(http.MethodGet, "/api/widget/sessions/"+id, ""); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after unmount, got %d", resp.Code)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		widgetsvc.ErrSessionNotFound: http.StatusNotFound,
		widgetsvc.ErrEmptyMessage:    http.StatusBadRequest,
		widgetsvc.ErrInputDisabled:   http.StatusForbidden,
		widgetsvc.ErrBusy:            http.StatusConflict,
		widgetsvc.ErrNotFlaggable:    http.StatusUnprocessableEntity,
		errors.New("other"):          http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := statusFor(err); got != want {
			t.Fatalf("%v: expected %d, got %d", err, want, got)
		}
	}
}
