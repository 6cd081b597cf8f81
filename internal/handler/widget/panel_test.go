package widget

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	widgetmodel "github.com/podc/assistant-widget/internal/model/widget"
)

func (f *fixture) form(path string, values url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)
	return resp
}

func (f *fixture) page(t *testing.T, path string) string {
	t.Helper()
	resp := f.do(http.MethodGet, path, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("GET %s: expected 200, got %d", path, resp.Code)
	}
	return resp.Body.String()
}

func mountPanel(t *testing.T, f *fixture) string {
	t.Helper()
	resp := f.do(http.MethodGet, "/widget/", "")
	if resp.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", resp.Code)
	}
	loc := resp.Header().Get("Location")
	if !strings.HasPrefix(loc, "/widget/") {
		t.Fatalf("unexpected redirect %q", loc)
	}
	return loc
}

func TestPanelClosedByDefault(t *testing.T) {
	f := setupRouter()
	base := mountPanel(t, f)

	body := f.page(t, base)
	if !strings.Contains(body, "podc-bottom-right theme-light") {
		t.Fatal("expected position and theme classes")
	}
	if strings.Contains(body, "podc-widget-messages") {
		t.Fatal("expected closed panel without transcript")
	}
}

func TestPanelConsentFlow(t *testing.T) {
	f := setupRouter()
	base := mountPanel(t, f)

	if resp := f.form(base+"/toggle", nil); resp.Code != http.StatusSeeOther {
		t.Fatalf("toggle: expected 303, got %d", resp.Code)
	}
	body := f.page(t, base)
	if !strings.Contains(body, `value="accept"`) || !strings.Contains(body, `value="decline"`) {
		t.Fatal("expected consent controls")
	}
	if !strings.Contains(body, `name="text" placeholder="Ask a question..." disabled`) {
		t.Fatal("expected disabled input before consent")
	}

	f.form(base+"/consent", url.Values{"decision": {"accept"}})
	body = f.page(t, base)
	if strings.Contains(body, `value="accept"`) {
		t.Fatal("expected consent controls removed after accept")
	}
	if strings.Contains(body, `name="text" placeholder="Ask a question..." disabled`) {
		t.Fatal("expected enabled input after accept")
	}
	if !strings.Contains(body, "Thank you for accepting") {
		t.Fatal("expected acceptance message")
	}
}

func TestPanelSendAndFlag(t *testing.T) {
	f := setupRouter()
	base := mountPanel(t, f)
	f.form(base+"/toggle", nil)
	f.form(base+"/consent", url.Values{"decision": {"accept"}})

	if resp := f.form(base+"/send", url.Values{"text": {"<b>is screening routine?</b>"}}); resp.Code != http.StatusSeeOther {
		t.Fatalf("send: expected 303, got %d", resp.Code)
	}
	body := f.page(t, base)
	if !strings.Contains(body, "&lt;b&gt;is screening routine?&lt;/b&gt;") {
		t.Fatal("expected escaped user text")
	}
	if !strings.Contains(body, "<strong>Yes</strong>") {
		t.Fatal("expected rendered bot markdown")
	}

	id := strings.TrimPrefix(base, "/widget/")
	session, err := f.sessions.Get(t.Context(), id)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	msgs := session.Snapshot().Messages
	reply := msgs[len(msgs)-1]

	resp := f.form(base+"/messages/"+reply.ID+"/flag", nil)
	loc := resp.Header().Get("Location")
	if !strings.Contains(loc, "notice=") {
		t.Fatalf("expected notice in redirect, got %q", loc)
	}
	body = f.page(t, loc)
	if !strings.Contains(body, widgetmodel.FlagSuccessNotice) {
		t.Fatal("expected flag notice on page")
	}
	if !strings.Contains(body, "flag-btn flagged") {
		t.Fatal("expected flagged marker")
	}
}

func TestPanelSendRejectedShowsNotice(t *testing.T) {
	f := setupRouter()
	base := mountPanel(t, f)
	f.form(base+"/toggle", nil)

	resp := f.form(base+"/send", url.Values{"text": {"hello"}})
	loc := resp.Header().Get("Location")
	if !strings.Contains(loc, "notice=") {
		t.Fatalf("expected notice in redirect, got %q", loc)
	}
}

func TestPanelUnknownSession(t *testing.T) {
	f := setupRouter()

	if resp := f.do(http.MethodGet, "/widget/missing", ""); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestPanelConversationScenario(t *testing.T) {
	f := setupRouter()
	f.chat.reply = widgetmodel.ChatReply{
		Response:  "Tinnitus is...",
		Citations: []widgetmodel.Citation{{Filename: "guide_NEW.pdf", URL: "https://x/y"}},
	}
	base := mountPanel(t, f)
	disabledInput := `name="text" placeholder="Ask a question..." disabled`

	f.form(base+"/toggle", nil)
	body := f.page(t, base)
	if !strings.Contains(body, `value="accept"`) || !strings.Contains(body, `value="decline"`) {
		t.Fatal("expected consent controls with the greeting")
	}

	f.form(base+"/consent", url.Values{"decision": {"decline"}})
	body = f.page(t, base)
	if !strings.Contains(body, widgetmodel.DeclinedText) {
		t.Fatal("expected decline notice")
	}
	if !strings.Contains(body, disabledInput) || !strings.Contains(body, `value="accept"`) {
		t.Fatal("expected input disabled and controls kept after decline")
	}

	f.form(base+"/consent", url.Values{"decision": {"accept"}})
	body = f.page(t, base)
	if !strings.Contains(body, widgetmodel.AcceptedText) || strings.Contains(body, disabledInput) {
		t.Fatal("expected acknowledgment and enabled input after accept")
	}

	f.form(base+"/send", url.Values{"text": {"What is tinnitus?"}})
	body = f.page(t, base)
	userAt := strings.Index(body, "What is tinnitus?")
	botAt := strings.Index(body, "Tinnitus is...")
	if userAt < 0 || botAt < userAt {
		t.Fatal("expected user message followed by bot reply")
	}
	link := `<a href="https://x/y" target="_blank" rel="noopener noreferrer">guide</a>`
	if strings.Count(body, link) != 1 {
		t.Fatalf("expected one guide citation link, got body %s", body)
	}

	id := strings.TrimPrefix(base, "/widget/")
	session, err := f.sessions.Get(t.Context(), id)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	msgs := session.Snapshot().Messages
	reply := msgs[len(msgs)-1]

	resp := f.form(base+"/messages/"+reply.ID+"/flag", nil)
	body = f.page(t, resp.Header().Get("Location"))
	if !strings.Contains(body, widgetmodel.FlagSuccessNotice) || !strings.Contains(body, "flag-btn flagged") {
		t.Fatal("expected flagged reply and confirmation notice")
	}
	if len(f.flags.reports) != 1 || f.flags.reports[0].UserPrompt != "What is tinnitus?" || f.flags.reports[0].FlaggedText != "Tinnitus is..." {
		t.Fatalf("unexpected reports %+v", f.flags.reports)
	}
	if resp := f.form(base+"/messages/"+reply.ID+"/flag", nil); len(f.flags.reports) != 1 {
		t.Fatalf("expected second flag ignored, got %d reports (status %d)", len(f.flags.reports), resp.Code)
	}
}
