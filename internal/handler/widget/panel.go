package widget

import (
	"embed"
	"html/template"
	"log"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	widgetmodel "github.com/podc/assistant-widget/internal/model/widget"
	widgetsvc "github.com/podc/assistant-widget/internal/service/widget"
)

//go:embed templates/panel.html.tmpl
var templateFS embed.FS

var panelTemplate = template.Must(template.ParseFS(templateFS, "templates/panel.html.tmpl"))

// panelView is the data handed to the panel template.
type panelView struct {
	Snapshot widgetmodel.Snapshot
	Messages []messageView
	Notice   string
	Base     string
	FeedPath string
}

type messageView struct {
	ID          string
	Sender      widgetmodel.Sender
	Body        template.HTML
	ShowConsent bool
	Flaggable   bool
	Flagged     bool
}

// RegisterPanelRoutes mounts the server-rendered panel on r. prefix is the
// path r is mounted at and apiPrefix the path of the JSON API, used for the
// live feed.
func (h *Handler) RegisterPanelRoutes(r chi.Router, prefix, apiPrefix string) {
	p := panelRoutes{h: h, prefix: prefix, apiPrefix: apiPrefix}

	r.Get("/", p.handleMount)
	r.Route("/{sessionID}", func(r chi.Router) {
		r.Get("/", p.handleRender)
		r.Post("/toggle", p.handleToggle)
		r.Post("/consent", p.handleConsent)
		r.Post("/send", p.handleSend)
		r.Post("/messages/{messageID}/flag", p.handleFlag)
	})
}

type panelRoutes struct {
	h         *Handler
	prefix    string
	apiPrefix string
}

func (p panelRoutes) base(sessionID string) string {
	return p.prefix + "/" + url.PathEscape(sessionID)
}

// back redirects to the panel, optionally carrying a notice to show once.
func (p panelRoutes) back(w http.ResponseWriter, r *http.Request, sessionID, notice string) {
	target := p.base(sessionID)
	if notice != "" {
		target += "?" + url.Values{"notice": {notice}}.Encode()
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (p panelRoutes) session(w http.ResponseWriter, r *http.Request) (*widgetsvc.Session, bool) {
	session, err := p.h.sessions.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return nil, false
	}
	return session, true
}

func (p panelRoutes) handleMount(w http.ResponseWriter, r *http.Request) {
	session, err := p.h.sessions.Mount(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	p.back(w, r, session.ID(), "")
}

func (p panelRoutes) handleRender(w http.ResponseWriter, r *http.Request) {
	session, ok := p.session(w, r)
	if !ok {
		return
	}

	snap := session.Snapshot()
	view := panelView{
		Snapshot: snap,
		Messages: messageViews(snap),
		Notice:   r.URL.Query().Get("notice"),
		Base:     p.base(snap.ID),
		FeedPath: p.apiPrefix + "/sessions/" + url.PathEscape(snap.ID) + "/ws",
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := panelTemplate.Execute(w, view); err != nil {
		log.Printf("[widget] render panel failed for session=%s: %v", snap.ID, err)
	}
}

func messageViews(snap widgetmodel.Snapshot) []messageView {
	views := make([]messageView, 0, len(snap.Messages))
	for _, msg := range snap.Messages {
		views = append(views, messageView{
			ID:     msg.ID,
			Sender: msg.Sender,
			// Rendered by the session: user text is escaped and bot
			// markdown is produced without raw HTML.
			Body:        template.HTML(msg.HTML),
			ShowConsent: msg.Consent && snap.ConsentControls,
			Flaggable:   msg.Flaggable,
			Flagged:     msg.Flagged,
		})
	}
	return views
}

func (p panelRoutes) handleToggle(w http.ResponseWriter, r *http.Request) {
	session, ok := p.session(w, r)
	if !ok {
		return
	}
	session.ToggleOpen()
	p.back(w, r, session.ID(), "")
}

func (p panelRoutes) handleConsent(w http.ResponseWriter, r *http.Request) {
	session, ok := p.session(w, r)
	if !ok {
		return
	}

	decision, err := widgetmodel.ParseDecision(r.FormValue("decision"))
	if err == nil {
		err = session.RespondToConsent(decision)
	}
	if err != nil {
		p.back(w, r, session.ID(), err.Error())
		return
	}
	p.back(w, r, session.ID(), "")
}

func (p panelRoutes) handleSend(w http.ResponseWriter, r *http.Request) {
	session, ok := p.session(w, r)
	if !ok {
		return
	}

	if _, err := session.SendMessage(r.Context(), r.FormValue("text")); err != nil {
		p.back(w, r, session.ID(), err.Error())
		return
	}
	p.back(w, r, session.ID(), "")
}

func (p panelRoutes) handleFlag(w http.ResponseWriter, r *http.Request) {
	session, ok := p.session(w, r)
	if !ok {
		return
	}

	notice, err := session.Flag(r.Context(), chi.URLParam(r, "messageID"))
	if notice == "" && err != nil {
		notice = err.Error()
	}
	p.back(w, r, session.ID(), notice)
}
