package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/podc/assistant-widget/internal/handler/backend"
	"github.com/podc/assistant-widget/internal/handler/widget"
	"github.com/podc/assistant-widget/internal/metrics"
	middlewarePkg "github.com/podc/assistant-widget/internal/middleware"
	"github.com/podc/assistant-widget/internal/model/flag"
	widgetService "github.com/podc/assistant-widget/internal/service/widget"
	"github.com/podc/assistant-widget/pkg/utils"
)

const (
	widgetAPIPrefix   = "/api/widget"
	widgetPanelPrefix = "/widget"
)

// Options carries the collaborators wired into the router.
type Options struct {
	Sessions       *widgetService.Service
	Events         *widgetService.Broadcaster
	Metrics        *metrics.Metrics
	AllowedOrigins []string

	// BackendEnabled mounts /chat, /chat/stream, /flag and /flags. Answerer
	// may be nil; the chat routes then answer 503.
	BackendEnabled bool
	Answerer       backend.Answerer
	Flags          flag.Store
}

// NewRouter wires HTTP routes to core services.
func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(opts.AllowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	widgetHandler := widget.New(opts.Sessions, opts.Events)
	r.Route(widgetAPIPrefix, widgetHandler.RegisterRoutes)
	r.Route(widgetPanelPrefix, func(panel chi.Router) {
		widgetHandler.RegisterPanelRoutes(panel, widgetPanelPrefix, widgetAPIPrefix)
	})

	if opts.BackendEnabled {
		backendHandler := backend.New(opts.Answerer, opts.Flags, opts.Metrics)
		backendHandler.RegisterRoutes(r)
	}

	return r
}
