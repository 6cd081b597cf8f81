package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/podc/assistant-widget/internal/config"
	"github.com/podc/assistant-widget/internal/handler"
	"github.com/podc/assistant-widget/internal/metrics"
	"github.com/podc/assistant-widget/internal/model/flag"
	"github.com/podc/assistant-widget/internal/render"
	"github.com/podc/assistant-widget/internal/service/ai"
	"github.com/podc/assistant-widget/internal/service/backend"
	"github.com/podc/assistant-widget/internal/service/catalog"
	"github.com/podc/assistant-widget/internal/service/widget"
	"github.com/podc/assistant-widget/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	m := metrics.New()

	// Widget sessions talk to the configured chat backend over HTTP.
	events := widget.NewBroadcaster()
	defer events.Close()

	client := backend.New(cfg.Widget.Embed.BackendURL, nil)
	sessions := widget.NewService(cfg.Widget.Embed, widget.Deps{
		Chat:     client,
		Flags:    client,
		Renderer: render.NewMarkdown(),
		Events:   events,
		Metrics:  m,
	}, cfg.Widget.SessionTTL)
	go sessions.Run(ctx)
	log.Printf("widget sessions use backend %s (position=%s theme=%s)", client.BaseURL(), cfg.Widget.Embed.Position, cfg.Widget.Embed.Theme)

	opts := handler.Options{
		Sessions:       sessions,
		Events:         events,
		Metrics:        m,
		AllowedOrigins: cfg.Backend.AllowedOrigins,
		BackendEnabled: cfg.Backend.Enabled,
	}

	if cfg.Backend.Enabled {
		flags, closeFlags, err := openFlagStore(cfg.Backend)
		if err != nil {
			log.Fatalf("failed to open flag store: %v", err)
		}
		defer closeFlags()
		opts.Flags = flags

		if answerer := initAI(ctx, cfg); answerer != nil {
			opts.Answerer = answerer
		}
	} else {
		log.Println("bundled backend disabled by configuration")
	}

	router := handler.NewRouter(opts)

	startServer(ctx, cfg.Server, router)
}

func openFlagStore(cfg config.BackendConfig) (flag.Store, func(), error) {
	if cfg.FlagDBPath == "" {
		log.Println("FLAG_DB_PATH not set, keeping flags in memory")
		return flag.NewMemoryStore(), func() {}, nil
	}

	store, err := storage.NewSQLiteFlagStore(cfg.FlagDBPath)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {
		if err := store.Close(); err != nil {
			log.Printf("warning: closing flag store: %v", err)
		}
	}, nil
}

// initAI returns nil when no model is configured or it fails to start.
func initAI(ctx context.Context, cfg *config.Config) *ai.Service {
	if !cfg.AI.Enabled() {
		log.Println("Ark credentials not configured, /chat will answer 503")
		return nil
	}

	var docs *catalog.Catalog
	if cfg.Backend.CatalogPath != "" {
		loaded, err := catalog.Load(cfg.Backend.CatalogPath)
		if err != nil {
			log.Printf("warning: failed to load document catalog: %v", err)
		} else {
			docs = loaded
			log.Printf("document catalog loaded with %d documents", docs.Len())
		}
	}

	svc, err := ai.NewService(ctx, cfg.AI, docs, cfg.Backend.CatalogResults)
	if err != nil {
		log.Printf("warning: failed to initialize AI service: %v", err)
		log.Println("continuing without AI functionality")
		return nil
	}
	log.Println("AI service initialized successfully")
	return svc
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("PODC assistant widget listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
