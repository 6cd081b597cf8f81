package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"gopkg.in/yaml.v3"

	"github.com/podc/assistant-widget/internal/model/widget"
)

// Config aggregates the settings of the whole service.
type Config struct {
	Server  ServerConfig
	Widget  WidgetConfig
	Backend BackendConfig
	AI      AIConfig
}

// Load reads configuration from environment variables. Widget defaults may
// come from the YAML file named by WIDGET_CONFIG_FILE; env vars win over it.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	widgetCfg, err := loadWidgetConfig()
	if err != nil {
		return nil, err
	}

	backend, err := loadBackendConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Widget: widgetCfg, Backend: backend, AI: ai}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

// loadServerConfig resolves the listen address from PORT.
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" as given.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// WidgetConfig is the embedding surface of the widget plus session upkeep.
type WidgetConfig struct {
	Embed      widget.Config
	SessionTTL time.Duration
}

// widgetFile mirrors the optional YAML widget file.
type widgetFile struct {
	BackendURL string `yaml:"backend_url"`
	Position   string `yaml:"position"`
	Theme      string `yaml:"theme"`
	SessionTTL string `yaml:"session_ttl"`
}

func loadWidgetConfig() (WidgetConfig, error) {
	embed := widget.DefaultConfig()
	ttlRaw := "24h"

	if path := strings.TrimSpace(os.Getenv("WIDGET_CONFIG_FILE")); path != "" {
		file, err := readWidgetFile(path)
		if err != nil {
			return WidgetConfig{}, err
		}
		if file.BackendURL != "" {
			embed.BackendURL = file.BackendURL
		}
		if file.Position != "" {
			embed.Position = widget.Position(file.Position)
		}
		if file.Theme != "" {
			embed.Theme = file.Theme
		}
		if file.SessionTTL != "" {
			ttlRaw = file.SessionTTL
		}
	}

	embed.BackendURL = getEnvOrDefault("WIDGET_BACKEND_URL", embed.BackendURL)
	embed.Theme = getEnvOrDefault("WIDGET_THEME", embed.Theme)

	position, err := widget.ParsePosition(getEnvOrDefault("WIDGET_POSITION", string(embed.Position)))
	if err != nil {
		return WidgetConfig{}, err
	}
	embed.Position = position

	ttl, err := time.ParseDuration(getEnvOrDefault("WIDGET_SESSION_TTL", ttlRaw))
	if err != nil {
		return WidgetConfig{}, fmt.Errorf("invalid WIDGET_SESSION_TTL value: %w", err)
	}

	return WidgetConfig{Embed: embed, SessionTTL: ttl}, nil
}

func readWidgetFile(path string) (widgetFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return widgetFile{}, fmt.Errorf("read widget config %s: %w", path, err)
	}

	var file widgetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return widgetFile{}, fmt.Errorf("parse widget config %s: %w", path, err)
	}
	return file, nil
}

// BackendConfig controls the bundled chat/flag backend.
type BackendConfig struct {
	Enabled        bool
	FlagDBPath     string
	CatalogPath    string
	CatalogResults int
	AllowedOrigins []string
}

// DefaultAllowedOrigins are the pages allowed to call the bundled backend.
var DefaultAllowedOrigins = []string{
	"http://localhost:5000",
	"https://podc-chatbot-frontend-v2.onrender.com",
	"https://*.onrender.com",
	"https://macquarieuniversity.wildapricot.org",
	"https://*.wildapricot.org",
}

func loadBackendConfig() (BackendConfig, error) {
	enabled, err := parseBoolEnv("BACKEND_ENABLED", true)
	if err != nil {
		return BackendConfig{}, err
	}

	results := 3
	if override, err := parseOptionalIntEnv("CATALOG_RESULTS"); err != nil {
		return BackendConfig{}, err
	} else if override != nil {
		if *override < 0 {
			return BackendConfig{}, fmt.Errorf("invalid CATALOG_RESULTS value %d", *override)
		}
		results = *override
	}

	origins := DefaultAllowedOrigins
	if raw := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS")); raw != "" {
		origins = splitList(raw)
	}

	return BackendConfig{
		Enabled:        enabled,
		FlagDBPath:     strings.TrimSpace(os.Getenv("FLAG_DB_PATH")),
		CatalogPath:    strings.TrimSpace(os.Getenv("CATALOG_PATH")),
		CatalogResults: results,
		AllowedOrigins: origins,
	}, nil
}

// DefaultInstructions is the system prompt of the bundled backend.
const DefaultInstructions = "You are a helpful AI assistant for Parents of Deaf Children (PODC). Provide accurate, supportive, and accessible information"

// AIConfig describes the chat model behind the bundled backend.
type AIConfig struct {
	APIKey         string
	AccessKey      string
	SecretKey      string
	Model          string
	BaseURL        string
	Region         string
	Temperature    *float64
	TopP           *float64
	MaxTokens      *int
	StreamResponse bool
	Instructions   string
}

// Enabled reports whether the required credentials are present.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel creates a model instance from the configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("missing Ark credentials or model: set ARK_API_KEY and Model, or ARK_ACCESS_KEY and ARK_SECRET_KEY")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	stream, err := parseBoolEnv("ARK_STREAM", true)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:         strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:      strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:      strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:          strings.TrimSpace(os.Getenv("Model")),
		BaseURL:        getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:         getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:    temperature,
		TopP:           topP,
		MaxTokens:      maxTokens,
		StreamResponse: stream,
		Instructions:   getEnvOrDefault("AI_INSTRUCTIONS", DefaultInstructions),
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
