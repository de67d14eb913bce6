package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultListenAddr     = ":8080"
	defaultPollInterval   = 5 * time.Second
	defaultJobTimeout     = 10 * time.Minute
	defaultBootstrapDelay = 15 * time.Second

	envListenAddr     = "DRAFTER_LISTEN_ADDR"
	envLogLevel       = "DRAFTER_LOG_LEVEL"
	envTokenURL       = "DRAFTER_TOKEN_URL"
	envClientID       = "DRAFTER_CLIENT_ID"
	envClientSecret   = "DRAFTER_CLIENT_SECRET"
	envScopes         = "DRAFTER_SCOPES"
	envStorageURL     = "DRAFTER_STORAGE_URL"
	envEngineURL      = "DRAFTER_ENGINE_URL"
	envCallbackURL    = "DRAFTER_CALLBACK_URL"
	envOwnerClientID  = "DRAFTER_OWNER_CLIENT_ID"
	envInitTemplates  = "DRAFTER_INIT_TEMPLATES"
	envClearTemplates = "DRAFTER_CLEAR_TEMPLATES"
	envBootstrapDelay = "DRAFTER_BOOTSTRAP_DELAY"
	envPollInterval   = "DRAFTER_POLL_INTERVAL"
	envJobTimeout     = "DRAFTER_JOB_TIMEOUT"
	envAPIRate        = "DRAFTER_API_RPS"
	envAzureAccount   = "DRAFTER_AZURE_ACCOUNT"
	envAzureKey       = "DRAFTER_AZURE_KEY"
	envAzureContainer = "DRAFTER_AZURE_CONTAINER"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	LogLevel   slog.Level

	// Remote vendor API access.
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	StorageURL   string
	EngineURL    string
	CallbackURL  string

	// OwnerClientID identifies the client allowed to delete shared remote
	// resources. Any other identity runs template cleanup in reduced,
	// non-destructive mode.
	OwnerClientID string

	// Bootstrap behavior.
	InitTemplatesOnStart  bool
	ClearTemplatesOnStart bool
	BootstrapDelay        time.Duration

	// Job tracking.
	PollInterval time.Duration
	JobTimeout   time.Duration

	// APIRate is an optional client-side requests-per-second cap applied in
	// the policy chain. Zero disables smoothing.
	APIRate float64

	// Optional Azure Blob secondary upload target. Disabled when the
	// account name is empty.
	AzureAccount   string
	AzureKey       string
	AzureContainer string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		ListenAddr:     defaultListenAddr,
		LogLevel:       slog.LevelInfo,
		PollInterval:   defaultPollInterval,
		JobTimeout:     defaultJobTimeout,
		BootstrapDelay: defaultBootstrapDelay,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}

	cfg.TokenURL = os.Getenv(envTokenURL)
	cfg.ClientID = os.Getenv(envClientID)
	cfg.ClientSecret = os.Getenv(envClientSecret)
	cfg.Scopes = splitList(os.Getenv(envScopes))
	cfg.StorageURL = os.Getenv(envStorageURL)
	cfg.EngineURL = os.Getenv(envEngineURL)
	cfg.CallbackURL = os.Getenv(envCallbackURL)
	cfg.OwnerClientID = os.Getenv(envOwnerClientID)

	cfg.InitTemplatesOnStart = parseBool(os.Getenv(envInitTemplates))
	cfg.ClearTemplatesOnStart = parseBool(os.Getenv(envClearTemplates))

	if d, ok := parseDuration(os.Getenv(envBootstrapDelay)); ok {
		cfg.BootstrapDelay = d
	}
	if d, ok := parseDuration(os.Getenv(envPollInterval)); ok {
		cfg.PollInterval = d
	}
	if d, ok := parseDuration(os.Getenv(envJobTimeout)); ok {
		cfg.JobTimeout = d
	}
	if v := os.Getenv(envAPIRate); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.APIRate = f
		}
	}

	cfg.AzureAccount = os.Getenv(envAzureAccount)
	cfg.AzureKey = os.Getenv(envAzureKey)
	cfg.AzureContainer = os.Getenv(envAzureContainer)

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseBool(s string) bool {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false
	}
	return v
}

func parseDuration(s string) (time.Duration, bool) {
	if s == "" {
		return 0, false
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
