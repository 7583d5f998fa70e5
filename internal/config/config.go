package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port string

	// PDF Q&A service
	BackendURL     string
	UploadPath     string
	AskPath        string
	RemovePath     string
	HistoryPath    string
	ListPath       string
	RequestTimeout time.Duration

	// Page assets
	BotAvatarURL  string
	UserAvatarURL string
	PDFIconURL    string

	// Rendering
	BotMarkdown bool

	// Fetch the server's PDF list when the page opens.
	SyncOnStart bool

	// Upload limits (web front-end)
	MaxUploadBytes int64

	LogLevel string
}

// fileConfig mirrors Config for the optional YAML file. Pointer fields
// distinguish "unset" from zero values.
type fileConfig struct {
	Port           *string `yaml:"port"`
	BackendURL     *string `yaml:"backend_url"`
	UploadPath     *string `yaml:"upload_path"`
	AskPath        *string `yaml:"ask_path"`
	RemovePath     *string `yaml:"remove_path"`
	HistoryPath    *string `yaml:"history_path"`
	ListPath       *string `yaml:"list_path"`
	RequestTimeout *string `yaml:"request_timeout"`
	BotAvatarURL   *string `yaml:"bot_avatar_url"`
	UserAvatarURL  *string `yaml:"user_avatar_url"`
	PDFIconURL     *string `yaml:"pdf_icon_url"`
	BotMarkdown    *bool   `yaml:"bot_markdown"`
	SyncOnStart    *bool   `yaml:"sync_on_start"`
	MaxUploadBytes *int64  `yaml:"max_upload_bytes"`
	LogLevel       *string `yaml:"log_level"`
}

func defaults() Config {
	return Config{
		Port: "8091",

		BackendURL:  "http://localhost:5000",
		UploadPath:  "/upload_pdfs",
		AskPath:     "/ask",
		RemovePath:  "/remove_pdf",
		HistoryPath: "/history",
		ListPath:    "/get_uploaded_pdfs",

		BotAvatarURL:  "/static/images/bot.png",
		UserAvatarURL: "/static/images/user.png",
		PDFIconURL:    "/static/images/pdf.png",

		MaxUploadBytes: 52428800, // 50MB

		LogLevel: "info",
	}
}

// Load builds the configuration from defaults, the YAML file named by
// PDFCHAT_CONFIG (if any) and the environment, in that order.
func Load() (Config, error) {
	cfg := defaults()

	if path := os.Getenv("PDFCHAT_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return cfg, err
		}
	}

	cfg.Port = envOr("PORT", cfg.Port)

	cfg.BackendURL = envOr("PDFCHAT_BACKEND_URL", cfg.BackendURL)
	cfg.UploadPath = envOr("PDFCHAT_UPLOAD_PATH", cfg.UploadPath)
	cfg.AskPath = envOr("PDFCHAT_ASK_PATH", cfg.AskPath)
	cfg.RemovePath = envOr("PDFCHAT_REMOVE_PATH", cfg.RemovePath)
	cfg.HistoryPath = envOr("PDFCHAT_HISTORY_PATH", cfg.HistoryPath)
	cfg.ListPath = envOr("PDFCHAT_LIST_PATH", cfg.ListPath)
	cfg.RequestTimeout = envDuration("PDFCHAT_REQUEST_TIMEOUT", cfg.RequestTimeout)

	cfg.BotAvatarURL = envOr("PDFCHAT_BOT_AVATAR_URL", cfg.BotAvatarURL)
	cfg.UserAvatarURL = envOr("PDFCHAT_USER_AVATAR_URL", cfg.UserAvatarURL)
	cfg.PDFIconURL = envOr("PDFCHAT_PDF_ICON_URL", cfg.PDFIconURL)

	cfg.BotMarkdown = envBool("PDFCHAT_BOT_MARKDOWN", cfg.BotMarkdown)
	cfg.SyncOnStart = envBool("PDFCHAT_SYNC_ON_START", cfg.SyncOnStart)

	cfg.MaxUploadBytes = envInt64("MAX_UPLOAD_BYTES", cfg.MaxUploadBytes)

	cfg.LogLevel = envOr("LOG_LEVEL", cfg.LogLevel)

	if cfg.RequestTimeout < 0 {
		cfg.RequestTimeout = 0
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 52428800
	}
	cfg.BackendURL = strings.TrimRight(cfg.BackendURL, "/")

	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}

	setString(&c.Port, fc.Port)
	setString(&c.BackendURL, fc.BackendURL)
	setString(&c.UploadPath, fc.UploadPath)
	setString(&c.AskPath, fc.AskPath)
	setString(&c.RemovePath, fc.RemovePath)
	setString(&c.HistoryPath, fc.HistoryPath)
	setString(&c.ListPath, fc.ListPath)
	setString(&c.BotAvatarURL, fc.BotAvatarURL)
	setString(&c.UserAvatarURL, fc.UserAvatarURL)
	setString(&c.PDFIconURL, fc.PDFIconURL)
	setString(&c.LogLevel, fc.LogLevel)

	if fc.RequestTimeout != nil {
		d, err := time.ParseDuration(*fc.RequestTimeout)
		if err != nil {
			return fmt.Errorf("config %s: request_timeout: %w", path, err)
		}
		c.RequestTimeout = d
	}
	if fc.BotMarkdown != nil {
		c.BotMarkdown = *fc.BotMarkdown
	}
	if fc.SyncOnStart != nil {
		c.SyncOnStart = *fc.SyncOnStart
	}
	if fc.MaxUploadBytes != nil {
		c.MaxUploadBytes = *fc.MaxUploadBytes
	}
	return nil
}

func (c Config) Validate() error {
	u, err := url.Parse(c.BackendURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("PDFCHAT_BACKEND_URL must be an absolute http(s) URL, got %q", c.BackendURL)
	}
	paths := []struct {
		name, value string
	}{
		{"PDFCHAT_UPLOAD_PATH", c.UploadPath},
		{"PDFCHAT_ASK_PATH", c.AskPath},
		{"PDFCHAT_REMOVE_PATH", c.RemovePath},
		{"PDFCHAT_HISTORY_PATH", c.HistoryPath},
		{"PDFCHAT_LIST_PATH", c.ListPath},
	}
	for _, p := range paths {
		if !strings.HasPrefix(p.value, "/") {
			return fmt.Errorf("%s must start with /, got %q", p.name, p.value)
		}
	}
	if c.BotAvatarURL == "" {
		return fmt.Errorf("PDFCHAT_BOT_AVATAR_URL is required")
	}
	if c.UserAvatarURL == "" {
		return fmt.Errorf("PDFCHAT_USER_AVATAR_URL is required")
	}
	if c.PDFIconURL == "" {
		return fmt.Errorf("PDFCHAT_PDF_ICON_URL is required")
	}
	return nil
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func setString(dst *string, v *string) {
	if v != nil && *v != "" {
		*dst = *v
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
