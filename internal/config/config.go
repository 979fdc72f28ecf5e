package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultBotIdentity = "id-notion-boards <b0434342-f91d-48f2-b83a-9de247dd222f>"

	defaultPort          = 8000
	defaultPollInterval  = 5 * time.Minute
	defaultHTTPTimeout   = 20 * time.Second
	defaultHTTPRetries   = 3
	defaultLedgerDSN     = "memory://"
	defaultNotionBaseURL = "https://api.notion.com"
	defaultBoardsBaseURL = "https://dev.azure.com"
)

// Config holds all configuration for the notion-boards service
type Config struct {
	// Server settings
	Port int

	// Notion settings
	NotionBaseURL       string
	NotionSecret        string
	NotionDatabaseID    string
	NotionTitleProperty string
	NotionLinkProperty  string
	NotionAPIVersion    string

	// Azure Boards settings
	BoardsBaseURL      string
	BoardsOrganization string
	BoardsProject      string
	BoardsAssignedTo   string
	// BoardsPAT replaces the managed identity when set.
	BoardsPAT               string
	ManagedIdentityClientID string

	// Loop Guard
	BotIdentity string

	// Webhook basic auth; both empty disables it
	WebhookUsername string
	WebhookPassword string

	// Scheduler settings
	PollInterval time.Duration
	PollOnStart  bool

	// Sync settings
	LedgerDSN       string
	ChangeDetection bool

	// Outbound HTTP
	HTTPTimeout    time.Duration
	HTTPMaxRetries int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile loads configuration from environment variables layered over an
// optional YAML file. Environment variables win.
func LoadFile(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		Port:                    v.GetInt("PORT"),
		NotionBaseURL:           v.GetString("NOTION_BASE_URL"),
		NotionSecret:            normalizeSecret(v.GetString("NOTION_SECRET")),
		NotionDatabaseID:        strings.TrimSpace(v.GetString("NOTION_DATABASE_ID")),
		NotionTitleProperty:     v.GetString("NOTION_TITLE_PROPERTY"),
		NotionLinkProperty:      v.GetString("NOTION_LINK_PROPERTY"),
		NotionAPIVersion:        v.GetString("NOTION_API_VERSION"),
		BoardsBaseURL:           v.GetString("AZURE_BOARDS_BASE_URL"),
		BoardsOrganization:      strings.TrimSpace(v.GetString("AZURE_BOARDS_ORGANIZATION")),
		BoardsProject:           strings.TrimSpace(v.GetString("AZURE_BOARDS_PROJECT")),
		BoardsAssignedTo:        v.GetString("AZURE_BOARDS_ASSIGNED_TO"),
		BoardsPAT:               normalizeSecret(v.GetString("AZURE_BOARDS_PAT")),
		ManagedIdentityClientID: strings.TrimSpace(v.GetString("MANAGED_IDENTITY_CLIENT_ID")),
		BotIdentity:             strings.TrimSpace(v.GetString("BOT_IDENTITY")),
		WebhookUsername:         v.GetString("WEBHOOK_USERNAME"),
		WebhookPassword:         normalizeSecret(v.GetString("WEBHOOK_PASSWORD")),
		PollInterval:            v.GetDuration("POLL_INTERVAL"),
		PollOnStart:             v.GetBool("POLL_ON_START"),
		LedgerDSN:               v.GetString("LEDGER_DSN"),
		ChangeDetection:         v.GetBool("SYNC_CHANGE_DETECTION"),
		HTTPTimeout:             v.GetDuration("HTTP_TIMEOUT"),
		HTTPMaxRetries:          v.GetInt("HTTP_MAX_RETRIES"),
	}

	// Validate required fields
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("PORT", defaultPort)
	v.SetDefault("NOTION_BASE_URL", defaultNotionBaseURL)
	v.SetDefault("NOTION_TITLE_PROPERTY", "名前")
	v.SetDefault("NOTION_LINK_PROPERTY", "Azure Board Item Id")
	v.SetDefault("NOTION_API_VERSION", "2022-06-28")
	v.SetDefault("AZURE_BOARDS_BASE_URL", defaultBoardsBaseURL)
	v.SetDefault("BOT_IDENTITY", DefaultBotIdentity)
	v.SetDefault("POLL_INTERVAL", defaultPollInterval)
	v.SetDefault("POLL_ON_START", false)
	v.SetDefault("LEDGER_DSN", defaultLedgerDSN)
	v.SetDefault("SYNC_CHANGE_DETECTION", true)
	v.SetDefault("HTTP_TIMEOUT", defaultHTTPTimeout)
	v.SetDefault("HTTP_MAX_RETRIES", defaultHTTPRetries)
	v.AutomaticEnv()
	return v
}

// normalizeSecret strips surrounding quotes left behind by env files.
func normalizeSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) >= 2 {
		if (strings.HasPrefix(trimmed, "\"") && strings.HasSuffix(trimmed, "\"")) ||
			(strings.HasPrefix(trimmed, "'") && strings.HasSuffix(trimmed, "'")) {
			trimmed = trimmed[1 : len(trimmed)-1]
		}
	}
	return strings.TrimSpace(trimmed)
}

// UsesPAT reports whether Boards calls authenticate with a personal access
// token instead of the managed identity.
func (c *Config) UsesPAT() bool {
	return c.BoardsPAT != ""
}

// WebhookAuthEnabled reports whether inbound service hooks must carry basic
// auth credentials.
func (c *Config) WebhookAuthEnabled() bool {
	return c.WebhookUsername != "" || c.WebhookPassword != ""
}

// validate checks that all required configuration is present
func (c *Config) validate() error {
	if err := c.validateNotion(); err != nil {
		return err
	}

	if err := c.validateBoards(); err != nil {
		return err
	}

	if err := c.validateWebhookAuth(); err != nil {
		return err
	}

	c.applyDefaults()
	return c.validateTiming()
}

func (c *Config) validateNotion() error {
	if c.NotionSecret == "" {
		return errors.New("NOTION_SECRET is required")
	}
	if c.NotionDatabaseID == "" {
		return errors.New("NOTION_DATABASE_ID is required")
	}
	return nil
}

func (c *Config) validateBoards() error {
	if c.BoardsOrganization == "" {
		return errors.New("AZURE_BOARDS_ORGANIZATION is required")
	}
	if c.BoardsProject == "" {
		return errors.New("AZURE_BOARDS_PROJECT is required")
	}
	if c.BotIdentity == "" {
		return errors.New("BOT_IDENTITY must not be empty")
	}
	if c.UsesPAT() {
		log.Printf("Warning: AZURE_BOARDS_PAT set, Boards calls will not use the managed identity")
	}
	return nil
}

func (c *Config) validateWebhookAuth() error {
	if c.WebhookUsername == "" && c.WebhookPassword != "" {
		return errors.New("WEBHOOK_USERNAME is required when WEBHOOK_PASSWORD is set")
	}
	if c.WebhookUsername != "" && c.WebhookPassword == "" {
		return errors.New("WEBHOOK_PASSWORD is required when WEBHOOK_USERNAME is set")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Port <= 0 {
		c.Port = defaultPort
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = defaultHTTPTimeout
	}
	if c.LedgerDSN == "" {
		c.LedgerDSN = defaultLedgerDSN
	}
}

func (c *Config) validateTiming() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be greater than 0")
	}
	if c.PollInterval < 10*time.Second {
		return fmt.Errorf("POLL_INTERVAL must be at least 10s, got %s", c.PollInterval)
	}
	if c.HTTPMaxRetries < 0 {
		return fmt.Errorf("HTTP_MAX_RETRIES must be >= 0")
	}
	return nil
}
