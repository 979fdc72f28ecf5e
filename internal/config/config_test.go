package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var configKeys = []string{
	"PORT",
	"NOTION_BASE_URL",
	"NOTION_SECRET",
	"NOTION_DATABASE_ID",
	"NOTION_TITLE_PROPERTY",
	"NOTION_LINK_PROPERTY",
	"NOTION_API_VERSION",
	"AZURE_BOARDS_BASE_URL",
	"AZURE_BOARDS_ORGANIZATION",
	"AZURE_BOARDS_PROJECT",
	"AZURE_BOARDS_ASSIGNED_TO",
	"AZURE_BOARDS_PAT",
	"MANAGED_IDENTITY_CLIENT_ID",
	"BOT_IDENTITY",
	"WEBHOOK_USERNAME",
	"WEBHOOK_PASSWORD",
	"POLL_INTERVAL",
	"POLL_ON_START",
	"LEDGER_DSN",
	"SYNC_CHANGE_DETECTION",
	"HTTP_TIMEOUT",
	"HTTP_MAX_RETRIES",
}

// setEnv blanks every known key, then applies env. Empty values count as
// unset for the loader.
func setEnv(t *testing.T, env map[string]string) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
	}
	for k, v := range env {
		t.Setenv(k, v)
	}
}

func requiredEnv() map[string]string {
	return map[string]string{
		"NOTION_SECRET":             "secret_abc",
		"NOTION_DATABASE_ID":        "db-123",
		"AZURE_BOARDS_ORGANIZATION": "contoso",
		"AZURE_BOARDS_PROJECT":      "backlog",
	}
}

func withEnv(extra map[string]string) map[string]string {
	env := requiredEnv()
	for k, v := range extra {
		env[k] = v
	}
	return env
}

func without(key string) map[string]string {
	env := requiredEnv()
	delete(env, key)
	return env
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
		check   func(*testing.T, *Config)
	}{
		{
			name: "all fields present",
			env: withEnv(map[string]string{
				"PORT":                     "8080",
				"NOTION_TITLE_PROPERTY":    "Name",
				"NOTION_LINK_PROPERTY":     "Work Item",
				"AZURE_BOARDS_ASSIGNED_TO": "jane@example.com",
				"BOT_IDENTITY":             "sync-bot <00000000-0000-0000-0000-000000000000>",
				"WEBHOOK_USERNAME":         "hook",
				"WEBHOOK_PASSWORD":         "s3cret",
				"POLL_INTERVAL":            "90s",
				"POLL_ON_START":            "true",
				"LEDGER_DSN":               "sqlite:///var/lib/links.db",
				"SYNC_CHANGE_DETECTION":    "false",
				"HTTP_TIMEOUT":             "5s",
				"HTTP_MAX_RETRIES":         "0",
			}),
			check: func(t *testing.T, cfg *Config) {
				if cfg.Port != 8080 {
					t.Errorf("Port = %d, want 8080", cfg.Port)
				}
				if cfg.NotionTitleProperty != "Name" {
					t.Errorf("NotionTitleProperty = %s, want Name", cfg.NotionTitleProperty)
				}
				if cfg.NotionLinkProperty != "Work Item" {
					t.Errorf("NotionLinkProperty = %s, want Work Item", cfg.NotionLinkProperty)
				}
				if cfg.BoardsAssignedTo != "jane@example.com" {
					t.Errorf("BoardsAssignedTo = %s", cfg.BoardsAssignedTo)
				}
				if cfg.BotIdentity != "sync-bot <00000000-0000-0000-0000-000000000000>" {
					t.Errorf("BotIdentity = %s", cfg.BotIdentity)
				}
				if !cfg.WebhookAuthEnabled() {
					t.Error("WebhookAuthEnabled() = false, want true")
				}
				if cfg.PollInterval != 90*time.Second {
					t.Errorf("PollInterval = %s, want 90s", cfg.PollInterval)
				}
				if !cfg.PollOnStart {
					t.Error("PollOnStart = false, want true")
				}
				if cfg.LedgerDSN != "sqlite:///var/lib/links.db" {
					t.Errorf("LedgerDSN = %s", cfg.LedgerDSN)
				}
				if cfg.ChangeDetection {
					t.Error("ChangeDetection = true, want false")
				}
				if cfg.HTTPTimeout != 5*time.Second {
					t.Errorf("HTTPTimeout = %s, want 5s", cfg.HTTPTimeout)
				}
				if cfg.HTTPMaxRetries != 0 {
					t.Errorf("HTTPMaxRetries = %d, want 0", cfg.HTTPMaxRetries)
				}
			},
		},
		{
			name: "defaults",
			env:  requiredEnv(),
			check: func(t *testing.T, cfg *Config) {
				if cfg.Port != 8000 {
					t.Errorf("Port = %d, want 8000 (default)", cfg.Port)
				}
				if cfg.NotionTitleProperty != "名前" {
					t.Errorf("NotionTitleProperty = %s, want 名前", cfg.NotionTitleProperty)
				}
				if cfg.NotionLinkProperty != "Azure Board Item Id" {
					t.Errorf("NotionLinkProperty = %s, want Azure Board Item Id", cfg.NotionLinkProperty)
				}
				if cfg.NotionAPIVersion != "2022-06-28" {
					t.Errorf("NotionAPIVersion = %s, want 2022-06-28", cfg.NotionAPIVersion)
				}
				if cfg.BotIdentity != DefaultBotIdentity {
					t.Errorf("BotIdentity = %s, want default", cfg.BotIdentity)
				}
				if cfg.PollInterval != 5*time.Minute {
					t.Errorf("PollInterval = %s, want 5m", cfg.PollInterval)
				}
				if cfg.PollOnStart {
					t.Error("PollOnStart = true, want false")
				}
				if cfg.LedgerDSN != "memory://" {
					t.Errorf("LedgerDSN = %s, want memory://", cfg.LedgerDSN)
				}
				if !cfg.ChangeDetection {
					t.Error("ChangeDetection = false, want true")
				}
				if cfg.HTTPTimeout != 20*time.Second {
					t.Errorf("HTTPTimeout = %s, want 20s", cfg.HTTPTimeout)
				}
				if cfg.HTTPMaxRetries != 3 {
					t.Errorf("HTTPMaxRetries = %d, want 3", cfg.HTTPMaxRetries)
				}
				if cfg.UsesPAT() {
					t.Error("UsesPAT() = true, want false")
				}
				if cfg.WebhookAuthEnabled() {
					t.Error("WebhookAuthEnabled() = true, want false")
				}
			},
		},
		{
			name:    "missing NOTION_SECRET",
			env:     without("NOTION_SECRET"),
			wantErr: "NOTION_SECRET",
		},
		{
			name:    "missing NOTION_DATABASE_ID",
			env:     without("NOTION_DATABASE_ID"),
			wantErr: "NOTION_DATABASE_ID",
		},
		{
			name:    "missing AZURE_BOARDS_ORGANIZATION",
			env:     without("AZURE_BOARDS_ORGANIZATION"),
			wantErr: "AZURE_BOARDS_ORGANIZATION",
		},
		{
			name:    "missing AZURE_BOARDS_PROJECT",
			env:     without("AZURE_BOARDS_PROJECT"),
			wantErr: "AZURE_BOARDS_PROJECT",
		},
		{
			name:    "webhook password without username",
			env:     withEnv(map[string]string{"WEBHOOK_PASSWORD": "x"}),
			wantErr: "WEBHOOK_USERNAME",
		},
		{
			name:    "webhook username without password",
			env:     withEnv(map[string]string{"WEBHOOK_USERNAME": "x"}),
			wantErr: "WEBHOOK_PASSWORD",
		},
		{
			name:    "poll interval too short",
			env:     withEnv(map[string]string{"POLL_INTERVAL": "1s"}),
			wantErr: "POLL_INTERVAL",
		},
		{
			name:    "negative retries",
			env:     withEnv(map[string]string{"HTTP_MAX_RETRIES": "-1"}),
			wantErr: "HTTP_MAX_RETRIES",
		},
		{
			name: "invalid port number",
			env:  withEnv(map[string]string{"PORT": "invalid"}),
			check: func(t *testing.T, cfg *Config) {
				// Invalid port should fall back to default
				if cfg.Port != 8000 {
					t.Errorf("Port = %d, want 8000 (default for invalid)", cfg.Port)
				}
			},
		},
		{
			name: "quoted secrets are unwrapped",
			env: withEnv(map[string]string{
				"NOTION_SECRET":    `"secret_quoted"`,
				"AZURE_BOARDS_PAT": "'pat-value'",
			}),
			check: func(t *testing.T, cfg *Config) {
				if cfg.NotionSecret != "secret_quoted" {
					t.Errorf("NotionSecret = %q, want secret_quoted", cfg.NotionSecret)
				}
				if cfg.BoardsPAT != "pat-value" {
					t.Errorf("BoardsPAT = %q, want pat-value", cfg.BoardsPAT)
				}
				if !cfg.UsesPAT() {
					t.Error("UsesPAT() = false, want true")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t, tt.env)

			cfg, err := Load()

			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("Load() error = nil, want error containing %q", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Load() error = %v, want it to mention %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() unexpected error: %v", err)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestLoadFileLayersEnvironmentOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notion-boards.yaml")
	content := `
notion_secret: from-file
notion_database_id: db-file
azure_boards_organization: contoso
azure_boards_project: backlog
poll_interval: 2m
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	setEnv(t, map[string]string{"NOTION_DATABASE_ID": "db-env"})

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.NotionSecret != "from-file" {
		t.Errorf("NotionSecret = %s, want from-file", cfg.NotionSecret)
	}
	if cfg.NotionDatabaseID != "db-env" {
		t.Errorf("NotionDatabaseID = %s, want db-env", cfg.NotionDatabaseID)
	}
	if cfg.PollInterval != 2*time.Minute {
		t.Errorf("PollInterval = %s, want 2m", cfg.PollInterval)
	}
}

func TestLoadFileMissing(t *testing.T) {
	setEnv(t, requiredEnv())
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("LoadFile() error = nil, want error for missing file")
	}
}

func TestNormalizeSecret(t *testing.T) {
	tests := map[string]string{
		"":            "",
		"  plain  ":   "plain",
		`"quoted"`:    "quoted",
		"'single'":    "single",
		`"unbalanced`: `"unbalanced`,
		`"`:           `"`,
	}
	for in, want := range tests {
		if got := normalizeSecret(in); got != want {
			t.Errorf("normalizeSecret(%q) = %q, want %q", in, got, want)
		}
	}
}
