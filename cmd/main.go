package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/cexll/notion-boards/internal/app"
	"github.com/cexll/notion-boards/internal/config"
)

var (
	loadDotEnv         = godotenv.Load
	loadConfig         = config.LoadFile
	newService         = app.New
	defaultListenServe = http.ListenAndServe
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatalf("notion-boards failed: %v", err)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and the poll scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, defaultListenServe)
		},
	}

	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one poll reconciliation and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return reconcileOnce(cmd.Context(), configPath, cmd.OutOrStdout())
		},
	}

	root := &cobra.Command{
		Use:           "notion-boards",
		Short:         "Keep a Notion database and Azure Boards backlog items in sync",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          serveCmd.RunE,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "optional YAML config file; environment variables take precedence")
	root.AddCommand(serveCmd, reconcileCmd)
	return root
}

func setup(configPath string) (*config.Config, *app.Service, error) {
	// Load .env file (ignore error if file doesn't exist)
	_ = loadDotEnv()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	svc, err := newService(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize service: %w", err)
	}
	return cfg, svc, nil
}

func run(ctx context.Context, configPath string, serve func(string, http.Handler) error) error {
	cfg, svc, err := setup(configPath)
	if err != nil {
		return err
	}
	defer svc.Close()

	log.Printf("Starting notion-boards server...")
	log.Printf("Port: %d", cfg.Port)
	log.Printf("Notion database: %s", cfg.NotionDatabaseID)
	log.Printf("Azure Boards: %s/%s", cfg.BoardsOrganization, cfg.BoardsProject)
	log.Printf("Poll interval: %s, poll on start: %t", cfg.PollInterval, cfg.PollOnStart)
	log.Printf("Webhook basic auth: %t", cfg.WebhookAuthEnabled())

	handler, err := svc.NewWebhookHandler()
	if err != nil {
		return fmt.Errorf("failed to initialize webhook handler: %w", err)
	}

	sched := svc.NewScheduler()
	sched.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		sched.Shutdown(shutdownCtx)
	}()

	// Setup router
	r := mux.NewRouter()

	// Poll trigger and service hook endpoints
	handler.RegisterRoutes(r)

	// Run log endpoints
	svc.Runs().RegisterRoutes(r)

	// Health check endpoint
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	// Root endpoint with info
	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"service":"notion-boards","status":"running","database":%q,"pollInterval":%q}`,
			cfg.NotionDatabaseID, cfg.PollInterval.String())
	}).Methods("GET")

	// Start server
	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Printf("Server listening on %s", addr)
	log.Printf("Poll trigger: http://localhost%s/notion-to-boards", addr)
	log.Printf("Service hooks: http://localhost%s/boards-webhook-updated, /boards-created-webhook, /boards-deleted-webhook", addr)
	log.Printf("Health check: http://localhost%s/health", addr)
	log.Printf("Runs: http://localhost%s/runs", addr)

	if err := serve(addr, r); err != nil {
		return fmt.Errorf("server failed to start: %w", err)
	}

	return nil
}

func reconcileOnce(ctx context.Context, configPath string, out io.Writer) error {
	_, svc, err := setup(configPath)
	if err != nil {
		return err
	}
	defer svc.Close()

	result, err := svc.Poll(ctx, "cli")
	if err != nil {
		return fmt.Errorf("reconcile failed: %w", err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
