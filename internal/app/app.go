// Package app wires configuration into a ready-to-run sync service shared
// by the HTTP server, the one-shot CLI and the MCP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cexll/notion-boards/internal/azauth"
	"github.com/cexll/notion-boards/internal/boards"
	"github.com/cexll/notion-boards/internal/config"
	"github.com/cexll/notion-boards/internal/ledger"
	"github.com/cexll/notion-boards/internal/notion"
	"github.com/cexll/notion-boards/internal/reconcile"
	"github.com/cexll/notion-boards/internal/rest"
	"github.com/cexll/notion-boards/internal/runlog"
	"github.com/cexll/notion-boards/internal/scheduler"
	"github.com/cexll/notion-boards/internal/webhook"
)

// Dependencies are the external collaborators of a Service.
type Dependencies struct {
	Notion reconcile.NotionAPI
	Boards reconcile.BoardsAPI
	Tokens azauth.TokenSource
	Links  ledger.Store
	Runs   *runlog.Store
}

// Service owns the reconcile engine and everything it records into.
type Service struct {
	cfg    *config.Config
	engine *reconcile.Engine
	links  ledger.Store
	runs   *runlog.Store
}

var (
	openLedger            = ledger.Open
	newManagedIdentitySrc = func(clientID string) (azauth.TokenSource, error) {
		return azauth.NewManagedIdentitySource(clientID)
	}
)

// New builds a Service talking to the real Notion and Azure Boards APIs.
func New(cfg *config.Config) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}

	links, err := openLedger(cfg.LedgerDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	tokens, err := tokenSource(cfg)
	if err != nil {
		links.Close()
		return nil, err
	}

	restOpts := rest.Options{
		Timeout:    cfg.HTTPTimeout,
		MaxRetries: cfg.HTTPMaxRetries,
		UserAgent:  "notion-boards",
	}
	notionClient := notion.NewClient(notion.ClientOptions{
		BaseURL:       cfg.NotionBaseURL,
		Secret:        cfg.NotionSecret,
		APIVersion:    cfg.NotionAPIVersion,
		TitleProperty: cfg.NotionTitleProperty,
		LinkProperty:  cfg.NotionLinkProperty,
		REST:          restOpts,
	})
	boardsClient := boards.NewClient(boards.ClientOptions{
		BaseURL:      cfg.BoardsBaseURL,
		Organization: cfg.BoardsOrganization,
		Project:      cfg.BoardsProject,
		AssignedTo:   cfg.BoardsAssignedTo,
		REST:         restOpts,
	})

	svc, err := NewWithDependencies(cfg, Dependencies{
		Notion: notionClient,
		Boards: boardsClient,
		Tokens: tokens,
		Links:  links,
	})
	if err != nil {
		links.Close()
		return nil, err
	}
	return svc, nil
}

// NewWithDependencies builds a Service on caller-supplied collaborators.
// A nil Runs gets a fresh in-memory run log.
func NewWithDependencies(cfg *config.Config, deps Dependencies) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	engine, err := reconcile.New(reconcile.Config{
		DatabaseID:      cfg.NotionDatabaseID,
		BotIdentity:     cfg.BotIdentity,
		ChangeDetection: cfg.ChangeDetection,
	}, deps.Notion, deps.Boards, deps.Tokens, deps.Links)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize reconcile engine: %w", err)
	}

	runs := deps.Runs
	if runs == nil {
		runs = runlog.NewStore(0)
	}
	return &Service{cfg: cfg, engine: engine, links: deps.Links, runs: runs}, nil
}

func tokenSource(cfg *config.Config) (azauth.TokenSource, error) {
	if cfg.UsesPAT() {
		log.Printf("[App] Azure Boards auth: personal access token")
		return azauth.NewPATSource(cfg.BoardsPAT), nil
	}
	log.Printf("[App] Azure Boards auth: managed identity")
	src, err := newManagedIdentitySrc(cfg.ManagedIdentityClientID)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize managed identity: %w", err)
	}
	return src, nil
}

// Engine returns the reconcile engine, which also serves as the webhook
// Reconciler.
func (s *Service) Engine() *reconcile.Engine {
	return s.engine
}

// Runs returns the run log.
func (s *Service) Runs() *runlog.Store {
	return s.runs
}

// Poll runs one poll reconciliation and records it in the run log.
func (s *Service) Poll(ctx context.Context, trigger string) (*reconcile.PollResult, error) {
	id := s.runs.Start("poll", trigger)
	s.runs.AddLog(id, "info", fmt.Sprintf("Polling database %s", s.cfg.NotionDatabaseID))

	start := time.Now()
	result, err := s.engine.Reconcile(ctx)
	if err != nil {
		log.Printf("[Poll] run=%s trigger=%s failed after %s: %v", id, trigger, time.Since(start).Round(time.Millisecond), err)
		s.runs.AddLog(id, "error", err.Error())
		s.runs.Finish(id, "", nil, err)
		return nil, err
	}

	summary := fmt.Sprintf("pages=%d created=%d updated=%d unchanged=%d archived=%d missing=%d",
		result.Pages, result.Created, result.Updated, result.Unchanged, result.Archived, result.Missing)
	log.Printf("[Poll] run=%s trigger=%s completed in %s: %s", id, trigger, time.Since(start).Round(time.Millisecond), summary)
	s.runs.AddLog(id, "success", summary)
	s.runs.Finish(id, "completed", result, nil)
	return result, nil
}

// LookupLink returns the ledger entry for a page id or, when pageID is
// empty, for a work item id.
func (s *Service) LookupLink(ctx context.Context, pageID string, workItemID int) (ledger.Link, error) {
	if s.links == nil {
		return ledger.Link{}, ledger.ErrNotFound
	}
	pageID = strings.TrimSpace(pageID)
	switch {
	case pageID != "":
		return s.links.LookupByPage(ctx, pageID)
	case workItemID > 0:
		return s.links.LookupByWorkItem(ctx, workItemID)
	default:
		return ledger.Link{}, errors.New("page id or work item id is required")
	}
}

// NewWebhookHandler builds the service hook handler on this Service.
func (s *Service) NewWebhookHandler() (*webhook.Handler, error) {
	return webhook.NewHandler(webhook.Options{
		Username: s.cfg.WebhookUsername,
		Password: s.cfg.WebhookPassword,
	}, s.engine, s, s.runs)
}

// NewScheduler builds the periodic poll loop. It is not started.
func (s *Service) NewScheduler() *scheduler.Scheduler {
	return scheduler.New(s, scheduler.Config{
		Interval:   s.cfg.PollInterval,
		RunOnStart: s.cfg.PollOnStart,
		RunTimeout: s.cfg.PollInterval,
	})
}

// Close releases the ledger.
func (s *Service) Close() error {
	if s.links == nil {
		return nil
	}
	return s.links.Close()
}
