// Package reconcile decides, for each observed change on either side, whether
// to create, update or delete the counterpart record, and keeps the Notion
// page ↔ Azure Boards work item link unique and free of echo loops.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/cexll/notion-boards/internal/azauth"
	"github.com/cexll/notion-boards/internal/ledger"
	"github.com/cexll/notion-boards/internal/notion"
)

// NotionAPI is the subset of the Notion client the engine drives.
type NotionAPI interface {
	QueryDatabase(ctx context.Context, databaseID string) ([]notion.Page, error)
	CreatePage(ctx context.Context, databaseID, title string, workItemID int) (notion.Page, error)
	UpdatePage(ctx context.Context, pageID string, workItemID int, title *string) error
	DeletePage(ctx context.Context, pageID string) error
}

// BoardsAPI is the subset of the Azure Boards client the engine drives.
type BoardsAPI interface {
	CreateWorkItem(ctx context.Context, token, title, notionPageID string) (int, error)
	SyncWorkItem(ctx context.Context, token string, id int, title, notionPageID string) error
	DeleteWorkItem(ctx context.Context, token string, id int) error
}

// Config holds everything an invocation needs besides its collaborators.
type Config struct {
	DatabaseID string
	// BotIdentity is the actor name Azure Boards reports for writes made
	// with this service's credential.
	BotIdentity string
	// ChangeDetection skips the Boards write on poll when the page title
	// matches the last title recorded for a linked item.
	ChangeDetection bool
}

// Engine is safe for concurrent use by the poll and webhook paths.
type Engine struct {
	cfg    Config
	notion NotionAPI
	boards BoardsAPI
	tokens azauth.TokenSource
	links  ledger.Store
	locks  *keyedMutex
}

// New builds an Engine. links may be nil, in which case nothing is
// remembered between invocations.
func New(cfg Config, notionAPI NotionAPI, boardsAPI BoardsAPI, tokens azauth.TokenSource, links ledger.Store) (*Engine, error) {
	if strings.TrimSpace(cfg.DatabaseID) == "" {
		return nil, errors.New("reconcile: database id is required")
	}
	if strings.TrimSpace(cfg.BotIdentity) == "" {
		return nil, errors.New("reconcile: bot identity is required")
	}
	if notionAPI == nil || boardsAPI == nil || tokens == nil {
		return nil, errors.New("reconcile: notion, boards and token source are required")
	}
	return &Engine{
		cfg:    cfg,
		notion: notionAPI,
		boards: boardsAPI,
		tokens: tokens,
		links:  links,
		locks:  newKeyedMutex(),
	}, nil
}

// IsBotActor reports whether identity is the service's own bot identity.
func (e *Engine) IsBotActor(identity string) bool {
	return IsBotActor(identity, e.cfg.BotIdentity)
}

func (e *Engine) token(ctx context.Context) (string, error) {
	token, err := e.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("acquire boards token: %w", err)
	}
	return token, nil
}

// lookupByPage returns the recorded link for pageID, if any. Ledger read
// errors are logged and treated as a miss.
func (e *Engine) lookupByPage(ctx context.Context, pageID string) (ledger.Link, bool) {
	if e.links == nil || pageID == "" {
		return ledger.Link{}, false
	}
	link, err := e.links.LookupByPage(ctx, pageID)
	if err != nil {
		if !errors.Is(err, ledger.ErrNotFound) {
			log.Printf("[Ledger] Lookup for page %s failed: %v", pageID, err)
		}
		return ledger.Link{}, false
	}
	return link, true
}

func (e *Engine) lookupByWorkItem(ctx context.Context, workItemID int) (ledger.Link, bool) {
	if e.links == nil || workItemID == 0 {
		return ledger.Link{}, false
	}
	link, err := e.links.LookupByWorkItem(ctx, workItemID)
	if err != nil {
		if !errors.Is(err, ledger.ErrNotFound) {
			log.Printf("[Ledger] Lookup for work item %d failed: %v", workItemID, err)
		}
		return ledger.Link{}, false
	}
	return link, true
}

// record saves link; a ledger failure never fails the invocation since both
// remote records are already consistent.
func (e *Engine) record(ctx context.Context, link ledger.Link) {
	if e.links == nil {
		return
	}
	if err := e.links.Save(ctx, link); err != nil {
		log.Printf("[Ledger] Failed to record link page=%s workItem=%d: %v", link.PageID, link.WorkItemID, err)
	}
}

func (e *Engine) forget(ctx context.Context, pageID string, workItemID int) {
	if e.links == nil {
		return
	}
	if err := e.links.Delete(ctx, pageID, workItemID); err != nil {
		log.Printf("[Ledger] Failed to forget link page=%s workItem=%d: %v", pageID, workItemID, err)
	}
}

// invalidate drops a linked entry whose recorded title may no longer match
// either side, so the next poll writes the page through instead of skipping
// it. Pending entries are kept for resumption.
func (e *Engine) invalidate(ctx context.Context, pageID string) {
	if link, ok := e.lookupByPage(ctx, pageID); ok && link.State == ledger.StateLinked {
		e.forget(ctx, link.PageID, link.WorkItemID)
	}
}
