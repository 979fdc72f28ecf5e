package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/cexll/notion-boards/internal/boards"
	"github.com/cexll/notion-boards/internal/ledger"
	"github.com/cexll/notion-boards/internal/notion"
)

// Outcome classifies how a webhook reaction ended.
type Outcome string

const (
	OutcomeIgnored    Outcome = "ignored"
	OutcomeUnchanged  Outcome = "unchanged"
	OutcomeNoLinkage  Outcome = "no_linkage"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeUpdated    Outcome = "updated"
	OutcomeCreated    Outcome = "created"
	OutcomeDeleted    Outcome = "deleted"
	OutcomeTombstoned Outcome = "tombstoned"
)

const (
	MessageCompleted      = "Completed."
	MessageNoNotionPageID = "Not found Notion page id."
)

// Result is the status reported back to the webhook sender.
type Result struct {
	Outcome    Outcome `json:"outcome"`
	Message    string  `json:"message"`
	PageID     string  `json:"pageId,omitempty"`
	WorkItemID int     `json:"workItemId,omitempty"`
}

func newResult(outcome Outcome, pageID string, workItemID int) *Result {
	message := MessageCompleted
	switch outcome {
	case OutcomeNoLinkage:
		message = MessageNoNotionPageID
	case OutcomeUpdated:
		message = "Notion page updated."
	case OutcomeCreated:
		message = "Notion page created."
	case OutcomeDeleted:
		message = "Notion page deleted."
	case OutcomeTombstoned:
		message = "Notion page not found, work item deleted."
	}
	return &Result{Outcome: outcome, Message: message, PageID: pageID, WorkItemID: workItemID}
}

// WorkItemUpdate is one revision of a work item as reported by Azure Boards.
type WorkItemUpdate struct {
	WorkItemID   int
	RevisedBy    string
	NotionPageID string
	// NewTitle is nil when the revision did not touch the title.
	NewTitle *string
}

// WorkItemCreation describes a newly created work item.
type WorkItemCreation struct {
	WorkItemID int
	Title      string
	CreatedBy  string
}

// WorkItemDeletion describes a deleted work item.
type WorkItemDeletion struct {
	WorkItemID   int
	NotionPageID string
}

// HandleWorkItemUpdated propagates a human title change to the linked page.
// A linked page that no longer exists causes the work item to be deleted.
func (e *Engine) HandleWorkItemUpdated(ctx context.Context, ev WorkItemUpdate) (*Result, error) {
	if e.IsBotActor(ev.RevisedBy) {
		log.Printf("[Webhook] Work item %d revised by bot, ignoring", ev.WorkItemID)
		return newResult(OutcomeIgnored, ev.NotionPageID, ev.WorkItemID), nil
	}
	if ev.NewTitle == nil {
		log.Printf("[Webhook] Work item %d revision has no title change", ev.WorkItemID)
		return newResult(OutcomeUnchanged, ev.NotionPageID, ev.WorkItemID), nil
	}
	pageID := strings.TrimSpace(ev.NotionPageID)
	if pageID == "" {
		log.Printf("[Webhook] Work item %d has no linked Notion page", ev.WorkItemID)
		return newResult(OutcomeNoLinkage, "", ev.WorkItemID), nil
	}

	unlock := e.locks.LockAll(pageKey(pageID), workItemKey(ev.WorkItemID))
	defer unlock()

	err := e.notion.UpdatePage(ctx, pageID, ev.WorkItemID, ev.NewTitle)
	if errors.Is(err, notion.ErrNotFound) {
		log.Printf("[Webhook] Notion page %s is gone, deleting work item %d", pageID, ev.WorkItemID)
		if err := e.deleteWorkItem(ctx, ev.WorkItemID); err != nil {
			return nil, err
		}
		e.forget(ctx, pageID, ev.WorkItemID)
		return newResult(OutcomeTombstoned, pageID, ev.WorkItemID), nil
	}
	if err != nil {
		e.invalidate(ctx, pageID)
		return nil, fmt.Errorf("update notion page %s: %w", pageID, err)
	}

	e.record(ctx, ledger.Link{
		PageID:     pageID,
		WorkItemID: ev.WorkItemID,
		Title:      *ev.NewTitle,
		State:      ledger.StateLinked,
	})
	log.Printf("[Webhook] Page %s updated from work item %d", pageID, ev.WorkItemID)
	return newResult(OutcomeUpdated, pageID, ev.WorkItemID), nil
}

// HandleWorkItemCreated creates a page for a work item a human created and
// writes the page id back onto the work item.
func (e *Engine) HandleWorkItemCreated(ctx context.Context, ev WorkItemCreation) (*Result, error) {
	if e.IsBotActor(ev.CreatedBy) {
		log.Printf("[Webhook] Work item %d created by bot, ignoring", ev.WorkItemID)
		return newResult(OutcomeIgnored, "", ev.WorkItemID), nil
	}

	token, err := e.token(ctx)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.LockAll(workItemKey(ev.WorkItemID))
	defer unlock()

	known, found := e.lookupByWorkItem(ctx, ev.WorkItemID)
	if found && known.State == ledger.StateLinked {
		log.Printf("[Webhook] Work item %d already linked to page %s, ignoring redelivery", ev.WorkItemID, known.PageID)
		return newResult(OutcomeDuplicate, known.PageID, ev.WorkItemID), nil
	}
	pending, hasPending := reusablePending(known, found)

	link, _, err := e.createCounterpart(ctx, pending, hasPending, func(ctx context.Context) (ledger.Link, error) {
		page, err := e.notion.CreatePage(ctx, e.cfg.DatabaseID, ev.Title, ev.WorkItemID)
		if err != nil {
			return ledger.Link{}, fmt.Errorf("create notion page for work item %d: %w", ev.WorkItemID, err)
		}
		log.Printf("[Webhook] Created page %s for work item %d", page.ID, ev.WorkItemID)
		return ledger.Link{PageID: page.ID, WorkItemID: ev.WorkItemID, Title: ev.Title}, nil
	})
	if err != nil {
		return nil, err
	}

	_, err = e.completeLink(ctx, link, func(ctx context.Context, link ledger.Link) error {
		return e.boards.SyncWorkItem(ctx, token, link.WorkItemID, ev.Title, link.PageID)
	})
	if errors.Is(err, boards.ErrNotFound) {
		log.Printf("[Webhook] Work item %d is gone, deleting page %s", ev.WorkItemID, link.PageID)
		if err := e.deletePage(ctx, link.PageID); err != nil {
			return nil, err
		}
		e.forget(ctx, link.PageID, link.WorkItemID)
		return newResult(OutcomeTombstoned, link.PageID, ev.WorkItemID), nil
	}
	if err != nil {
		return nil, err
	}
	return newResult(OutcomeCreated, link.PageID, ev.WorkItemID), nil
}

// HandleWorkItemDeleted deletes the page linked from a deleted work item.
// Deletions are always treated as human, so the bot identity is not checked.
func (e *Engine) HandleWorkItemDeleted(ctx context.Context, ev WorkItemDeletion) (*Result, error) {
	pageID := strings.TrimSpace(ev.NotionPageID)
	if pageID == "" {
		return newResult(OutcomeNoLinkage, "", ev.WorkItemID), nil
	}

	unlock := e.locks.LockAll(pageKey(pageID), workItemKey(ev.WorkItemID))
	defer unlock()

	if err := e.deletePage(ctx, pageID); err != nil {
		return nil, err
	}
	e.forget(ctx, pageID, ev.WorkItemID)
	log.Printf("[Webhook] Page %s deleted after work item %d was removed", pageID, ev.WorkItemID)
	return newResult(OutcomeDeleted, pageID, ev.WorkItemID), nil
}

// deletePage treats an already missing page as deleted.
func (e *Engine) deletePage(ctx context.Context, pageID string) error {
	err := e.notion.DeletePage(ctx, pageID)
	if errors.Is(err, notion.ErrNotFound) {
		log.Printf("[Webhook] Notion page %s already deleted", pageID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete notion page %s: %w", pageID, err)
	}
	return nil
}

func (e *Engine) deleteWorkItem(ctx context.Context, id int) error {
	token, err := e.token(ctx)
	if err != nil {
		return err
	}
	err = e.boards.DeleteWorkItem(ctx, token, id)
	if errors.Is(err, boards.ErrNotFound) {
		log.Printf("[Webhook] Work item %d already deleted", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete work item %d: %w", id, err)
	}
	return nil
}
