package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/cexll/notion-boards/internal/boards"
	"github.com/cexll/notion-boards/internal/ledger"
	"github.com/cexll/notion-boards/internal/notion"
)

// PollResult summarises one poll run.
type PollResult struct {
	Pages     int `json:"pages"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Archived  int `json:"archived"`
	// Missing counts linked pages whose work item no longer exists.
	Missing int `json:"missing"`
}

// Reconcile brings every page of the configured database into agreement with
// its work item, creating one for pages that have none. Pages are handled in
// query order; reverse links for newly created work items are written once
// every page has been visited. The first page error ends the run, but reverse
// links for work items created before it are still written.
func (e *Engine) Reconcile(ctx context.Context) (*PollResult, error) {
	result := &PollResult{}

	token, err := e.token(ctx)
	if err != nil {
		return result, err
	}

	pages, err := e.notion.QueryDatabase(ctx, e.cfg.DatabaseID)
	if err != nil {
		return result, fmt.Errorf("query notion database: %w", err)
	}
	result.Pages = len(pages)
	log.Printf("[Poll] Fetched %d pages from database %s", len(pages), e.cfg.DatabaseID)

	var created []ledger.Link
	abort := func(err error) (*PollResult, error) {
		if len(created) > 0 {
			if wbErr := e.linkCreated(context.WithoutCancel(ctx), created, result); wbErr != nil {
				log.Printf("[Poll] Write-back after aborted run failed: %v", wbErr)
			}
		}
		return result, err
	}

	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return abort(err)
		}
		if page.Archived {
			result.Archived++
			continue
		}

		if page.LinkedWorkItemID != nil {
			if err := e.syncPage(ctx, token, page, result); err != nil {
				return abort(err)
			}
			continue
		}

		link, err := e.createForPage(ctx, token, page)
		if err != nil {
			return abort(err)
		}
		created = append(created, link)
	}

	if err := e.linkCreated(ctx, created, result); err != nil {
		return result, err
	}

	log.Printf("[Poll] Run finished: pages=%d created=%d updated=%d unchanged=%d missing=%d",
		result.Pages, result.Created, result.Updated, result.Unchanged, result.Missing)
	return result, nil
}

// linkCreated writes the reverse link of every created work item, counting
// the ones that complete. A failed write-back does not stop the others.
func (e *Engine) linkCreated(ctx context.Context, created []ledger.Link, result *PollResult) error {
	var errs []error
	for _, link := range created {
		if err := e.writeBackPage(ctx, link); err != nil {
			errs = append(errs, err)
			continue
		}
		result.Created++
	}
	return errors.Join(errs...)
}

func (e *Engine) syncPage(ctx context.Context, token string, page notion.Page, result *PollResult) error {
	workItemID := *page.LinkedWorkItemID
	unlock := e.locks.LockAll(pageKey(page.ID), workItemKey(workItemID))
	defer unlock()

	if e.cfg.ChangeDetection {
		if link, ok := e.lookupByPage(ctx, page.ID); ok &&
			link.State == ledger.StateLinked &&
			link.WorkItemID == workItemID &&
			link.Title == page.Title {
			result.Unchanged++
			return nil
		}
	}

	err := e.boards.SyncWorkItem(ctx, token, workItemID, page.Title, page.ID)
	if errors.Is(err, boards.ErrNotFound) {
		log.Printf("[Poll] Work item %d linked from page %s no longer exists, skipping", workItemID, page.ID)
		e.forget(ctx, page.ID, workItemID)
		result.Missing++
		return nil
	}
	if err != nil {
		return fmt.Errorf("sync work item %d for page %s: %w", workItemID, page.ID, err)
	}

	e.record(ctx, ledger.Link{
		PageID:     page.ID,
		WorkItemID: workItemID,
		Title:      page.Title,
		State:      ledger.StateLinked,
	})
	result.Updated++
	return nil
}

func (e *Engine) createForPage(ctx context.Context, token string, page notion.Page) (ledger.Link, error) {
	keys := []string{pageKey(page.ID)}
	if known, ok := e.lookupByPage(ctx, page.ID); ok {
		keys = append(keys, workItemKey(known.WorkItemID))
	}
	unlock := e.locks.LockAll(keys...)
	defer unlock()

	pending, hasPending := reusablePending(e.lookupByPage(ctx, page.ID))
	link, _, err := e.createCounterpart(ctx, pending, hasPending, func(ctx context.Context) (ledger.Link, error) {
		id, err := e.boards.CreateWorkItem(ctx, token, page.Title, page.ID)
		if err != nil {
			return ledger.Link{}, fmt.Errorf("create work item for page %s: %w", page.ID, err)
		}
		log.Printf("[Poll] Created work item %d for page %s", id, page.ID)
		return ledger.Link{PageID: page.ID, WorkItemID: id, Title: page.Title}, nil
	})
	return link, err
}

func (e *Engine) writeBackPage(ctx context.Context, link ledger.Link) error {
	unlock := e.locks.LockAll(pageKey(link.PageID), workItemKey(link.WorkItemID))
	defer unlock()

	_, err := e.completeLink(ctx, link, func(ctx context.Context, link ledger.Link) error {
		return e.notion.UpdatePage(ctx, link.PageID, link.WorkItemID, nil)
	})
	return err
}
