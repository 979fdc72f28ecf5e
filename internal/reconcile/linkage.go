package reconcile

import (
	"context"
	"fmt"
	"log"

	"github.com/cexll/notion-boards/internal/ledger"
)

// createFunc creates the counterpart record and returns the link it forms.
type createFunc func(ctx context.Context) (ledger.Link, error)

// writeBackFunc records the reverse pointer on the originating record.
type writeBackFunc func(ctx context.Context, link ledger.Link) error

// reusablePending returns the link left behind by an earlier attempt whose
// counterpart was created but whose write-back never completed.
func reusablePending(link ledger.Link, found bool) (ledger.Link, bool) {
	if !found || link.State != ledger.StatePending {
		return ledger.Link{}, false
	}
	return link, true
}

// createCounterpart runs the create half of the create-then-write-back
// sequence. A pending link from an earlier attempt is returned as-is instead
// of creating a second counterpart.
func (e *Engine) createCounterpart(ctx context.Context, pending ledger.Link, hasPending bool, create createFunc) (ledger.Link, bool, error) {
	if hasPending {
		log.Printf("[Linkage] Resuming pending link page=%s workItem=%d", pending.PageID, pending.WorkItemID)
		return pending, false, nil
	}
	link, err := create(ctx)
	if err != nil {
		return ledger.Link{}, false, err
	}
	link.State = ledger.StatePending
	e.record(ctx, link)
	return link, true, nil
}

// completeLink runs the write-back half and marks the link as established.
// Transient failures are already retried by the API clients; on failure the
// pending link stays in the ledger for the next run or redelivery to pick up.
func (e *Engine) completeLink(ctx context.Context, link ledger.Link, writeBack writeBackFunc) (ledger.Link, error) {
	if err := writeBack(ctx, link); err != nil {
		return link, fmt.Errorf("write back link page=%s workItem=%d: %w", link.PageID, link.WorkItemID, err)
	}
	link.State = ledger.StateLinked
	e.record(ctx, link)
	log.Printf("[Linkage] Linked page=%s workItem=%d", link.PageID, link.WorkItemID)
	return link, nil
}
