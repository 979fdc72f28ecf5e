// Package ledger records the page ↔ work item links the sync has
// established, so that an interrupted create/write-back can be completed
// instead of repeated, and unchanged titles can be skipped.
package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups that match no link.
var ErrNotFound = errors.New("link not found")

// State of a recorded link.
type State string

const (
	// StatePending: the counterpart exists but the reverse pointer has not
	// been written back yet.
	StatePending State = "pending"
	// StateLinked: both records point at each other.
	StateLinked State = "linked"
)

// Link is one Backlog Item as seen by the sync.
type Link struct {
	PageID     string
	WorkItemID int
	// Title is the last title written to either side.
	Title     string
	State     State
	UpdatedAt time.Time
}

// Store persists links. Implementations keep both PageID and WorkItemID
// unique: saving a link evicts any other link holding the same work item.
type Store interface {
	LookupByPage(ctx context.Context, pageID string) (Link, error)
	LookupByWorkItem(ctx context.Context, workItemID int) (Link, error)
	Save(ctx context.Context, link Link) error
	// Delete removes links matching pageID or workItemID; zero values are ignored.
	Delete(ctx context.Context, pageID string, workItemID int) error
	Close() error
}
