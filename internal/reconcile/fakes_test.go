package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/cexll/notion-boards/internal/boards"
	"github.com/cexll/notion-boards/internal/ledger"
	"github.com/cexll/notion-boards/internal/notion"
	"github.com/stretchr/testify/require"
)

const testBot = "id-notion-boards <b0434342-f91d-48f2-b83a-9de247dd222f>"

// callLog records calls against both fakes in the order they happen.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeNotion struct {
	log    *callLog
	mu     sync.Mutex
	order  []string
	pages  map[string]*notion.Page
	nextID int

	queryErr      error
	updateErrs    []error
	createErr     error
	deleteErr     error
	deletedPageID []string
}

func newFakeNotion(log *callLog, pages ...notion.Page) *fakeNotion {
	f := &fakeNotion{log: log, pages: make(map[string]*notion.Page)}
	for i := range pages {
		page := pages[i]
		f.order = append(f.order, page.ID)
		f.pages[page.ID] = &page
	}
	return f
}

func (f *fakeNotion) QueryDatabase(ctx context.Context, databaseID string) ([]notion.Page, error) {
	f.log.add("notion.query:%s", databaseID)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]notion.Page, 0, len(f.order))
	for _, id := range f.order {
		if page, ok := f.pages[id]; ok {
			copied := *page
			if page.LinkedWorkItemID != nil {
				v := *page.LinkedWorkItemID
				copied.LinkedWorkItemID = &v
			}
			out = append(out, copied)
		}
	}
	return out, nil
}

func (f *fakeNotion) CreatePage(ctx context.Context, databaseID, title string, workItemID int) (notion.Page, error) {
	f.log.add("notion.create:%s:%d", title, workItemID)
	if f.createErr != nil {
		return notion.Page{}, f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("new-page-%d", f.nextID)
	link := workItemID
	page := &notion.Page{ID: id, Title: title, LinkedWorkItemID: &link}
	f.order = append(f.order, id)
	f.pages[id] = page
	return *page, nil
}

func (f *fakeNotion) UpdatePage(ctx context.Context, pageID string, workItemID int, title *string) error {
	if title != nil {
		f.log.add("notion.update:%s:%d:%s", pageID, workItemID, *title)
	} else {
		f.log.add("notion.update:%s:%d", pageID, workItemID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.updateErrs) > 0 {
		err := f.updateErrs[0]
		f.updateErrs = f.updateErrs[1:]
		if err != nil {
			return err
		}
	}
	page, ok := f.pages[pageID]
	if !ok {
		return fmt.Errorf("update page %s: %w", pageID, notion.ErrNotFound)
	}
	link := workItemID
	page.LinkedWorkItemID = &link
	if title != nil {
		page.Title = *title
	}
	return nil
}

func (f *fakeNotion) DeletePage(ctx context.Context, pageID string) error {
	f.log.add("notion.delete:%s", pageID)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedPageID = append(f.deletedPageID, pageID)
	if _, ok := f.pages[pageID]; !ok {
		return fmt.Errorf("delete page %s: %w", pageID, notion.ErrNotFound)
	}
	delete(f.pages, pageID)
	return nil
}

func (f *fakeNotion) page(id string) (notion.Page, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page, ok := f.pages[id]
	if !ok {
		return notion.Page{}, false
	}
	return *page, true
}

type workItem struct {
	Title        string
	NotionPageID string
}

type fakeBoards struct {
	log    *callLog
	mu     sync.Mutex
	items  map[int]*workItem
	nextID int

	createErr error
	syncErr   error
	tokens    []string
}

func newFakeBoards(log *callLog, firstID int) *fakeBoards {
	return &fakeBoards{log: log, items: make(map[int]*workItem), nextID: firstID}
}

func (f *fakeBoards) CreateWorkItem(ctx context.Context, token, title, notionPageID string) (int, error) {
	f.log.add("boards.create:%s:%s", title, notionPageID)
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
	id := f.nextID
	f.nextID++
	f.items[id] = &workItem{Title: title, NotionPageID: notionPageID}
	return id, nil
}

func (f *fakeBoards) SyncWorkItem(ctx context.Context, token string, id int, title, notionPageID string) error {
	f.log.add("boards.sync:%d:%s:%s", id, title, notionPageID)
	if f.syncErr != nil {
		return f.syncErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
	item, ok := f.items[id]
	if !ok {
		return fmt.Errorf("update work item %d: %w", id, boards.ErrNotFound)
	}
	item.Title = title
	item.NotionPageID = notionPageID
	return nil
}

func (f *fakeBoards) DeleteWorkItem(ctx context.Context, token string, id int) error {
	f.log.add("boards.delete:%d", id)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[id]; !ok {
		return fmt.Errorf("delete work item %d: %w", id, boards.ErrNotFound)
	}
	delete(f.items, id)
	return nil
}

func (f *fakeBoards) seed(id int, title, notionPageID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[id] = &workItem{Title: title, NotionPageID: notionPageID}
}

func (f *fakeBoards) item(id int) (workItem, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return workItem{}, false
	}
	return *item, true
}

type fakeTokens struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeTokens) Token(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("token-%d", f.calls), nil
}

type harness struct {
	log    *callLog
	notion *fakeNotion
	boards *fakeBoards
	tokens *fakeTokens
	links  ledger.Store
	engine *Engine
}

type harnessOption func(*Config)

func withoutChangeDetection() harnessOption {
	return func(c *Config) { c.ChangeDetection = false }
}

func newHarness(t *testing.T, pages []notion.Page, opts ...harnessOption) *harness {
	t.Helper()
	log := &callLog{}
	h := &harness{
		log:    log,
		notion: newFakeNotion(log, pages...),
		boards: newFakeBoards(log, 101),
		tokens: &fakeTokens{},
		links:  ledger.NewMemoryStore(),
	}
	cfg := Config{
		DatabaseID:      "db-1",
		BotIdentity:     testBot,
		ChangeDetection: true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	engine, err := New(cfg, h.notion, h.boards, h.tokens, h.links)
	require.NoError(t, err)
	h.engine = engine
	return h
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

var errBoom = errors.New("boom")
