package ledger

import (
	"context"
	"sync"
	"time"
)

type MemoryStore struct {
	mu         sync.RWMutex
	byPage     map[string]Link
	byWorkItem map[int]string
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byPage:     make(map[string]Link),
		byWorkItem: make(map[int]string),
		now:        time.Now,
	}
}

func (s *MemoryStore) LookupByPage(ctx context.Context, pageID string) (Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	link, ok := s.byPage[pageID]
	if !ok {
		return Link{}, ErrNotFound
	}
	return link, nil
}

func (s *MemoryStore) LookupByWorkItem(ctx context.Context, workItemID int) (Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pageID, ok := s.byWorkItem[workItemID]
	if !ok {
		return Link{}, ErrNotFound
	}
	return s.byPage[pageID], nil
}

func (s *MemoryStore) Save(ctx context.Context, link Link) error {
	if err := validate(link); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if other, ok := s.byWorkItem[link.WorkItemID]; ok && other != link.PageID {
		delete(s.byPage, other)
	}
	if prev, ok := s.byPage[link.PageID]; ok && prev.WorkItemID != link.WorkItemID {
		delete(s.byWorkItem, prev.WorkItemID)
	}
	link.UpdatedAt = s.now()
	s.byPage[link.PageID] = link
	s.byWorkItem[link.WorkItemID] = link.PageID
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, pageID string, workItemID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pageID != "" {
		if link, ok := s.byPage[pageID]; ok {
			delete(s.byWorkItem, link.WorkItemID)
			delete(s.byPage, pageID)
		}
	}
	if workItemID != 0 {
		if other, ok := s.byWorkItem[workItemID]; ok {
			delete(s.byPage, other)
			delete(s.byWorkItem, workItemID)
		}
	}
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
