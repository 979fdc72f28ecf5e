package runlog

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

const defaultLimit = 200

// Run is one invocation of the poll path or a webhook reaction.
type Run struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Trigger    string     `json:"trigger,omitempty"`
	Status     Status     `json:"status"`
	Outcome    string     `json:"outcome,omitempty"`
	Detail     any        `json:"detail,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Logs       []LogEntry `json:"logs,omitempty"`
}

type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"` // info, error, success
	Message   string    `json:"message"`
}

// Store keeps the most recent runs in memory, evicting the oldest once the
// limit is reached.
type Store struct {
	mu    sync.RWMutex
	runs  map[string]*Run
	order []string
	limit int
	now   func() time.Time
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = defaultLimit
	}
	return &Store{
		runs:  make(map[string]*Run),
		limit: limit,
		now:   time.Now,
	}
}

// Start records a new running invocation and returns its id.
func (s *Store) Start(kind, trigger string) string {
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[id] = &Run{
		ID:        id,
		Kind:      kind,
		Trigger:   trigger,
		Status:    StatusRunning,
		StartedAt: s.now(),
	}
	s.order = append(s.order, id)
	for len(s.order) > s.limit {
		delete(s.runs, s.order[0])
		s.order = s.order[1:]
	}
	return id
}

func (s *Store) AddLog(id, level, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok {
		run.Logs = append(run.Logs, LogEntry{
			Timestamp: s.now(),
			Level:     level,
			Message:   message,
		})
	}
}

// Finish closes a run. A non-nil err marks it failed.
func (s *Store) Finish(id, outcome string, detail any, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return
	}
	finished := s.now()
	run.FinishedAt = &finished
	run.Outcome = outcome
	run.Detail = detail
	if err != nil {
		run.Status = StatusFailed
		run.Error = err.Error()
		return
	}
	run.Status = StatusCompleted
}

var ErrNotFound = errors.New("run not found")

// Get returns a copy of the run.
func (s *Store) Get(id string) (Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return Run{}, ErrNotFound
	}
	return copyRun(run), nil
}

// List returns copies of all retained runs, newest first.
func (s *Store) List() []Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := make([]Run, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		runs = append(runs, copyRun(s.runs[s.order[i]]))
	}
	// Stable keeps insertion order for identical start times.
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs
}

func copyRun(run *Run) Run {
	out := *run
	out.Logs = append([]LogEntry(nil), run.Logs...)
	if run.FinishedAt != nil {
		finished := *run.FinishedAt
		out.FinishedAt = &finished
	}
	return out
}
