package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	linksTableName   = "backlog_links"
	operationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

type dialect struct {
	driver string
	// rebind rewrites "?" placeholders for drivers that need positional ones.
	rebind func(query string) string
}

var (
	sqliteDialect   = dialect{driver: "sqlite", rebind: func(q string) string { return q }}
	postgresDialect = dialect{driver: "postgres", rebind: rebindDollar}
)

// SQLStore keeps links in a single table on SQLite or Postgres. The
// connection and schema are set up lazily on first use.
type SQLStore struct {
	dsn     string
	dialect dialect
	openDB  sqlOpenFunc
	now     func() time.Time

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewSQLiteStore(path string) (*SQLStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite ledger path is required")
	}
	dsn := path
	if !strings.Contains(dsn, "_pragma=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	return &SQLStore{dsn: dsn, dialect: sqliteDialect, openDB: sql.Open, now: time.Now}, nil
}

func NewPostgresStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres ledger dsn is required")
	}
	return &SQLStore{dsn: dsn, dialect: postgresDialect, openDB: sql.Open, now: time.Now}, nil
}

func (s *SQLStore) LookupByPage(ctx context.Context, pageID string) (Link, error) {
	return s.lookup(ctx, "page_id = ?", pageID)
}

func (s *SQLStore) LookupByWorkItem(ctx context.Context, workItemID int) (Link, error) {
	return s.lookup(ctx, "work_item_id = ?", workItemID)
}

func (s *SQLStore) lookup(ctx context.Context, where string, arg any) (Link, error) {
	if err := s.ensureReady(); err != nil {
		return Link{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	query := s.dialect.rebind(fmt.Sprintf(
		"SELECT page_id, work_item_id, title, state, updated_at FROM %s WHERE %s", linksTableName, where))
	var (
		link      Link
		state     string
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&link.PageID, &link.WorkItemID, &link.Title, &state, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Link{}, ErrNotFound
	}
	if err != nil {
		return Link{}, fmt.Errorf("lookup link: %w", err)
	}
	link.State = State(state)
	link.UpdatedAt = time.Unix(0, updatedAt)
	return link, nil
}

func (s *SQLStore) Save(ctx context.Context, link Link) error {
	if err := validate(link); err != nil {
		return err
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save link: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	evict := s.dialect.rebind(fmt.Sprintf("DELETE FROM %s WHERE work_item_id = ? AND page_id <> ?", linksTableName))
	if _, err := tx.ExecContext(ctx, evict, link.WorkItemID, link.PageID); err != nil {
		return fmt.Errorf("evict conflicting link: %w", err)
	}

	upsert := s.dialect.rebind(fmt.Sprintf(`
		INSERT INTO %s (page_id, work_item_id, title, state, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (page_id)
		DO UPDATE SET work_item_id = excluded.work_item_id, title = excluded.title,
			state = excluded.state, updated_at = excluded.updated_at`, linksTableName))
	if _, err := tx.ExecContext(ctx, upsert, link.PageID, link.WorkItemID, link.Title, string(link.State), s.now().UnixNano()); err != nil {
		return fmt.Errorf("upsert link: %w", err)
	}
	return tx.Commit()
}

func (s *SQLStore) Delete(ctx context.Context, pageID string, workItemID int) error {
	if pageID == "" && workItemID == 0 {
		return nil
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	query := s.dialect.rebind(fmt.Sprintf("DELETE FROM %s WHERE page_id = ? OR work_item_id = ?", linksTableName))
	if _, err := s.db.ExecContext(ctx, query, pageID, workItemID); err != nil {
		return fmt.Errorf("delete link: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) ensureReady() error {
	s.initOnce.Do(func() {
		db, err := s.openDB(s.dialect.driver, s.dsn)
		if err != nil {
			s.initErr = fmt.Errorf("open ledger: %w", err)
			return
		}
		if s.dialect.driver == sqliteDialect.driver {
			// SQLite allows one writer at a time.
			db.SetMaxOpenConns(1)
		}
		ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
		defer cancel()

		schema := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				page_id TEXT PRIMARY KEY,
				work_item_id BIGINT NOT NULL UNIQUE,
				title TEXT NOT NULL DEFAULT '',
				state TEXT NOT NULL,
				updated_at BIGINT NOT NULL
			)`, linksTableName)
		if _, err := db.ExecContext(ctx, schema); err != nil {
			_ = db.Close()
			s.initErr = fmt.Errorf("create ledger schema: %w", err)
			return
		}
		s.db = db
	})
	return s.initErr
}

func rebindDollar(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func validate(link Link) error {
	if strings.TrimSpace(link.PageID) == "" {
		return fmt.Errorf("link page id is required")
	}
	if link.WorkItemID <= 0 {
		return fmt.Errorf("link work item id must be positive, got %d", link.WorkItemID)
	}
	switch link.State {
	case StatePending, StateLinked:
	default:
		return fmt.Errorf("invalid link state %q", link.State)
	}
	return nil
}
