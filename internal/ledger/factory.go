package ledger

import (
	"fmt"
	"net/url"
	"strings"
)

// Open builds a Store from a DSN:
//
//	memory://                    in-process map (default when dsn is empty)
//	sqlite:///var/lib/links.db   SQLite file
//	postgres://user@host/db      Postgres
func Open(dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewMemoryStore(), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse ledger dsn: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "memory", "mem", "inmem":
		return NewMemoryStore(), nil
	case "sqlite", "sqlite3", "file":
		return NewSQLiteStore(sqlitePath(dsn))
	case "postgres", "postgresql":
		return NewPostgresStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported ledger scheme: %q", parsed.Scheme)
	}
}

func sqlitePath(dsn string) string {
	idx := strings.Index(dsn, "://")
	if idx < 0 {
		return strings.TrimPrefix(dsn, "file:")
	}
	return dsn[idx+3:]
}
