package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// openSQLite opens a file database (creating its directory) or ":memory:".
// SQLite allows one writer, so the pool is pinned to a single connection.
func openSQLite(ctx context.Context, path string) (*sqlx.DB, error) {
	inMemory := path == ":memory:" || strings.Contains(path, "mode=memory")
	if !inMemory && !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("sqlite: create dir: %w", err)
			}
		}
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	pragmas := []string{"PRAGMA busy_timeout = 5000"}
	if !inMemory {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}
	return db, nil
}
