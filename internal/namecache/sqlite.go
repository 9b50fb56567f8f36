package namecache

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"
)

// OpenSQLite returns a store backed by a SQLite database at path, creating
// the schema on first use.
func OpenSQLite(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS names (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate name cache: %w", err)
	}

	l, _ := lru.New[string, string](maxEntries)
	slog.Info("name cache opened", "path", path)
	return &Store{lru: l, backing: &sqliteBacking{db: db}}, nil
}

type sqliteBacking struct {
	db *sql.DB
}

func (b *sqliteBacking) put(id, name string) {
	_, err := b.db.Exec(
		`INSERT INTO names (id, name, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at`,
		id, name, time.Now().Unix(),
	)
	if err != nil {
		slog.Warn("name cache write failed", "id", id, "error", err)
	}
}

func (b *sqliteBacking) get(id string) (string, bool) {
	var name string
	err := b.db.QueryRow(`SELECT name FROM names WHERE id = ?`, id).Scan(&name)
	if err == sql.ErrNoRows {
		return "", false
	}
	if err != nil {
		slog.Warn("name cache read failed", "id", id, "error", err)
		return "", false
	}
	return name, true
}

func (b *sqliteBacking) close() error {
	return b.db.Close()
}
