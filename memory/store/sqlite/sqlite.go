// Package sqlite stores memories in a SQLite file.
//
// SQLite has no vector operations, so similarity search loads every
// embedding and computes cosine distance in process. Tags live in their own
// column as a JSON array.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/m-mizutani/goerr/v2"
	_ "github.com/mattn/go-sqlite3"

	"github.com/becomeliminal/symbiote/logging"
	"github.com/becomeliminal/symbiote/memory"
)

var validName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config configures a SQLite store.
type Config struct {
	// Path is the database file. Parent directories are created.
	Path string

	// Collection is the table name holding the memories.
	Collection string

	// Dimensions is the embedding size every record must have. It is pinned
	// in a metadata table on first open.
	Dimensions int
}

// Store implements memory.Store on SQLite.
type Store struct {
	db         *sql.DB
	table      string
	dimensions int
	count      atomic.Int64
}

var _ memory.Store = (*Store)(nil)

// New opens the database, creates the tables and verifies dimensionality.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, goerr.New("database path is required")
	}
	if !validName.MatchString(cfg.Collection) {
		return nil, goerr.New("collection must be a valid table name", goerr.V("collection", cfg.Collection))
	}
	if cfg.Dimensions <= 0 {
		return nil, goerr.New("dimensions must be positive", goerr.V("dimensions", cfg.Dimensions))
	}

	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, goerr.Wrap(err, "failed to create database directory",
				goerr.T(memory.ErrPersistenceFailure), goerr.V("dir", dir))
		}
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open sqlite database",
			goerr.T(memory.ErrPersistenceFailure), goerr.V("path", cfg.Path))
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(err, "failed to connect to sqlite database",
			goerr.T(memory.ErrPersistenceFailure), goerr.V("path", cfg.Path))
	}

	s := &Store{
		db:         db,
		table:      cfg.Collection,
		dimensions: cfg.Dimensions,
	}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	logging.From(ctx).Info("sqlite store opened",
		"path", cfg.Path,
		"collection", cfg.Collection,
		"count", s.count.Load(),
	)
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			content TEXT NOT NULL,
			embedding TEXT NOT NULL,
			tags TEXT,
			created_at TEXT NOT NULL
		)`, s.table),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`, s.table),
		fmt.Sprintf(`INSERT OR IGNORE INTO %s_meta (key, value) VALUES ('dimensions', ?)`, s.table),
	}

	for i, stmt := range stmts {
		var args []any
		if i == len(stmts)-1 {
			args = append(args, strconv.Itoa(s.dimensions))
		}
		if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
			return goerr.Wrap(err, "failed to initialize tables",
				goerr.T(memory.ErrPersistenceFailure), goerr.V("table", s.table))
		}
	}

	var pinned string
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT value FROM %s_meta WHERE key = 'dimensions'`, s.table))
	if err := row.Scan(&pinned); err != nil {
		return goerr.Wrap(err, "failed to read pinned dimensionality", goerr.T(memory.ErrPersistenceFailure))
	}
	if pinned != strconv.Itoa(s.dimensions) {
		return goerr.New(fmt.Sprintf("collection was created with %s dimensions, configured %d", pinned, s.dimensions),
			goerr.T(memory.ErrPersistenceFailure), goerr.V("table", s.table))
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&n); err != nil {
		return goerr.Wrap(err, "failed to count records", goerr.T(memory.ErrPersistenceFailure))
	}
	s.count.Store(n)
	return nil
}

// Add inserts rec in a single statement, so the row is either fully
// present or absent.
func (s *Store) Add(ctx context.Context, rec *memory.Record) error {
	if len(rec.Embedding) != s.dimensions {
		return goerr.New(fmt.Sprintf("embedding has %d dimensions, store expects %d", len(rec.Embedding), s.dimensions),
			goerr.T(memory.ErrPersistenceFailure), goerr.V("id", rec.ID))
	}

	embedding, err := json.Marshal(rec.Embedding)
	if err != nil {
		return goerr.Wrap(err, "failed to encode embedding", goerr.T(memory.ErrPersistenceFailure))
	}
	tags, err := memory.EncodeTags(rec.Tags)
	if err != nil {
		return goerr.Wrap(err, "failed to encode tags", goerr.T(memory.ErrPersistenceFailure))
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, content, embedding, tags, created_at) VALUES (?, ?, ?, ?, ?)`, s.table)
	if _, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Content,
		string(embedding),
		sql.NullString{String: tags, Valid: tags != ""},
		rec.CreatedAt.UTC().Format(memory.TimestampFormat),
	); err != nil {
		return goerr.Wrap(err, "failed to insert memory",
			goerr.T(memory.ErrPersistenceFailure), goerr.V("id", rec.ID))
	}

	s.count.Add(1)
	return nil
}

// Query computes the cosine distance to every stored embedding and returns
// the nearest limit records.
func (s *Store) Query(ctx context.Context, embedding []float32, limit int) ([]memory.Hit, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT id, content, embedding, tags, created_at FROM %s ORDER BY seq`, s.table))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query memories", goerr.T(memory.ErrPersistenceFailure))
	}
	defer func() { _ = rows.Close() }()

	var hits []memory.Hit
	for rows.Next() {
		var (
			rec       memory.Record
			rawEmb    string
			rawTags   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &rec.Content, &rawEmb, &rawTags, &createdAt); err != nil {
			return nil, goerr.Wrap(err, "failed to scan memory", goerr.T(memory.ErrPersistenceFailure))
		}

		if err := json.Unmarshal([]byte(rawEmb), &rec.Embedding); err != nil {
			return nil, goerr.Wrap(err, "unreadable embedding",
				goerr.T(memory.ErrPersistenceFailure), goerr.V("id", rec.ID))
		}
		if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, goerr.Wrap(err, "unreadable creation timestamp",
				goerr.T(memory.ErrPersistenceFailure), goerr.V("id", rec.ID))
		}
		rec.Tags = memory.DecodeTags(rawTags.String)

		hits = append(hits, memory.Hit{
			Record:   &rec,
			Distance: memory.CosineDistance(embedding, rec.Embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate memories", goerr.T(memory.ErrPersistenceFailure))
	}

	return memory.RankHits(hits, limit), nil
}

// Count returns the number of records from a counter maintained on insert.
func (s *Store) Count(ctx context.Context) (int, error) {
	return int(s.count.Load()), nil
}

func (s *Store) Dimensions() int {
	return s.dimensions
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return goerr.Wrap(err, "failed to close sqlite database")
	}
	return nil
}
