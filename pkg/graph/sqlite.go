package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteSource reads the article graph from a SQLite database with a single
// core_articles(title TEXT PRIMARY KEY, links_json TEXT NOT NULL) table, as
// produced by the wikihopdb tool. The database is treated as read-only.
type SQLiteSource struct {
	db *sql.DB
}

// OpenSQLite opens the article database at path and verifies connectivity.
func OpenSQLite(path string) (*SQLiteSource, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// WAL mode allows concurrent readers.
	connStr := path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteSource{db: db}, nil
}

func (s *SQLiteSource) Get(ctx context.Context, title string) (*Article, error) {
	return s.scanOne(ctx,
		"SELECT title, links_json FROM core_articles WHERE title = ?", title)
}

// GetFold relies on SQLite's NOCASE collation, which folds ASCII only. That
// matches the fold the rest of the system applies to titles.
func (s *SQLiteSource) GetFold(ctx context.Context, title string) (*Article, error) {
	return s.scanOne(ctx,
		"SELECT title, links_json FROM core_articles WHERE title = ? COLLATE NOCASE LIMIT 1", title)
}

func (s *SQLiteSource) scanOne(ctx context.Context, query, title string) (*Article, error) {
	var t, linksJSON string
	err := s.db.QueryRowContext(ctx, query, title).Scan(&t, &linksJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrArticleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query article: %w", err)
	}

	var links []string
	if err := json.Unmarshal([]byte(linksJSON), &links); err != nil {
		return nil, fmt.Errorf("failed to decode links for %q: %w", t, err)
	}
	return &Article{Title: t, Links: links}, nil
}

func (s *SQLiteSource) Titles(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT title FROM core_articles")
	if err != nil {
		return nil, fmt.Errorf("failed to query titles: %w", err)
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan title: %w", err)
		}
		titles = append(titles, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate titles: %w", err)
	}
	return titles, nil
}

func (s *SQLiteSource) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM core_articles").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count articles: %w", err)
	}
	return n, nil
}

func (s *SQLiteSource) Close() error {
	return s.db.Close()
}
