// Package ingest builds the article-link SQLite database consumed by
// pkg/graph from Wikimedia SQL dumps, without scraping any wiki. The wiki's
// `page` table supplies node titles and `pagelinks` supplies edges. Modern
// snapshots reference link targets through `pl_target_id` and the
// `linktarget` table; older ones carry `pl_namespace`/`pl_title` inline, and
// both schemas are supported.
package ingest

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	_ "modernc.org/sqlite"
)

// ErrOutputExists is returned when the output database is already present
// and Overwrite was not requested.
var ErrOutputExists = errors.New("output file already exists")

// Options configures a database build.
type Options struct {
	Wiki      string // wiki code on dumps.wikimedia.org, e.g. simplewiki
	DumpDate  string // snapshot directory name, "latest" or YYYYMMDD
	DumpDir   string // local directory for downloaded dump files
	Output    string // output SQLite path
	Download  bool   // fetch missing dump files
	Overwrite bool   // replace an existing output file
	SortLinks bool   // alphabetical link order instead of dump order
}

// Build converts one wiki snapshot into a core_articles database. The whole
// pipeline streams: dump files are never held in memory, only the
// namespace-0 title maps are.
func Build(ctx context.Context, opts Options) error {
	out, err := filepath.Abs(opts.Output)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	if _, err := os.Stat(out); err == nil {
		if !opts.Overwrite {
			return fmt.Errorf("%w: %s (pass --overwrite to replace it)", ErrOutputExists, out)
		}
		if err := os.Remove(out); err != nil {
			return err
		}
	}

	files, err := resolveDumpFiles(ctx, opts)
	if err != nil {
		return err
	}

	pages, err := loadPageTitles(files.page)
	if err != nil {
		return err
	}
	slog.Info("Loaded namespace-0 pages", "count", len(pages.byID))

	schema, err := detectPagelinksSchema(files.pagelinks)
	if err != nil {
		return err
	}

	var targets map[int64]string
	if schema.kind == schemaTargetID {
		if files.linktarget == "" {
			return errors.New("pagelinks uses pl_target_id but the linktarget dump is missing; re-run with --download or place it in --dump-dir")
		}
		targets, err = loadLinkTargets(files.linktarget)
		if err != nil {
			return err
		}
		slog.Info("Loaded namespace-0 link targets", "count", len(targets))
	}

	db, err := openBuildDB(ctx, out)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := prepopulateArticles(ctx, db, pages.order); err != nil {
		return err
	}
	if err := writeLinks(ctx, db, files.pagelinks, schema, pages, targets, opts.SortLinks); err != nil {
		return err
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM core_articles").Scan(&count); err != nil {
		return err
	}
	slog.Info("Database build complete", "path", out, "articles", count)
	return nil
}

// pageSet holds the namespace-0 pages of a snapshot: id lookup for edge
// sources, membership for edge targets, and first-seen order for
// deterministic prepopulation.
type pageSet struct {
	byID  map[int64]string
	valid map[string]struct{}
	order []string
}

func loadPageTitles(path string) (*pageSet, error) {
	columns, err := readTableColumns(path, "page")
	if err != nil {
		return nil, err
	}
	idx, err := columnIndex(columns, "page_id", "page_namespace", "page_title")
	if err != nil {
		return nil, fmt.Errorf("page dump %s: %w", path, err)
	}

	set := &pageSet{byID: make(map[int64]string), valid: make(map[string]struct{})}
	err = scanInsertRows(path, "page", func(row []Value) error {
		id, err := intField(row, idx["page_id"])
		if err != nil {
			return err
		}
		ns, err := intField(row, idx["page_namespace"])
		if err != nil {
			return err
		}
		if ns != 0 {
			return nil
		}
		title := normalizeDumpTitle(stringField(row, idx["page_title"]))
		set.byID[id] = title
		if _, ok := set.valid[title]; !ok {
			set.valid[title] = struct{}{}
			set.order = append(set.order, title)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

type schemaKind int

const (
	schemaTargetID schemaKind = iota
	schemaNamespaceTitle
)

type pagelinksSchema struct {
	columns []string
	kind    schemaKind
}

func detectPagelinksSchema(path string) (pagelinksSchema, error) {
	columns, err := readTableColumns(path, "pagelinks")
	if err != nil {
		return pagelinksSchema{}, err
	}
	switch {
	case slices.Contains(columns, "pl_target_id"):
		return pagelinksSchema{columns: columns, kind: schemaTargetID}, nil
	case slices.Contains(columns, "pl_namespace") && slices.Contains(columns, "pl_title"):
		return pagelinksSchema{columns: columns, kind: schemaNamespaceTitle}, nil
	default:
		return pagelinksSchema{}, fmt.Errorf("unsupported pagelinks schema: expected pl_target_id or pl_namespace/pl_title, found %v", columns)
	}
}

func loadLinkTargets(path string) (map[int64]string, error) {
	columns, err := readTableColumns(path, "linktarget")
	if err != nil {
		return nil, err
	}
	idx, err := columnIndex(columns, "lt_id", "lt_namespace", "lt_title")
	if err != nil {
		return nil, fmt.Errorf("linktarget dump %s: %w", path, err)
	}

	targets := make(map[int64]string)
	err = scanInsertRows(path, "linktarget", func(row []Value) error {
		id, err := intField(row, idx["lt_id"])
		if err != nil {
			return err
		}
		ns, err := intField(row, idx["lt_namespace"])
		if err != nil {
			return err
		}
		if ns != 0 {
			return nil
		}
		targets[id] = normalizeDumpTitle(stringField(row, idx["lt_title"]))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return targets, nil
}

// normalizeDumpTitle converts MediaWiki's stored form to the form the rest
// of the system uses: underscores become spaces.
func normalizeDumpTitle(title string) string {
	return strings.ReplaceAll(title, "_", " ")
}

// openBuildDB opens the output database on a single pooled connection.
// Writes are serialized anyway, and the temp tables used by the link pass
// must stay on one session.
func openBuildDB(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure %s: %w", pragma, err)
		}
	}

	const ddl = `CREATE TABLE IF NOT EXISTS core_articles (
	title TEXT PRIMARY KEY,
	links_json TEXT NOT NULL
)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("create core_articles: %w", err)
	}
	return db, nil
}

// prepopulateArticles inserts every known title with an empty link list so
// that dead-end pages still resolve as articles.
func prepopulateArticles(ctx context.Context, db *sql.DB, titles []string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "INSERT OR IGNORE INTO core_articles (title, links_json) VALUES (?, '[]')")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, title := range titles {
		if _, err := stmt.ExecContext(ctx, title); err != nil {
			return fmt.Errorf("prepopulate %q: %w", title, err)
		}
	}
	return tx.Commit()
}

// writeLinks streams the pagelinks dump into a temp edge table, folds each
// source's targets into a JSON array, and applies the arrays to
// core_articles. Self-links, non-article targets and duplicate pairs are
// dropped; seq preserves dump order for the default (unsorted) layout.
func writeLinks(ctx context.Context, db *sql.DB, path string, schema pagelinksSchema, pages *pageSet, targets map[int64]string, sortLinks bool) error {
	idx, err := columnIndex(schema.columns, "pl_from")
	if err != nil {
		return fmt.Errorf("pagelinks dump %s: %w", path, err)
	}
	if schema.kind == schemaTargetID && targets == nil {
		return errors.New("pagelinks uses pl_target_id but no linktarget mapping was loaded")
	}

	if _, err := db.ExecContext(ctx, `CREATE TEMP TABLE tmp_edges (
	from_title TEXT NOT NULL,
	to_title TEXT NOT NULL,
	to_title_json TEXT NOT NULL,
	seq INTEGER NOT NULL,
	PRIMARY KEY (from_title, to_title)
) WITHOUT ROWID`); err != nil {
		return fmt.Errorf("create tmp_edges: %w", err)
	}

	if err := collectEdges(ctx, db, path, schema, idx, pages, targets); err != nil {
		return err
	}
	return aggregateLinks(ctx, db, sortLinks)
}

func collectEdges(ctx context.Context, db *sql.DB, path string, schema pagelinksSchema, idx map[string]int, pages *pageSet, targets map[int64]string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "INSERT OR IGNORE INTO tmp_edges (from_title, to_title, to_title_json, seq) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	var seq, kept int64
	err = scanInsertRows(path, "pagelinks", func(row []Value) error {
		fromID, err := intField(row, idx["pl_from"])
		if err != nil {
			return err
		}
		fromTitle, ok := pages.byID[fromID]
		if !ok {
			return nil
		}

		var target string
		if schema.kind == schemaTargetID {
			targetID, err := intField(row, idx["pl_target_id"])
			if err != nil {
				return err
			}
			target = targets[targetID]
		} else {
			ns, err := intField(row, idx["pl_namespace"])
			if err != nil {
				return err
			}
			if ns != 0 {
				return nil
			}
			target = normalizeDumpTitle(stringField(row, idx["pl_title"]))
		}

		if target == "" || target == fromTitle {
			return nil
		}
		if _, ok := pages.valid[target]; !ok {
			return nil
		}

		encoded, err := encodeTitleJSON(target)
		if err != nil {
			return err
		}
		seq++
		kept++
		_, err = stmt.ExecContext(ctx, fromTitle, target, encoded, seq)
		return err
	})
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Info("Collected article links", "edges", kept)
	return nil
}

func aggregateLinks(ctx context.Context, db *sql.DB, sortLinks bool) error {
	if _, err := db.ExecContext(ctx, `CREATE TEMP TABLE tmp_links (
	title TEXT PRIMARY KEY,
	links_json TEXT NOT NULL
) WITHOUT ROWID`); err != nil {
		return fmt.Errorf("create tmp_links: %w", err)
	}

	orderColumn := "seq"
	if sortLinks {
		orderColumn = "to_title"
	}
	groupSQL := fmt.Sprintf(`INSERT INTO tmp_links (title, links_json)
SELECT from_title, links_json
FROM (
	SELECT
		from_title,
		'[' || group_concat(to_title_json) OVER (
			PARTITION BY from_title ORDER BY %s
		) || ']' AS links_json,
		ROW_NUMBER() OVER (
			PARTITION BY from_title ORDER BY %s DESC
		) AS rn
	FROM tmp_edges
)
WHERE rn = 1`, orderColumn, orderColumn)
	if _, err := db.ExecContext(ctx, groupSQL); err != nil {
		return fmt.Errorf("aggregate links: %w", err)
	}

	if _, err := db.ExecContext(ctx, `UPDATE core_articles
SET links_json = (
	SELECT tmp_links.links_json FROM tmp_links WHERE tmp_links.title = core_articles.title
)
WHERE title IN (SELECT title FROM tmp_links)`); err != nil {
		return fmt.Errorf("apply links: %w", err)
	}

	if _, err := db.ExecContext(ctx, "DROP TABLE tmp_edges"); err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "DROP TABLE tmp_links"); err != nil {
		return err
	}
	return nil
}

// encodeTitleJSON encodes one title as a JSON string, keeping non-ASCII and
// HTML characters raw so stored arrays stay human-readable.
func encodeTitleJSON(title string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(title); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
