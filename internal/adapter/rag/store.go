package rag

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	_ "modernc.org/sqlite"

	"maestro/internal/domain"
)

const defaultSearchLimit = 5

// Store is the SQLite-backed knowledge document store. Documents carry a
// scope label that ties them to agent knowledge scopes; retrieval is
// keyword-based, FTS5 with bm25 ranking and a LIKE fallback.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the document database at dbPath and runs
// migrations.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", domain.ErrKnowledgeStore, err)
	}

	// SQLite write safety: single writer.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: pragma: %v", domain.ErrKnowledgeStore, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", domain.ErrKnowledgeStore, err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add inserts one document and returns its assigned ID.
func (s *Store) Add(ctx context.Context, doc domain.Document) (int64, error) {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO documents (scope, title, content, created_at) VALUES (?, ?, ?, ?)",
		doc.Scope, doc.Title, doc.Content, doc.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: insert: %v", domain.ErrKnowledgeStore, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: insert id: %v", domain.ErrKnowledgeStore, err)
	}
	return id, nil
}

// AddBatch inserts documents in a single transaction.
func (s *Store) AddBatch(ctx context.Context, docs []domain.Document) error {
	if len(docs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", domain.ErrKnowledgeStore, err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO documents (scope, title, content, created_at) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("%w: prepare: %v", domain.ErrKnowledgeStore, err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, doc := range docs {
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = now
		}
		if _, err := stmt.ExecContext(ctx, doc.Scope, doc.Title, doc.Content, doc.CreatedAt.Format(time.RFC3339)); err != nil {
			return fmt.Errorf("%w: insert %q: %v", domain.ErrKnowledgeStore, doc.Title, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrKnowledgeStore, err)
	}
	return nil
}

// Search returns up to limit documents matching the query, restricted to
// the given scopes (empty scopes searches everything), ranked by keyword
// relevance.
func (s *Store) Search(ctx context.Context, query string, scopes []string, limit int) ([]domain.Document, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	match := ftsMatch(query)
	if match == "" {
		return s.likeSearch(ctx, query, scopes, limit)
	}

	scopeClause, scopeArgs := scopeFilter(scopes)
	args := make([]any, 0, len(scopeArgs)+2)
	args = append(args, match)
	args = append(args, scopeArgs...)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, d.scope, d.title, d.content, d.created_at
		 FROM documents_fts f
		 JOIN documents d ON d.id = f.rowid
		 WHERE documents_fts MATCH ?`+scopeClause+`
		 ORDER BY bm25(documents_fts)
		 LIMIT ?`,
		args...,
	)
	if err != nil {
		// FTS5 rejected the match expression; fall back to LIKE.
		return s.likeSearch(ctx, query, scopes, limit)
	}
	defer rows.Close()
	return s.scanDocuments(rows)
}

// likeSearch is the fallback when the query yields no FTS terms.
func (s *Store) likeSearch(ctx context.Context, query string, scopes []string, limit int) ([]domain.Document, error) {
	scopeClause, scopeArgs := scopeFilter(scopes)
	pattern := "%" + query + "%"

	args := make([]any, 0, len(scopeArgs)+3)
	args = append(args, pattern, pattern)
	args = append(args, scopeArgs...)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, d.scope, d.title, d.content, d.created_at
		 FROM documents d
		 WHERE (d.title LIKE ? OR d.content LIKE ?)`+scopeClause+`
		 ORDER BY d.created_at DESC
		 LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", domain.ErrKnowledgeStore, err)
	}
	defer rows.Close()
	return s.scanDocuments(rows)
}

// Count reports the number of stored documents.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %v", domain.ErrKnowledgeStore, err)
	}
	return n, nil
}

func (s *Store) scanDocuments(rows *sql.Rows) ([]domain.Document, error) {
	var docs []domain.Document
	for rows.Next() {
		var (
			doc       domain.Document
			createdAt string
		)
		if err := rows.Scan(&doc.ID, &doc.Scope, &doc.Title, &doc.Content, &createdAt); err != nil {
			continue
		}
		var parseErr error
		if doc.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt); parseErr != nil {
			s.logger.Warn("knowledge store: corrupt created_at", "id", doc.ID, "error", parseErr)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// ftsMatch converts a free-text query into an FTS5 OR expression of quoted
// terms. Terms are lowercased alphanumeric runs of two or more characters;
// implicit-AND matching would drop every document that misses one word of a
// natural-language question.
func ftsMatch(query string) string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]bool, len(fields))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " OR ")
}

// scopeFilter builds the IN clause for a scope list. Empty scopes means no
// restriction.
func scopeFilter(scopes []string) (string, []any) {
	if len(scopes) == 0 {
		return "", nil
	}
	placeholders := make([]string, len(scopes))
	args := make([]any, len(scopes))
	for i, scope := range scopes {
		placeholders[i] = "?"
		args[i] = scope
	}
	return " AND d.scope IN (" + strings.Join(placeholders, ",") + ")", args
}
