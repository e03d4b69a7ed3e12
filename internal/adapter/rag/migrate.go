package rag

import "database/sql"

// migrate creates the schema if it doesn't exist.
func migrate(db *sql.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS documents (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			scope      TEXT NOT NULL,
			title      TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_documents_scope ON documents(scope);

		CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
			title, content, content=documents, content_rowid=id
		);

		-- Triggers to keep FTS in sync with the documents table.
		CREATE TRIGGER IF NOT EXISTS documents_ai AFTER INSERT ON documents BEGIN
			INSERT INTO documents_fts(rowid, title, content) VALUES (new.id, new.title, new.content);
		END;

		CREATE TRIGGER IF NOT EXISTS documents_ad AFTER DELETE ON documents BEGIN
			INSERT INTO documents_fts(documents_fts, rowid, title, content) VALUES ('delete', old.id, old.title, old.content);
		END;

		CREATE TRIGGER IF NOT EXISTS documents_au AFTER UPDATE ON documents BEGIN
			INSERT INTO documents_fts(documents_fts, rowid, title, content) VALUES ('delete', old.id, old.title, old.content);
			INSERT INTO documents_fts(rowid, title, content) VALUES (new.id, new.title, new.content);
		END;
	`
	_, err := db.Exec(schema)
	return err
}
