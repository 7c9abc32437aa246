package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create key-value table",
		SQL: `
			CREATE TABLE kv (
				key         TEXT PRIMARY KEY,
				value       BLOB NOT NULL,
				updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);
		`,
	},
	{
		Version: 2,
		Name:    "create checkpoints",
		SQL: `
			CREATE TABLE checkpoints (
				handle      TEXT PRIMARY KEY,
				topic_id    TEXT NOT NULL DEFAULT '',
				state       TEXT NOT NULL,
				created_at  TEXT NOT NULL DEFAULT (datetime('now')),
				updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_checkpoints_topic ON checkpoints (topic_id);
		`,
	},
	{
		Version: 3,
		Name:    "create transcripts with FTS5",
		SQL: `
			CREATE TABLE transcripts (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				message_id  TEXT NOT NULL,
				topic_id    TEXT NOT NULL,
				handle      TEXT NOT NULL,
				role        TEXT NOT NULL,
				content     TEXT NOT NULL,
				created_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE UNIQUE INDEX idx_transcripts_message ON transcripts (message_id);
			CREATE INDEX idx_transcripts_topic ON transcripts (topic_id, id);

			CREATE VIRTUAL TABLE transcripts_fts USING fts5(
				content,
				content='transcripts',
				content_rowid='id'
			);

			CREATE TRIGGER transcripts_ai AFTER INSERT ON transcripts BEGIN
				INSERT INTO transcripts_fts(rowid, content) VALUES (new.id, new.content);
			END;

			CREATE TRIGGER transcripts_ad AFTER DELETE ON transcripts BEGIN
				INSERT INTO transcripts_fts(transcripts_fts, rowid, content)
				VALUES ('delete', old.id, old.content);
			END;
		`,
	},
}
