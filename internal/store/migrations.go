package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	email             TEXT NOT NULL UNIQUE,
	google_id         TEXT UNIQUE,
	enc_refresh_token TEXT,
	enc_access_token  TEXT,
	token_expiry      DATETIME,
	created_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS emails (
	id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id            TEXT NOT NULL UNIQUE,
	user_id               INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	sender                TEXT NOT NULL DEFAULT '',
	recipients            TEXT NOT NULL DEFAULT '',
	subject               TEXT NOT NULL DEFAULT '',
	snippet               TEXT NOT NULL DEFAULT '',
	labels                TEXT NOT NULL DEFAULT '',
	ai_summary_enc        TEXT,
	ai_classification_enc TEXT,
	is_spam               INTEGER NOT NULL DEFAULT 0,
	is_read               INTEGER NOT NULL DEFAULT 0,
	is_draft              INTEGER NOT NULL DEFAULT 0,
	status                TEXT NOT NULL DEFAULT 'inbox'
		CHECK (status IN ('inbox', 'archived', 'trashed', 'draft', 'sent')),
	created_at            DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_emails_user_status ON emails(user_id, status);
CREATE INDEX IF NOT EXISTS idx_emails_unannotated ON emails(created_at)
	WHERE ai_summary_enc IS NULL OR ai_classification_enc IS NULL;

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS jobs (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL CHECK (kind IN ('classify', 'summarize')),
	message_id INTEGER NOT NULL,
	state      TEXT NOT NULL CHECK (state IN ('pending', 'running', 'done', 'failed')),
	attempts   INTEGER NOT NULL DEFAULT 0,
	error      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_message_kind ON jobs(message_id, kind, state);
CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
