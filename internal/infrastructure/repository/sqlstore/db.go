package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

type Dialect string

const (
	DialectPostgres Dialect = "pgx"
	DialectSQLite   Dialect = "sqlite3"
)

func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "pgx", "postgres", "postgresql":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported db driver %q", driver)
	}
}

// Name is the dialect name shown to the text-to-SQL model.
func (d Dialect) Name() string {
	if d == DialectSQLite {
		return "SQLite"
	}
	return "PostgreSQL"
}

func OpenDB(dialect Dialect, dsn string) (*sql.DB, error) {
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	if dialect == DialectSQLite {
		// One writer; also keeps ":memory:" databases on a single connection.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func EnsureSchema(ctx context.Context, db *sql.DB, dialect Dialect) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if dialect == DialectPostgres {
		// Serialize bootstrap DDL across api/worker startups.
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101601)); err != nil {
			return fmt.Errorf("acquire schema lock: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, schemaDDL(dialect)); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func schemaDDL(dialect Dialect) string {
	if dialect == DialectSQLite {
		return strings.ReplaceAll(schema, "TIMESTAMPTZ", "DATETIME")
	}
	return schema
}

const schema = `
CREATE TABLE IF NOT EXISTS leads (
	lead_id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT NOT NULL,
	country_code TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT '',
	project_name TEXT NOT NULL,
	unit_type TEXT NOT NULL DEFAULT '',
	budget_min DOUBLE PRECISION NOT NULL DEFAULT 0,
	budget_max DOUBLE PRECISION NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'Not Connected',
	last_conversation_date TIMESTAMPTZ,
	last_conversation_summary TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_leads_project_name ON leads(project_name);
CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(status);

CREATE TABLE IF NOT EXISTS campaigns (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	project_name TEXT NOT NULL,
	channel TEXT NOT NULL,
	offer_details TEXT NOT NULL DEFAULT '',
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS campaign_leads (
	id TEXT PRIMARY KEY,
	campaign_id TEXT NOT NULL REFERENCES campaigns(id),
	lead_id TEXT NOT NULL REFERENCES leads(lead_id),
	message_sent BOOLEAN NOT NULL DEFAULT FALSE,
	message_sent_at TIMESTAMPTZ,
	personalized_message TEXT NOT NULL DEFAULT '',
	email_message_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (campaign_id, lead_id)
);

CREATE INDEX IF NOT EXISTS idx_campaign_leads_email_message_id ON campaign_leads(email_message_id);

CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	campaign_lead_id TEXT NOT NULL REFERENCES campaign_leads(id),
	sender TEXT NOT NULL,
	message TEXT NOT NULL,
	agent_tool_used TEXT NOT NULL DEFAULT '',
	email_message_id TEXT NOT NULL DEFAULT '',
	email_in_reply_to TEXT NOT NULL DEFAULT '',
	sales_team_notified BOOLEAN NOT NULL DEFAULT FALSE,
	auto_reply_processed BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_thread ON conversations(campaign_lead_id, created_at);
CREATE INDEX IF NOT EXISTS idx_conversations_email_message_id ON conversations(email_message_id);
CREATE INDEX IF NOT EXISTS idx_conversations_pending ON conversations(sender, auto_reply_processed, created_at);

CREATE TABLE IF NOT EXISTS brochures (
	id TEXT PRIMARY KEY,
	project_name TEXT NOT NULL,
	filename TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	chunk_count INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_brochures_project_name ON brochures(project_name);
`

// placeholders renders "$start,...,$start+n-1".
func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ",")
}

func stringArgs(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func nullTime(t *sql.NullTime) *time.Time {
	if t == nil || !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
