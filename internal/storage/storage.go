// Package storage is the durable persistence layer. One *DB implements every
// store interface the services define, over PostgreSQL in production or
// SQLite for single-node and test deployments. The in-memory stores in each
// service package remain the default for ephemeral mode.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/Velodev-io/Project-Aegis-Proto/internal/audit"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/breakglass"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/core"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/vault"
)

var (
	_ audit.Store             = (*DB)(nil)
	_ vault.POAStore          = (*DB)(nil)
	_ vault.TokenStore        = (*DB)(nil)
	_ vault.PresentationStore = (*DB)(nil)
	_ breakglass.Store        = (*DB)(nil)
)

// DB wraps a sql.DB plus the placeholder dialect of its driver.
type DB struct {
	db       *sql.DB
	postgres bool
	logger   *log.Logger
}

// Open connects to the database named by dsn. A postgres:// or
// postgresql:// DSN selects the Postgres driver; anything else is treated
// as a SQLite path (":memory:" included).
func Open(dsn string) (*DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%w: empty database dsn", core.ErrInvalidArgument)
	}

	postgres := strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
	driver := "sqlite"
	if postgres {
		driver = "postgres"
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", core.ErrStorageFailure, driver, err)
	}
	if !postgres {
		// SQLite serializes writers; a single pooled connection also keeps
		// ":memory:" databases from fragmenting across connections.
		db.SetMaxOpenConns(1)
	}

	return &DB{
		db:       db,
		postgres: postgres,
		logger:   log.New(log.Writer(), "[Storage] ", log.LstdFlags),
	}, nil
}

// Close releases the connection pool.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping verifies connectivity.
func (d *DB) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping: %v", core.ErrStorageFailure, err)
	}
	return nil
}

// rebind rewrites ? placeholders to $N for Postgres. Queries are written in
// the SQLite dialect and rebound on the way out.
func (d *DB) rebind(query string) string {
	if !d.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d *DB) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	res, err := d.db.ExecContext(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStorageFailure, err)
	}
	return res, nil
}

func (d *DB) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	rows, err := d.db.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStorageFailure, err)
	}
	return rows, nil
}

func (d *DB) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return d.db.QueryRowContext(ctx, d.rebind(query), args...)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS smart_poas (
		id TEXT PRIMARY KEY,
		principal_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		scope TEXT NOT NULL,
		services TEXT NOT NULL,
		spend_limit REAL NOT NULL,
		created_at TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		active INTEGER NOT NULL,
		revoked_at TEXT,
		revocation_reason TEXT NOT NULL DEFAULT '',
		creator_id TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_smart_poas_principal ON smart_poas (principal_id)`,

	`CREATE TABLE IF NOT EXISTS encrypted_tokens (
		id TEXT PRIMARY KEY,
		poa_id TEXT NOT NULL,
		service_name TEXT NOT NULL,
		kind TEXT NOT NULL,
		ciphertext TEXT NOT NULL,
		created_at TEXT NOT NULL,
		expires_at TEXT,
		last_used_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_encrypted_tokens_poa ON encrypted_tokens (poa_id)`,

	`CREATE TABLE IF NOT EXISTS audit_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		poa_id TEXT NOT NULL,
		action_type TEXT NOT NULL,
		ts TEXT NOT NULL,
		request_details TEXT NOT NULL,
		service_name TEXT NOT NULL DEFAULT '',
		amount REAL NOT NULL DEFAULT 0,
		decision TEXT NOT NULL,
		reasoning TEXT NOT NULL,
		signature TEXT NOT NULL,
		advocate_notified INTEGER NOT NULL DEFAULT 0,
		advocate_notified_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_entries_poa ON audit_entries (poa_id)`,

	`CREATE TABLE IF NOT EXISTS break_glass_events (
		id TEXT PRIMARY KEY,
		audit_entry_id INTEGER NOT NULL,
		poa_id TEXT NOT NULL,
		trig TEXT NOT NULL,
		details TEXT NOT NULL,
		status TEXT NOT NULL,
		advocate_id TEXT NOT NULL,
		mode TEXT NOT NULL,
		otp_hash TEXT NOT NULL,
		otp_sent_at TEXT NOT NULL,
		otp_verified_at TEXT,
		liveness_required INTEGER NOT NULL,
		liveness_verified INTEGER NOT NULL,
		liveness_verified_at TEXT,
		liveness_data TEXT NOT NULL,
		approved_at TEXT,
		approved_by TEXT NOT NULL DEFAULT '',
		denied_at TEXT,
		denied_by TEXT NOT NULL DEFAULT '',
		denial_reason TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		expires_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_break_glass_status ON break_glass_events (status)`,

	`CREATE TABLE IF NOT EXISTS security_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		risk_score INTEGER NOT NULL,
		action TEXT NOT NULL,
		reasoning TEXT NOT NULL,
		amount REAL NOT NULL DEFAULT 0,
		category TEXT NOT NULL DEFAULT '',
		merchant TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS pending_approvals (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		amount REAL NOT NULL,
		category TEXT NOT NULL,
		merchant TEXT NOT NULL,
		risk_level TEXT NOT NULL,
		risk_score INTEGER NOT NULL,
		reasoning TEXT NOT NULL,
		resolved INTEGER NOT NULL DEFAULT 0,
		resolved_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS credential_presentations (
		id TEXT PRIMARY KEY,
		poa_id TEXT NOT NULL,
		recipient TEXT NOT NULL,
		method TEXT NOT NULL,
		code TEXT NOT NULL UNIQUE,
		verified INTEGER NOT NULL DEFAULT 0,
		verified_at TEXT,
		created_at TEXT NOT NULL
	)`,
}

// Migrate creates the schema if it does not exist.
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if d.postgres {
			stmt = strings.Replace(stmt, "INTEGER PRIMARY KEY AUTOINCREMENT", "BIGSERIAL PRIMARY KEY", 1)
		}
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: migrate: %v", core.ErrStorageFailure, err)
		}
	}
	d.logger.Printf("schema ready (%d statements, postgres=%v)", len(schema), d.postgres)
	return nil
}

// Column helpers. Times travel as RFC3339Nano text so both drivers agree,
// and JSON maps travel as text columns.

func timeCol(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func timePtrCol(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return timeCol(*t)
}

func parseTimeCol(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func scanTime(s string, dst *time.Time) error {
	t, err := parseTimeCol(s)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp %q: %v", core.ErrStorageFailure, s, err)
	}
	*dst = t
	return nil
}

func scanTimePtr(s sql.NullString, dst **time.Time) error {
	if !s.Valid {
		*dst = nil
		return nil
	}
	t, err := parseTimeCol(s.String)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp %q: %v", core.ErrStorageFailure, s.String, err)
	}
	*dst = &t
	return nil
}

func jsonCol(v interface{}) (string, error) {
	if v == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: encode json column: %v", core.ErrStorageFailure, err)
	}
	return string(raw), nil
}

func scanJSONMap(s string, dst *map[string]interface{}) error {
	if s == "" {
		*dst = nil
		return nil
	}
	if err := json.Unmarshal([]byte(s), dst); err != nil {
		return fmt.Errorf("%w: decode json column: %v", core.ErrStorageFailure, err)
	}
	return nil
}

func scanJSONStrings(s string, dst *[]string) error {
	if s == "" || s == "null" {
		*dst = nil
		return nil
	}
	if err := json.Unmarshal([]byte(s), dst); err != nil {
		return fmt.Errorf("%w: decode json column: %v", core.ErrStorageFailure, err)
	}
	return nil
}

func boolCol(b bool) int {
	if b {
		return 1
	}
	return 0
}
