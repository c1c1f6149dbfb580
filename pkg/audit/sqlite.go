package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteConfig configures the SQLite audit backend.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns bounds the connection pool. Default 10.
	MaxOpenConns int

	// MaxIdleConns bounds idle connections. Default 5.
	MaxIdleConns int

	// WALMode enables write-ahead logging. Default true.
	WALMode bool

	// BusyTimeout is how long a writer waits on a locked database.
	// Default 5 seconds.
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "data/audit.db",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteStore persists audit records in a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	cfg    *SQLiteConfig
	logger *slog.Logger
}

// NewSQLiteStore opens the database, applies the schema and verifies
// the schema version.
func NewSQLiteStore(cfg *SQLiteConfig, logger *slog.Logger) (*SQLiteStore, error) {
	if cfg == nil {
		cfg = DefaultSQLiteConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "audit.sqlite")

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, storageErr("sqlite", "open", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	s := &SQLiteStore{db: db, cfg: cfg, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("audit store initialized", "path", cfg.Path, "wal_mode", cfg.WALMode)
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	if s.cfg.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return storageErr("sqlite", "enable_wal", err)
		}
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", s.cfg.BusyTimeout.Milliseconds())); err != nil {
		return storageErr("sqlite", "set_busy_timeout", err)
	}
	if _, err := s.db.Exec(schema); err != nil {
		return storageErr("sqlite", "create_schema", err)
	}
	if _, err := s.db.Exec(insertSchemaVersion, schemaVersion); err != nil {
		return storageErr("sqlite", "insert_schema_version", err)
	}

	var version int
	if err := s.db.QueryRow(getSchemaVersion).Scan(&version); err != nil && err != sql.ErrNoRows {
		return storageErr("sqlite", "get_schema_version", err)
	}
	if version != schemaVersion {
		return storageErr("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", schemaVersion, version))
	}
	return nil
}

func (s *SQLiteStore) Record(ctx context.Context, r *Record) error {
	metadata, _ := json.Marshal(r.Metadata)

	var expiresAt any
	if r.ExpiresAt != nil {
		expiresAt = r.ExpiresAt.UTC()
	}

	const query = `
		INSERT INTO audit (
			id, action_id, namespace, tenant, provider, action_type,
			verdict, matched_rule, outcome,
			payload, verdict_details, outcome_details, metadata,
			dispatched_at, completed_at, duration_ms, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.ActionID, r.Namespace, r.Tenant, r.Provider, r.ActionType,
		r.Verdict, r.MatchedRule, r.Outcome,
		r.Payload, r.VerdictDetails, r.OutcomeDetails, string(metadata),
		r.DispatchedAt.UTC(), r.CompletedAt.UTC(), r.DurationMS, expiresAt,
	)
	if err != nil {
		return storageErr("sqlite", "record", err)
	}
	return nil
}

// whereClause builds the filter clause and arguments for q.
func whereClause(q *Query) (string, []any) {
	var conds []string
	var args []any

	add := func(cond string, arg any) {
		conds = append(conds, cond)
		args = append(args, arg)
	}

	if q.Namespace != "" {
		add("namespace = ?", q.Namespace)
	}
	if q.Tenant != "" {
		add("tenant = ?", q.Tenant)
	}
	if q.Provider != "" {
		add("provider = ?", q.Provider)
	}
	if q.ActionType != "" {
		add("action_type = ?", q.ActionType)
	}
	if q.ActionID != "" {
		add("action_id = ?", q.ActionID)
	}
	if q.Outcome != "" {
		add("outcome = ?", q.Outcome)
	}
	if q.Verdict != "" {
		add("verdict = ?", q.Verdict)
	}
	if !q.Since.IsZero() {
		add("dispatched_at >= ?", q.Since.UTC())
	}
	if !q.Until.IsZero() {
		add("dispatched_at <= ?", q.Until.UTC())
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *SQLiteStore) Query(ctx context.Context, q *Query) ([]*Record, error) {
	where, args := whereClause(q)
	query := `
		SELECT id, action_id, namespace, tenant, provider, action_type,
		       verdict, matched_rule, outcome,
		       payload, verdict_details, outcome_details, metadata,
		       dispatched_at, completed_at, duration_ms, expires_at
		FROM audit` + where + `
		ORDER BY dispatched_at DESC, id DESC
		LIMIT ? OFFSET ?`
	args = append(args, q.EffectiveLimit(), q.EffectiveOffset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("sqlite", "query", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, storageErr("sqlite", "scan", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("sqlite", "query", err)
	}
	return out, nil
}

func scanRecord(rows *sql.Rows) (*Record, error) {
	var r Record
	var matchedRule, payload, verdictDetails, outcomeDetails, metadata sql.NullString
	var expiresAt sql.NullTime

	err := rows.Scan(
		&r.ID, &r.ActionID, &r.Namespace, &r.Tenant, &r.Provider, &r.ActionType,
		&r.Verdict, &matchedRule, &r.Outcome,
		&payload, &verdictDetails, &outcomeDetails, &metadata,
		&r.DispatchedAt, &r.CompletedAt, &r.DurationMS, &expiresAt,
	)
	if err != nil {
		return nil, err
	}

	r.MatchedRule = matchedRule.String
	r.Payload = payload.String
	r.VerdictDetails = verdictDetails.String
	r.OutcomeDetails = outcomeDetails.String
	if metadata.String != "" && metadata.String != "null" {
		if err := json.Unmarshal([]byte(metadata.String), &r.Metadata); err != nil {
			return nil, err
		}
	}
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		r.ExpiresAt = &t
	}
	r.DispatchedAt = r.DispatchedAt.UTC()
	r.CompletedAt = r.CompletedAt.UTC()
	return &r, nil
}

func (s *SQLiteStore) Count(ctx context.Context, q *Query) (int64, error) {
	where, args := whereClause(q)
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit"+where, args...).Scan(&n)
	if err != nil {
		return 0, storageErr("sqlite", "count", err)
	}
	return n, nil
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM audit WHERE expires_at IS NOT NULL AND expires_at <= ?", now.UTC())
	if err != nil {
		return 0, storageErr("sqlite", "delete_expired", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("sqlite", "delete_expired", err)
	}
	if n > 0 {
		s.logger.Debug("pruned expired audit records", "count", n)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
