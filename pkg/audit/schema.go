package audit

// schemaVersion is the current database schema version.
const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS audit (
    id TEXT PRIMARY KEY,
    action_id TEXT NOT NULL,
    namespace TEXT NOT NULL,
    tenant TEXT NOT NULL,
    provider TEXT NOT NULL,
    action_type TEXT NOT NULL,

    verdict TEXT NOT NULL,
    matched_rule TEXT,
    outcome TEXT NOT NULL,

    payload TEXT,
    verdict_details TEXT,
    outcome_details TEXT,
    metadata TEXT,

    dispatched_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP NOT NULL,
    duration_ms INTEGER NOT NULL,
    expires_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_dispatched_at ON audit(dispatched_at);
CREATE INDEX IF NOT EXISTS idx_audit_tenant ON audit(namespace, tenant);
CREATE INDEX IF NOT EXISTS idx_audit_action_id ON audit(action_id);
CREATE INDEX IF NOT EXISTS idx_audit_outcome ON audit(outcome);
CREATE INDEX IF NOT EXISTS idx_audit_expires_at ON audit(expires_at);
`

const insertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, datetime('now'))
ON CONFLICT(version) DO NOTHING;
`

const getSchemaVersion = `
SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;
`
