package repository

// Schema definitions for the Harrier database.
// Compatible with both SQLite and PostgreSQL.

const schemaJournalEntries = `
CREATE TABLE IF NOT EXISTS journal_entries (
    gl_detail_id TEXT PRIMARY KEY,
    journal_id TEXT NOT NULL,
    fiscal_year INTEGER NOT NULL,
    fiscal_period INTEGER NOT NULL,
    business_unit TEXT,
    effective_date TIMESTAMP NOT NULL,
    entry_date TIMESTAMP NOT NULL,
    entry_time TEXT,
    account_code TEXT NOT NULL,
    account_name TEXT,
    amount REAL NOT NULL,
    is_debit INTEGER NOT NULL,
    description TEXT,
    source TEXT,
    vendor_id TEXT,
    department TEXT,
    prepared_by TEXT,
    approved_by TEXT,
    approved_date TIMESTAMP,
    risk_score REAL NOT NULL DEFAULT 0,
    anomaly_flags TEXT,
    rule_violations TEXT
);

CREATE INDEX IF NOT EXISTS idx_entries_period ON journal_entries(fiscal_year, fiscal_period);
CREATE INDEX IF NOT EXISTS idx_entries_account ON journal_entries(account_code);
CREATE INDEX IF NOT EXISTS idx_entries_journal ON journal_entries(journal_id);
CREATE INDEX IF NOT EXISTS idx_entries_risk ON journal_entries(risk_score);
`

const schemaViolations = `
CREATE TABLE IF NOT EXISTS rule_violations (
    id TEXT PRIMARY KEY,
    scope TEXT NOT NULL,
    gl_detail_id TEXT NOT NULL,
    rule_id TEXT NOT NULL,
    category TEXT NOT NULL,
    severity TEXT NOT NULL,
    message TEXT,
    details TEXT,
    score_impact REAL NOT NULL DEFAULT 0,
    detected_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_violations_scope ON rule_violations(scope);
CREATE INDEX IF NOT EXISTS idx_violations_entry ON rule_violations(gl_detail_id);
CREATE INDEX IF NOT EXISTS idx_violations_rule ON rule_violations(rule_id);
`

const schemaRiskScores = `
CREATE TABLE IF NOT EXISTS risk_scores (
    gl_detail_id TEXT NOT NULL,
    scope TEXT NOT NULL,
    total REAL NOT NULL,
    rule_score REAL NOT NULL,
    ml_score REAL NOT NULL,
    benford_score REAL NOT NULL,
    category_scores TEXT,
    violated_rules TEXT,
    severity_level TEXT NOT NULL,
    requires_review INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (gl_detail_id, scope)
);

CREATE INDEX IF NOT EXISTS idx_scores_scope ON risk_scores(scope);
CREATE INDEX IF NOT EXISTS idx_scores_total ON risk_scores(scope, total);
`

const schemaCustomRules = `
CREATE TABLE IF NOT EXISTS custom_rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    severity TEXT NOT NULL,
    score_impact REAL NOT NULL DEFAULT 0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaBatchRuns = `
CREATE TABLE IF NOT EXISTS batch_runs (
    run_id TEXT PRIMARY KEY,
    mode TEXT NOT NULL,
    scope TEXT NOT NULL,
    started_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP,
    success INTEGER NOT NULL DEFAULT 0,
    result TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON batch_runs(started_at);
`

// schemaAggregates holds every derived table's rows as ordered JSON
// documents keyed by table name and scope. Replace-scope-then-recompute
// becomes a delete plus batched insert in one transaction, identical for
// all 17 tables.
const schemaAggregates = `
CREATE TABLE IF NOT EXISTS aggregate_rows (
    table_name TEXT NOT NULL,
    scope TEXT NOT NULL,
    pos INTEGER NOT NULL,
    data TEXT NOT NULL,
    PRIMARY KEY (table_name, scope, pos)
);

CREATE INDEX IF NOT EXISTS idx_aggregates_table ON aggregate_rows(table_name, scope);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaJournalEntries,
		schemaViolations,
		schemaRiskScores,
		schemaCustomRules,
		schemaBatchRuns,
		schemaAggregates,
	}
}
