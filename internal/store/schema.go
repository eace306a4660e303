package store

import "database/sql"

// Schema is the complete engage state schema. All tables are idempotent
// (IF NOT EXISTS) so the schema can be applied on every open.
const Schema = `
-- Items already acted upon (any dispatch outcome). Pruned by age.
CREATE TABLE IF NOT EXISTS processed_items (
    id           TEXT PRIMARY KEY,
    source_id    TEXT NOT NULL DEFAULT '',
    outcome      TEXT NOT NULL DEFAULT '',
    processed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_processed_items_time ON processed_items(processed_at);

-- Lifetime per-source counters. Never reset.
CREATE TABLE IF NOT EXISTS source_stats (
    source_id TEXT PRIMARY KEY,
    scanned   INTEGER NOT NULL DEFAULT 0,
    found     INTEGER NOT NULL DEFAULT 0,
    sent      INTEGER NOT NULL DEFAULT 0
);

-- Aggregate counters, singleton row. responses_today resets at day boundary.
CREATE TABLE IF NOT EXISTS daily_stats (
    id                      INTEGER PRIMARY KEY CHECK (id = 1),
    total_cycles            INTEGER NOT NULL DEFAULT 0,
    total_responses         INTEGER NOT NULL DEFAULT 0,
    responses_today         INTEGER NOT NULL DEFAULT 0,
    last_reset_date         TEXT NOT NULL DEFAULT '',
    cycles_with_responses   INTEGER NOT NULL DEFAULT 0,
    cycles_without_responses INTEGER NOT NULL DEFAULT 0,
    started_at              INTEGER NOT NULL DEFAULT 0
);

-- Append-only log of sent replies, capped to the most recent entries.
CREATE TABLE IF NOT EXISTS responses (
    id         TEXT PRIMARY KEY,
    source_id  TEXT NOT NULL,
    item_id    TEXT NOT NULL,
    item_text  TEXT NOT NULL,
    reply      TEXT NOT NULL,
    style      TEXT NOT NULL DEFAULT '',
    confidence REAL NOT NULL DEFAULT 0,
    sent_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_responses_time ON responses(sent_at DESC);

-- Serialized browser session state, singleton row.
CREATE TABLE IF NOT EXISTS session_state (
    id          INTEGER PRIMARY KEY CHECK (id = 1),
    state       BLOB NOT NULL,
    verified_at INTEGER NOT NULL
);
`

// ApplySchema creates all tables and indexes on the given database.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
