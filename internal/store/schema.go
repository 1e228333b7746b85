package store

import "strings"

// schemaTemplate uses {{ID}} and {{TS}} markers that are expanded per driver.
var schemaTemplate = []string{
	`CREATE TABLE IF NOT EXISTS api_keys (
    id         {{ID}},
    api_key    TEXT NOT NULL UNIQUE,
    owner      TEXT NOT NULL,
    permission INTEGER NOT NULL,
    suspended  BOOLEAN NOT NULL DEFAULT FALSE
)`,
	`CREATE TABLE IF NOT EXISTS engines (
    id          {{ID}},
    name        TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT ''
)`,
	`CREATE TABLE IF NOT EXISTS engine_versions (
    id          {{ID}},
    engine_id   BIGINT NOT NULL REFERENCES engines(id),
    version     TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    created_at  {{TS}} NOT NULL,
    UNIQUE (engine_id, version)
)`,
	`CREATE TABLE IF NOT EXISTS models (
    id     {{ID}},
    name   TEXT NOT NULL UNIQUE,
    config TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS engine_version_models (
    engine_version_id BIGINT NOT NULL REFERENCES engine_versions(id),
    model_id          BIGINT NOT NULL REFERENCES models(id),
    position          INTEGER NOT NULL,
    PRIMARY KEY (engine_version_id, model_id)
)`,
	`CREATE TABLE IF NOT EXISTS requests (
    id                     TEXT PRIMARY KEY,
    engine_id              BIGINT NOT NULL REFERENCES engines(id),
    api_key_id             BIGINT NOT NULL REFERENCES api_keys(id),
    creation_timestamp     {{TS}} NOT NULL,
    modification_timestamp {{TS}} NOT NULL,
    finish_timestamp       {{TS}},
    swept_timestamp        {{TS}}
)`,
	`CREATE TABLE IF NOT EXISTS pages (
    id                   TEXT PRIMARY KEY,
    request_id           TEXT NOT NULL REFERENCES requests(id),
    name                 TEXT NOT NULL,
    url                  TEXT,
    state                TEXT NOT NULL,
    score                DOUBLE PRECISION,
    traceback            TEXT,
    engine_version_id    BIGINT REFERENCES engine_versions(id),
    processing_timestamp {{TS}},
    finish_timestamp     {{TS}},
    created_at           {{TS}} NOT NULL,
    UNIQUE (request_id, name)
)`,
	`CREATE INDEX IF NOT EXISTS idx_pages_state ON pages (state, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_requests_finish ON requests (finish_timestamp)`,
	`CREATE TABLE IF NOT EXISTS notification_state (
    id                INTEGER PRIMARY KEY,
    last_notification {{TS}}
)`,
	`INSERT INTO notification_state (id) VALUES (1) ON CONFLICT DO NOTHING`,
}

func schema(driver string) []string {
	id := "INTEGER PRIMARY KEY AUTOINCREMENT"
	ts := "DATETIME"
	if driver == DriverPostgres {
		id = "BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY"
		ts = "TIMESTAMPTZ"
	}
	r := strings.NewReplacer("{{ID}}", id, "{{TS}}", ts)
	out := make([]string, len(schemaTemplate))
	for i, stmt := range schemaTemplate {
		out[i] = r.Replace(stmt)
	}
	return out
}
