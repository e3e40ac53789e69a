package pcache

import "database/sql"

// migration is one versioned schema step. Grounded on tokenman's
// internal/store migrations.go: a migrations []migration slice applied in
// order inside a transaction, tracked in a schema_migrations table.
type migration struct {
	Version int
	SQL     string
}

var migrations = []migration{
	{
		Version: 1,
		SQL: `
			CREATE TABLE IF NOT EXISTS response_cache (
				tool_name           TEXT NOT NULL,
				request_fingerprint TEXT NOT NULL,
				parameters_json     TEXT NOT NULL,
				response            TEXT NOT NULL,
				cached_at           TEXT NOT NULL,
				expires_at          TEXT NOT NULL,
				hit_count           INTEGER NOT NULL DEFAULT 0,
				last_accessed       TEXT NOT NULL,
				UNIQUE(tool_name, request_fingerprint)
			);
			CREATE INDEX IF NOT EXISTS idx_response_cache_tool_name ON response_cache(tool_name);
			CREATE INDEX IF NOT EXISTS idx_response_cache_fingerprint ON response_cache(request_fingerprint);
			CREATE INDEX IF NOT EXISTS idx_response_cache_expires_at ON response_cache(expires_at);
		`,
	},
}

func (c *Cache) migrate() error {
	if _, err := c.writer.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY)
	`); err != nil {
		return err
	}

	current, err := c.currentVersion()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := c.applyMigration(m); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) currentVersion() (int, error) {
	var v sql.NullInt64
	if err := c.writer.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&v); err != nil {
		return 0, err
	}
	return int(v.Int64), nil
}

func (c *Cache) applyMigration(m migration) error {
	tx, err := c.writer.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, m.Version); err != nil {
		return err
	}
	return tx.Commit()
}
