package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// One row per WebSocket connection; closed_at stays NULL while open
		`CREATE TABLE IF NOT EXISTS connections (
			id TEXT PRIMARY KEY,
			remote_addr TEXT NOT NULL DEFAULT '',
			opened_at DATETIME NOT NULL,
			closed_at DATETIME
		)`,

		`CREATE INDEX IF NOT EXISTS idx_connections_opened_at ON connections(opened_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
