package directory

import (
	"fmt"
)

type migration struct {
	name  string
	stmts []string
}

var migrations = []migration{
	{
		name: "create initial tables",
		stmts: []string{
			`CREATE TABLE users (
				id TEXT PRIMARY KEY,
				username TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE TABLE groups (
				id TEXT PRIMARY KEY,
				owner_id TEXT NOT NULL
			)`,
			`CREATE TABLE group_members (
				group_id TEXT NOT NULL,
				user_id TEXT NOT NULL,
				PRIMARY KEY (group_id, user_id)
			)`,
		},
	},
}

// migrate applies pending migrations in order, one transaction each, recording
// the applied version like the rest of our sqlite stores do.
func (d *SQLDirectory) migrate() error {
	if _, err := d.db.Exec(`
		CREATE TABLE IF NOT EXISTS _migrations_directory (
			id INT8 NOT NULL,
			version VARCHAR(255) NOT NULL,
			PRIMARY KEY (id)
		)`); err != nil {
		return fmt.Errorf("directory: error preparing migrations table: %w", err)
	}

	var count int
	if err := d.db.Get(&count, "SELECT count(*) FROM _migrations_directory"); err != nil {
		return fmt.Errorf("directory: error counting migrations: %w", err)
	}
	if count > len(migrations) {
		return fmt.Errorf("directory: applied migration count %d exceeds defined list %d", count, len(migrations))
	}

	for idx, m := range migrations[count:] {
		tx, err := d.db.Beginx()
		if err != nil {
			return fmt.Errorf("directory: error starting migration tx: %w", err)
		}
		for _, stmt := range m.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("directory: error in migration %q: %w", m.name, err)
			}
		}
		if _, err := tx.Exec("INSERT INTO _migrations_directory (id, version) VALUES ($1, $2)", count+idx, m.name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("directory: error recording migration %q: %w", m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("directory: error committing migration %q: %w", m.name, err)
		}
		d.log.Infof("applied migration %q", m.name)
	}
	return nil
}
