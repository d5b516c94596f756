package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	// sqlite driver
	_ "github.com/mattn/go-sqlite3"
	"github.com/mercuryim/mercury/config"
	"go.uber.org/zap"
)

// SQLDirectory reads users and group membership out of a sqlite database. It
// also carries provisioning writes for the data's owner; the relay core only
// ever calls the Directory interface methods.
type SQLDirectory struct {
	log *zap.SugaredLogger
	db  *sqlx.DB
}

func Open(c *config.Config) (*SQLDirectory, error) {
	log := c.Logger("directory/sqlite")
	db, err := sqlx.Connect("sqlite3", c.DirectoryPath)
	if err != nil {
		return nil, fmt.Errorf("directory: error opening %s: %w", c.DirectoryPath, err)
	}
	d := &SQLDirectory{log: log, db: db}
	if err := d.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

func (d *SQLDirectory) Close() error {
	return d.db.Close()
}

func (d *SQLDirectory) UserExists(ctx context.Context, userID string) (bool, error) {
	var one int
	err := d.db.GetContext(ctx, &one, "SELECT 1 FROM users WHERE id = $1", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("directory: error looking up user %s: %w", userID, err)
	}
	return true, nil
}

func (d *SQLDirectory) Group(ctx context.Context, groupID string) (*Group, error) {
	var ownerID string
	err := d.db.GetContext(ctx, &ownerID, "SELECT owner_id FROM groups WHERE id = $1", groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("directory: error looking up group %s: %w", groupID, err)
	}

	var members []string
	if err := d.db.SelectContext(ctx, &members,
		"SELECT user_id FROM group_members WHERE group_id = $1 ORDER BY user_id", groupID); err != nil {
		return nil, fmt.Errorf("directory: error listing members of %s: %w", groupID, err)
	}
	return &Group{ID: groupID, OwnerID: ownerID, Members: members}, nil
}

func (d *SQLDirectory) AddUser(ctx context.Context, userID, username string) error {
	if _, err := d.db.ExecContext(ctx,
		"INSERT INTO users (id, username) VALUES ($1, $2) ON CONFLICT(id) DO NOTHING", userID, username); err != nil {
		return fmt.Errorf("directory: error inserting user: %w", err)
	}
	return nil
}

func (d *SQLDirectory) AddGroup(ctx context.Context, groupID, ownerID string) error {
	if _, err := d.db.ExecContext(ctx,
		"INSERT INTO groups (id, owner_id) VALUES ($1, $2) ON CONFLICT(id) DO NOTHING", groupID, ownerID); err != nil {
		return fmt.Errorf("directory: error inserting group: %w", err)
	}
	return nil
}

func (d *SQLDirectory) AddMember(ctx context.Context, groupID, userID string) error {
	if _, err := d.db.ExecContext(ctx,
		"INSERT INTO group_members (group_id, user_id) VALUES ($1, $2) ON CONFLICT(group_id, user_id) DO NOTHING",
		groupID, userID); err != nil {
		return fmt.Errorf("directory: error inserting member: %w", err)
	}
	return nil
}
