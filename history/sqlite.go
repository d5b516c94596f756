package history

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	// sqlite driver
	_ "github.com/mattn/go-sqlite3"
	"github.com/mercuryim/mercury/config"
	"go.uber.org/zap"
)

// SQLWriter persists delivered-message copies into a sqlite database.
type SQLWriter struct {
	log *zap.SugaredLogger
	db  *sqlx.DB
}

func Open(c *config.Config) (*SQLWriter, error) {
	log := c.Logger("history/sqlite")
	db, err := sqlx.Connect("sqlite3", c.HistoryPath)
	if err != nil {
		return nil, fmt.Errorf("history: error opening %s: %w", c.HistoryPath, err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			sender_id TEXT NOT NULL,
			recipient_id TEXT NOT NULL DEFAULT '',
			group_id TEXT NOT NULL DEFAULT '',
			encrypted_content TEXT NOT NULL,
			encrypted_session_key TEXT NOT NULL DEFAULT '',
			delivered_at TIMESTAMP NOT NULL
		)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: error preparing schema: %w", err)
	}
	return &SQLWriter{log: log, db: db}, nil
}

func (w *SQLWriter) Write(ctx context.Context, e *Entry) error {
	if _, err := w.db.ExecContext(ctx, `
		INSERT INTO messages
			(message_id, sender_id, recipient_id, group_id, encrypted_content, encrypted_session_key, delivered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT(message_id) DO NOTHING`,
		e.MessageID, e.SenderID, e.RecipientID, e.GroupID, e.EncryptedContent, e.EncryptedSessionKey, e.DeliveredAt); err != nil {
		return fmt.Errorf("history: error writing entry %s: %w", e.MessageID, err)
	}
	return nil
}

func (w *SQLWriter) Close() error {
	return w.db.Close()
}
