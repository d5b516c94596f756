package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mercuryim/mercury/config"
	"github.com/stretchr/testify/require"
)

func TestWriteIsIdempotentPerMessage(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()
	c := config.NewConfig(
		config.WithRootDir(dir),
		config.WithHistoryPath(filepath.Join(dir, "history.db")),
	)

	w, err := Open(c)
	require.NoError(err)
	defer func() {
		require.NoError(w.Close())
	}()

	e := &Entry{
		MessageID:           "m1",
		SenderID:            "alice",
		RecipientID:         "bob",
		EncryptedContent:    "ciphertext",
		EncryptedSessionKey: "wrapped",
		DeliveredAt:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	ctx := context.Background()
	require.NoError(w.Write(ctx, e))
	require.NoError(w.Write(ctx, e), "re-offering the same delivery must not fail")

	var count int
	require.NoError(w.db.Get(&count, "SELECT count(*) FROM messages"))
	require.Equal(1, count)
}
