package mercury

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/mercuryim/mercury/config"
	"github.com/stretchr/testify/require"
)

func TestStartServesAndShutsDown(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()
	c := config.NewConfig(
		config.WithRootDir(dir),
		config.WithTokenSecret("test-secret"),
		config.WithDirectoryPath(filepath.Join(dir, "directory.db")),
		config.WithListenAddr("127.0.0.1:0"),
	)

	m, err := New(c)
	require.NoError(err)
	require.NoError(m.Start())

	resp, err := http.Get("http://" + m.Addr() + "/api/relay/stats")
	require.NoError(err)
	require.NoError(resp.Body.Close())
	require.Equal(http.StatusUnauthorized, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(m.Shutdown(ctx))
}

func TestNewReleasesStoresWhenPublisherFails(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()
	opts := []config.Option{
		config.WithRootDir(dir),
		config.WithTokenSecret("test-secret"),
		config.WithDirectoryPath(filepath.Join(dir, "directory.db")),
		config.WithHistoryPath(filepath.Join(dir, "history.db")),
	}

	_, err := New(config.NewConfig(append(opts, config.WithRedisURL("not-a-redis-url"))...))
	require.Error(err)

	// The sqlite handles were released on the failure path, so a retry
	// against the same files succeeds.
	m, err := New(config.NewConfig(opts...))
	require.NoError(err)
	require.NoError(m.Shutdown(context.Background()))
}
