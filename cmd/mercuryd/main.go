// Command mercuryd runs the mercury relay server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	mercury "github.com/mercuryim/mercury"
	"github.com/mercuryim/mercury/config"
)

func main() {
	var (
		listen   = flag.String("listen", "127.0.0.1:8001", "listen address")
		secret   = flag.String("secret", os.Getenv("MERCURY_TOKEN_SECRET"), "token signing secret")
		redisURL = flag.String("redis", os.Getenv("MERCURY_REDIS_URL"), "redis url for presence events (optional)")
		dirPath  = flag.String("directory", "directory.db", "path to the directory sqlite database")
		histPath = flag.String("history", "", "path to the history sqlite database (optional)")
		ttl      = flag.Duration("ttl", 7*24*time.Hour, "default relay message TTL")
		sweep    = flag.Duration("sweep", time.Hour, "expiry sweep interval")
		rootDir  = flag.String("root", ".", "root directory for logs")
		debug    = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	if *secret == "" {
		fmt.Fprintln(os.Stderr, "a token secret is required (-secret or MERCURY_TOKEN_SECRET)")
		os.Exit(1)
	}

	c := config.NewConfig(
		config.WithListenAddr(*listen),
		config.WithTokenSecret(*secret),
		config.WithRedisURL(*redisURL),
		config.WithDirectoryPath(*dirPath),
		config.WithHistoryPath(*histPath),
		config.WithDefaultTTL(*ttl),
		config.WithSweepInterval(*sweep),
		config.WithRootDir(*rootDir),
		config.WithDebug(*debug),
		config.WithLoggingPrefix("mercuryd"),
	)

	m, err := mercury.New(c)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}
	if err := m.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
		os.Exit(1)
	}
}
