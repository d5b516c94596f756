// This package defines a common config struct which is shared by every subsystem within mercury.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Debug          bool
	RootDir        string
	ListenAddr     string
	TokenSecret    string
	RedisURL       string
	DirectoryPath  string
	HistoryPath    string
	DefaultTTL     time.Duration
	SweepInterval  time.Duration
	SendBufferSize int
	ReadLimitBytes int64
	WriteTimeoutMs int64
	PingIntervalMs int64
	LoggingPrefix  string
	writer         io.Writer
}

func (c Config) Logger(source string) *zap.SugaredLogger {
	var p string
	if source == "" {
		p = c.LoggingPrefix
	} else {
		p = fmt.Sprintf("%s:%s", c.LoggingPrefix, source)
	}

	level := zapcore.InfoLevel
	if c.Debug {
		level = zapcore.DebugLevel
	}
	opts := []zap.Option{
		zap.Fields(zap.String("source", p)),
	}

	de := zap.NewDevelopmentEncoderConfig()
	fileEncoder := zapcore.NewJSONEncoder(de)
	consoleEncoder := zapcore.NewConsoleEncoder(de)
	core := zapcore.NewTee(
		zapcore.NewCore(fileEncoder, zapcore.AddSync(c.writer), level),
		zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), level),
	)
	logger := zap.New(core, opts...)
	sugar := logger.Sugar()
	return sugar
}

type Option func(*Config)

func WithDebug(d bool) Option {
	return func(c *Config) {
		c.Debug = d
	}
}

func WithRootDir(d string) Option {
	return func(c *Config) {
		c.RootDir = d
	}
}

func WithListenAddr(a string) Option {
	return func(c *Config) {
		c.ListenAddr = a
	}
}

func WithTokenSecret(s string) Option {
	return func(c *Config) {
		c.TokenSecret = s
	}
}

func WithRedisURL(u string) Option {
	return func(c *Config) {
		c.RedisURL = u
	}
}

func WithDirectoryPath(p string) Option {
	return func(c *Config) {
		c.DirectoryPath = p
	}
}

func WithHistoryPath(p string) Option {
	return func(c *Config) {
		c.HistoryPath = p
	}
}

func WithDefaultTTL(d time.Duration) Option {
	return func(c *Config) {
		c.DefaultTTL = d
	}
}

func WithSweepInterval(d time.Duration) Option {
	return func(c *Config) {
		c.SweepInterval = d
	}
}

func WithSendBufferSize(n int) Option {
	return func(c *Config) {
		c.SendBufferSize = n
	}
}

func WithLoggingPrefix(p string) Option {
	return func(c *Config) {
		c.LoggingPrefix = p
	}
}

func NewConfig(opts ...Option) *Config {
	c := &Config{
		Debug:          os.Getenv("DEBUG") == "1",
		ListenAddr:     "127.0.0.1:8001",
		TokenSecret:    os.Getenv("MERCURY_TOKEN_SECRET"),
		RedisURL:       os.Getenv("MERCURY_REDIS_URL"),
		DirectoryPath:  "directory.db",
		HistoryPath:    "",
		DefaultTTL:     7 * 24 * time.Hour,
		SweepInterval:  time.Hour,
		SendBufferSize: 64,
		ReadLimitBytes: 1 << 20,
		WriteTimeoutMs: 10000,
		PingIntervalMs: 30000,
		LoggingPrefix:  "",
		RootDir:        ".",

		writer: nil,
	}
	for _, o := range opts {
		o(c)
	}

	writer := &lumberjack.Logger{
		Filename:   filepath.Join(c.RootDir, "out.log"),
		MaxSize:    500, // megabytes
		MaxBackups: 3,
		MaxAge:     28,   // days
		Compress:   true, // disabled by default
	}
	c.writer = writer
	return c
}
