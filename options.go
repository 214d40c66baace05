package driftkv

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/driftkv/driftkv/backend"
)

// AuthRefresher obtains a fresh credential after an HTTP 401, or returns
// an error if none is available.
type AuthRefresher func(ctx context.Context) (string, error)

// Options configures Open. Name is the only required field; everything
// else is optional with defaults.
type Options struct {
	Name string

	// DataDir roots the durable bbolt file (named DataDir/Name.db) when
	// UseMemstore is false. Defaults to ".".
	DataDir     string
	UseMemstore bool

	PullURL string
	PushURL string

	PullAuth    string
	PushAuth    string
	GetPullAuth AuthRefresher
	GetPushAuth AuthRefresher

	PullInterval time.Duration // 0 disables the pull watchdog
	PushDelay    time.Duration // debounce; default 10ms

	MaxConnections int // default 3

	SchemaVersion string

	LogLevel string // "error" | "info" | "debug"
	Logger   *slog.Logger

	// OnSyncEvent fires true when a push or pull dispatch begins and
	// false when it settles, so hosts can show a sync indicator.
	OnSyncEvent func(isSyncing bool)
}

// Option configures Options.
type Option func(*Options)

func WithMemstore(use bool) Option { return func(o *Options) { o.UseMemstore = use } }

func WithDataDir(dir string) Option { return func(o *Options) { o.DataDir = dir } }

func WithPullURL(url string) Option { return func(o *Options) { o.PullURL = url } }

func WithPushURL(url string) Option { return func(o *Options) { o.PushURL = url } }

func WithPullAuth(auth string) Option { return func(o *Options) { o.PullAuth = auth } }

func WithPushAuth(auth string) Option { return func(o *Options) { o.PushAuth = auth } }

func WithGetPullAuth(fn AuthRefresher) Option { return func(o *Options) { o.GetPullAuth = fn } }

func WithGetPushAuth(fn AuthRefresher) Option { return func(o *Options) { o.GetPushAuth = fn } }

// WithPullInterval sets the pull watchdog period; 0 disables it.
func WithPullInterval(d time.Duration) Option {
	return func(o *Options) {
		if d >= 0 {
			o.PullInterval = d
		}
	}
}

// WithPushDelay sets the push debounce; pass 1*time.Millisecond for
// eager push.
func WithPushDelay(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.PushDelay = d
		}
	}
}

func WithMaxConnections(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxConnections = n
		}
	}
}

func WithSchemaVersion(v string) Option { return func(o *Options) { o.SchemaVersion = v } }

// WithLogLevel sets the logging verbosity ("error", "info", or "debug")
// used to build a default logger when WithLogger is not supplied.
func WithLogLevel(level string) Option { return func(o *Options) { o.LogLevel = level } }

// WithLogger sets the logger directly, taking precedence over LogLevel.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

func WithSyncEventHandler(fn func(isSyncing bool)) Option {
	return func(o *Options) { o.OnSyncEvent = fn }
}

func newOptions(name string, opts []Option) Options {
	o := Options{
		Name:           name,
		DataDir:        ".",
		PushDelay:      10 * time.Millisecond,
		MaxConnections: 3,
		LogLevel:       "info",
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// opener picks the backend Opener for these options: a fresh in-memory
// opener when UseMemstore is set (memory stores drop their contents on
// close, so there is nothing to share between Opens), or a bbolt opener
// rooted at DataDir.
func (o Options) opener() backend.Opener {
	if o.UseMemstore {
		return backend.NewMemoryOpener()
	}
	return backend.NewBoltOpener(o.DataDir)
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	var level slog.Level
	switch o.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
