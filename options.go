package kuria

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported, callers use the With* functions.
type resolvedOptions struct {
	port        int
	databaseURL string
	sqlitePath  string
	logger      *slog.Logger
	version     string

	agents     []scheduledAgent
	operations map[string]Operation
}

type scheduledAgent struct {
	agent    Agent
	schedule string
}

// WithPort overrides the TCP port from config (KURIA_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the Postgres connection string from config
// (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithSQLitePath overrides the SQLite path from config (KURIA_SQLITE_PATH
// env var). Ignored when a database URL is set.
func WithSQLitePath(path string) Option {
	return func(o *resolvedOptions) { o.sqlitePath = path }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithAgent registers a custom agent with its cron schedule (standard
// 5-field expression, anchored in the configured timezone). Multiple
// agents may be registered; names must not collide.
func WithAgent(a Agent, schedule string) Option {
	return func(o *resolvedOptions) {
		o.agents = append(o.agents, scheduledAgent{agent: a, schedule: schedule})
	}
}

// WithOperation registers the executable side effect for one action type,
// used when an action of that type is approved or runs autonomously.
// Registering a type twice keeps only the last registration.
func WithOperation(actionType string, op Operation) Option {
	return func(o *resolvedOptions) {
		if o.operations == nil {
			o.operations = make(map[string]Operation)
		}
		o.operations[actionType] = op
	}
}
