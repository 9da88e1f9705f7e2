// Package kuria is the public API for embedding the Kuria agent server.
//
// Consumers import this package to run the server with their own agents
// and action operations instead of forking it:
//
//	app, err := kuria.New(
//	    kuria.WithVersion(version),
//	    kuria.WithLogger(logger),
//	    kuria.WithAgent(myAgent{}, "30 7 * * *"),
//	    kuria.WithOperation("escalate_ticket", myEscalateOp),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: kuria (root) imports
// internal/*, but internal/* never imports kuria (root). Public types
// (Tenant, RunResult) are standalone structs with no internal imports;
// conversion helpers live here because this is the only file that sees
// both sides of the boundary.
package kuria

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/kuria-ai/kuria/api"
	"github.com/kuria-ai/kuria/internal/agent"
	"github.com/kuria-ai/kuria/internal/agents/latepayments"
	"github.com/kuria-ai/kuria/internal/auth"
	"github.com/kuria-ai/kuria/internal/config"
	"github.com/kuria-ai/kuria/internal/connector"
	"github.com/kuria-ai/kuria/internal/draft"
	"github.com/kuria-ai/kuria/internal/executor"
	"github.com/kuria-ai/kuria/internal/model"
	"github.com/kuria-ai/kuria/internal/notify"
	"github.com/kuria-ai/kuria/internal/ops"
	"github.com/kuria-ai/kuria/internal/ratelimit"
	"github.com/kuria-ai/kuria/internal/router"
	"github.com/kuria-ai/kuria/internal/scheduler"
	"github.com/kuria-ai/kuria/internal/server"
	"github.com/kuria-ai/kuria/internal/storage"
	"github.com/kuria-ai/kuria/internal/storage/lite"
	"github.com/kuria-ai/kuria/internal/telemetry"
	"github.com/kuria-ai/kuria/migrations"
)

// store is the union of the narrow per-package interfaces, satisfied by
// both the Postgres and the SQLite implementations.
type store interface {
	executor.Store
	router.Store
	agent.RunStore
	scheduler.Store
	server.Store
	latepayments.ConfigStore

	CreateTenant(ctx context.Context, t model.Tenant) (model.Tenant, error)
}

// App is the Kuria server lifecycle. Construct with New(), run with Run().
// App has no public fields; use New() options to configure it.
type App struct {
	cfg          config.Config
	db           store
	closeDB      func()
	srv          *server.Server
	sched        *scheduler.Scheduler
	authLimiter  ratelimit.Limiter
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the Kuria server. It connects to the store, runs
// migrations, wires all subsystems, and returns a ready-to-run App.
// It does not accept HTTP connections or schedule jobs; call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.sqlitePath != "" {
		cfg.SQLitePath = o.sqlitePath
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("kuria starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	db, closeDB, err := openStore(context.Background(), cfg, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, err
	}

	app, err := build(cfg, db, closeDB, o, logger, version)
	if err != nil {
		closeDB()
		_ = otelShutdown(context.Background())
		return nil, err
	}
	app.otelShutdown = otelShutdown
	return app, nil
}

// build wires every subsystem on top of an open store.
func build(cfg config.Config, db store, closeDB func(), o resolvedOptions, logger *slog.Logger, version string) (*App, error) {
	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}

	var adminHash string
	if cfg.AdminAPIKey != "" {
		adminHash, err = auth.HashAPIKey(cfg.AdminAPIKey)
		if err != nil {
			return nil, fmt.Errorf("hash admin key: %w", err)
		}
	} else {
		logger.Warn("KURIA_ADMIN_API_KEY not set, token exchange disabled")
	}

	notifier := notify.New(notify.Config{
		SMTPHost:        cfg.SMTPHost,
		SMTPPort:        cfg.SMTPPort,
		SMTPUser:        cfg.SMTPUser,
		SMTPPassword:    cfg.SMTPPassword,
		SMTPFrom:        cfg.SMTPFrom,
		SlackWebhookURL: cfg.SlackWebhookURL,
	}, logger)

	var drafter draft.Drafter = draft.Noop{}
	if cfg.AnthropicAPIKey != "" {
		drafter = draft.NewAnthropic(cfg.AnthropicAPIKey, cfg.BriefModel, cfg.DraftModel, logger)
		logger.Info("drafting enabled", "draft_model", cfg.DraftModel, "brief_model", cfg.BriefModel)
	} else {
		logger.Info("drafting disabled, agents use templates")
	}

	exec := executor.New(db, logger, executor.WithBaseDelay(cfg.RetryBaseDelay))

	routes := router.Routes{
		latepayments.EventOverdueInvoices: {latepayments.HandleOverdueInvoices(db, logger)},
	}
	events := router.New(db, routes, logger)

	// The translation layer to real CRMs and invoicing systems lives
	// outside this service; until one is attached every tenant gets the
	// seeded in-memory connector.
	mock := connector.NewMock(nil, connector.SeedOverdueInvoices(time.Now().UTC()))
	connectors := func(context.Context, model.Tenant) (connector.Connector, error) {
		return mock, nil
	}
	logger.Info("connector: in-memory mock")

	lateAgent := latepayments.New(connectors, exec, drafter, notifier, events, logger)

	agents := []agent.Agent{lateAgent}
	jobs := []scheduler.JobSpec{
		{Agent: latepayments.Name, Schedule: cfg.LatePaymentsSchedule},
	}
	for _, reg := range o.agents {
		agents = append(agents, registeredAgent{a: reg.agent})
		jobs = append(jobs, scheduler.JobSpec{Agent: reg.agent.Name(), Schedule: reg.schedule})
	}

	registry, err := agent.NewRegistry(agents...)
	if err != nil {
		return nil, fmt.Errorf("agent registry: %w", err)
	}
	runtime := agent.NewRuntime(db, logger)

	resolver := ops.NewResolver()
	if _, overridden := o.operations[latepayments.ActionSendReminder]; !overridden {
		if err := resolver.Register(latepayments.ActionSendReminder, latepayments.SendReminderOperation(notifier)); err != nil {
			return nil, fmt.Errorf("ops: %w", err)
		}
	}
	for actionType, op := range o.operations {
		if err := resolver.Register(actionType, publicBuilder(op)); err != nil {
			return nil, fmt.Errorf("ops: %w", err)
		}
	}

	sched, err := scheduler.New(scheduler.Config{
		Store:         db,
		Runtime:       runtime,
		Registry:      registry,
		Router:        events,
		Jobs:          jobs,
		DrainSchedule: cfg.DrainSchedule,
		Location:      cfg.Location(),
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}

	var authLimiter ratelimit.Limiter = ratelimit.NoopLimiter{}
	if cfg.AuthRateLimitRPS > 0 {
		authLimiter = ratelimit.NewMemoryLimiter(cfg.AuthRateLimitRPS, cfg.AuthRateLimitBurst)
	}

	srv := server.New(server.ServerConfig{
		Store:               db,
		Executor:            exec,
		Resolver:            resolver,
		Runtime:             runtime,
		Registry:            registry,
		JWTMgr:              jwtMgr,
		Logger:              logger,
		AdminKeyHash:        adminHash,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         api.OpenAPISpec,
		AuthLimiter:         authLimiter,
	})

	return &App{
		cfg:         cfg,
		db:          db,
		closeDB:     closeDB,
		srv:         srv,
		sched:       sched,
		authLimiter: authLimiter,
		logger:      logger,
		version:     version,
	}, nil
}

// Run starts the scheduler and the HTTP server and blocks until ctx is
// cancelled or either subsystem fails. It owns shutdown: the HTTP server
// drains, the scheduler finishes in-flight jobs, and the store closes
// before Run returns.
func (app *App) Run(ctx context.Context) error {
	defer func() {
		_ = app.authLimiter.Close()
		app.closeDB()
		_ = app.otelShutdown(context.Background())
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.sched.Run(gctx)
	})

	g.Go(func() error {
		if err := app.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		app.logger.Info("kuria shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return app.srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	app.logger.Info("kuria stopped")
	return err
}

// openStore connects to Postgres when DATABASE_URL is set and falls back
// to the embedded SQLite store otherwise.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store, func(), error) {
	if cfg.DatabaseURL != "" {
		db, err := storage.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("storage: %w", err)
		}
		if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrations: %w", err)
		}
		logger.Info("store: postgres")
		return db, db.Close, nil
	}

	db, err := lite.Open(ctx, cfg.SQLitePath, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: %w", err)
	}
	logger.Info("store: sqlite", "path", cfg.SQLitePath)

	if err := seedDemoTenant(ctx, db, logger); err != nil {
		logger.Warn("demo tenant seed failed", "error", err)
	}

	return db, func() { _ = db.Close() }, nil
}

// seedDemoTenant creates one tenant on a fresh SQLite store so the mock
// connector has someone to work for out of the box.
func seedDemoTenant(ctx context.Context, db *lite.DB, logger *slog.Logger) error {
	tenants, err := db.ListActiveTenants(ctx)
	if err != nil {
		return err
	}
	if len(tenants) > 0 {
		return nil
	}

	tenant, err := db.CreateTenant(ctx, model.Tenant{
		Name:   "Demo",
		Active: true,
		AgentConfigs: map[string]model.AgentConfig{
			latepayments.Name: {},
		},
	})
	if err != nil {
		return err
	}
	logger.Info("demo tenant created", "tenant_id", tenant.ID)
	return nil
}

// registeredAgent adapts a public Agent to the internal agent contract.
type registeredAgent struct {
	a Agent
}

func (r registeredAgent) Name() string { return r.a.Name() }

func (r registeredAgent) Run(ctx context.Context, tenant model.Tenant, cfg model.AgentConfig) (model.AgentRunResult, error) {
	result, err := r.a.Run(ctx, toPublicTenant(tenant), map[string]any(cfg))
	return fromPublicResult(result), err
}

// publicBuilder adapts a public Operation to the resolver's builder
// contract by binding the action's stored payload.
func publicBuilder(op Operation) ops.Builder {
	return func(p model.PendingAction) (executor.Operation, error) {
		payload := p.Payload
		return func(ctx context.Context) (map[string]any, error) {
			return op(ctx, payload)
		}, nil
	}
}

func toPublicTenant(t model.Tenant) Tenant {
	configs := make(map[string]map[string]any, len(t.AgentConfigs))
	for name, cfg := range t.AgentConfigs {
		configs[name] = map[string]any(cfg)
	}
	return Tenant{
		ID:           t.ID,
		Name:         t.Name,
		Active:       t.Active,
		CreatedAt:    t.CreatedAt,
		AgentConfigs: configs,
	}
}

func fromPublicResult(r RunResult) model.AgentRunResult {
	out := model.AgentRunResult{
		KPIName:  r.KPIName,
		KPIValue: r.KPIValue,
		Errors:   r.Errors,
	}
	for _, a := range r.ActionsTaken {
		out.ActionsTaken = append(out.ActionsTaken, model.ActionSummary{
			Type:   a.Type,
			Level:  model.ActionLevel(a.Level),
			Status: model.ActionStatus(a.Status),
		})
	}
	return out
}
