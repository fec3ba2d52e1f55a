// Command engine is the single operator binary: `workers start|stop|
// restart|status|stats` and `queue pause|resume|clean <queue>`, following
// the exit-code convention from spec.md §6 (0 success, 1 transient
// failure, 2 configuration error). There is no teacher analogue for an
// admin CLI shaped like this — cmd/api/main.go wires an HTTP server
// instead — so the subcommand dispatch itself is grounded on
// bravo1goingdark-mailgrid's cli/cliargs.go (pflag-based flag parsing)
// while the service wiring below follows cmd/api/main.go's
// load-config/build-dependencies/serve shape.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/campaignforge/engine/internal/alerts"
	"github.com/campaignforge/engine/internal/apikey"
	"github.com/campaignforge/engine/internal/config"
	"github.com/campaignforge/engine/internal/durable"
	"github.com/campaignforge/engine/internal/logindex"
	"github.com/campaignforge/engine/internal/metrics"
	"github.com/campaignforge/engine/internal/progress"
	"github.com/campaignforge/engine/internal/queue"
	"github.com/campaignforge/engine/internal/queue/workers"
	"github.com/campaignforge/engine/internal/ratelimit"
	"github.com/campaignforge/engine/internal/scheduler"
	"github.com/campaignforge/engine/internal/store"
	"github.com/campaignforge/engine/internal/transport"
	"github.com/campaignforge/engine/pkg/logger"
)

const (
	exitOK            = 0
	exitTransient     = 1
	exitConfiguration = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: engine workers start|stop|restart|status|stats")
		fmt.Fprintln(os.Stderr, "       engine queue pause|resume|clean <queue>")
		return exitConfiguration
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitConfiguration
	}
	log := logger.New(logger.Options{Level: cfg.LogLevel, Structured: cfg.LoggingStructured, Console: cfg.LoggingConsole})

	app, err := buildApp(cfg, log)
	if err != nil {
		log.WithField("error", err.Error()).Error("failed to build application dependencies")
		return exitConfiguration
	}
	defer app.Close()

	group, cmd := args[0], args[1]
	switch group {
	case "workers":
		return runWorkersCommand(app, cmd)
	case "queue":
		return runQueueCommand(app, cmd, args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command group %q\n", group)
		return exitConfiguration
	}
}

// application bundles every wired dependency; buildApp is the one place
// all of this module's components are constructed and connected,
// mirroring cmd/api/main.go's single-function wiring style.
type application struct {
	cfg *config.Config
	log logger.Logger

	sharedStore store.Store
	closeDB     func() error

	supervisor  *queue.Supervisor
	importQueue *queue.Queue
	sendQueue   *queue.Queue
	importSvc   *workers.ImportService
	emailSvc    *workers.EmailSendService

	limiter    *ratelimit.Limiter
	monitor    *ratelimit.Monitor
	collector  *metrics.Collector
	shortcuts  *metrics.Shortcuts
	exporter   *metrics.Exporter
	alertMgr   *alerts.Manager
	dispatcher *alerts.Dispatcher
	apiKeys    *apikey.Service
	sweeper    *apikey.Sweeper
	logIndex   *logindex.Index
	sched      *scheduler.Scheduler

	metricsSrv *http.Server
}

func buildApp(cfg *config.Config, log logger.Logger) (*application, error) {
	app := &application{cfg: cfg, log: log}

	networked := store.NewRedisStore(store.RedisOptions{
		Host: cfg.Store.Host, Port: cfg.Store.Port, Password: cfg.Store.Password, DB: cfg.Store.DB,
		ConnectTimeout: cfg.Store.ConnectTimeout, CommandTimeout: cfg.Store.CommandTimeout,
	})
	memory := store.NewMemoryStore(time.Minute)
	app.sharedStore = store.NewFallbackStore(networked, memory, log)

	var (
		importRepo   durable.ImportRepository
		batchRepo    durable.BatchRepository
		contactRepo  durable.ContactRepository
		sendRepo     durable.SendRepository
		deliveryRepo durable.DeliveryRepository

		progressRepo    progress.Repository
		apiKeyRepo      apikey.Repository
		apiKeyAuditRepo apikey.AuditRepository
		incidentRepo    alerts.IncidentRepository
	)

	if cfg.Database.DSN != "" {
		sqlDB, err := durable.Open(cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open durable store: %w", err)
		}
		app.closeDB = sqlDB.Close
		importRepo = durable.NewImportPostgresRepository(sqlDB)
		batchRepo = durable.NewBatchPostgresRepository(sqlDB)
		contactRepo = durable.NewContactPostgresRepository(sqlDB)
		sendRepo = durable.NewSendPostgresRepository(sqlDB)
		deliveryRepo = durable.NewDeliveryPostgresRepository(sqlDB)
		progressRepo = durable.NewProgressRepository(sqlDB)
		apiKeyRepo = durable.NewAPIKeyRepository(sqlDB)
		apiKeyAuditRepo = durable.NewAPIKeyAuditRepository(sqlDB)
		incidentRepo = durable.NewAlertIncidentRepository(sqlDB)
	} else {
		importRepo = durable.NewInMemoryImportRepository()
		batchRepo = durable.NewInMemoryBatchRepository()
		contactRepo = durable.NewInMemoryContactRepository()
		sendRepo = durable.NewInMemorySendRepository()
		deliveryRepo = durable.NewInMemoryDeliveryRepository()
		progressRepo = durable.NewInMemoryProgressRepository()
		apiKeyRepo = durable.NewInMemoryAPIKeyRepository()
		apiKeyAuditRepo = durable.NewInMemoryAPIKeyAuditRepository()
		incidentRepo = durable.NewInMemoryAlertIncidentRepository()
	}

	app.monitor = ratelimit.NewMonitor(log)
	app.limiter = ratelimit.NewLimiter(app.sharedStore, log).WithMonitor(app.monitor)
	app.collector = metrics.NewCollector(app.sharedStore)
	app.shortcuts = metrics.NewShortcuts(app.collector)
	app.exporter = metrics.NewExporter()
	app.logIndex = logindex.New(app.sharedStore)

	progressTracker := progress.NewTracker(app.sharedStore, progressRepo, log)

	app.supervisor = queue.NewSupervisor(app.sharedStore, log, cfg.Queue.ShutdownGrace)
	app.importQueue = app.supervisor.Register("import", queue.Options{
		Concurrency: cfg.Queue.DefaultConcurrency, MaxQueueSize: int64(cfg.Queue.MaxQueueSize),
		RemoveOnComplete: int64(cfg.Queue.RemoveOnComplete), RemoveOnFail: int64(cfg.Queue.RemoveOnFail),
		StallTimeout: cfg.Queue.StallTimeout,
	})
	app.sendQueue = app.supervisor.Register("email", queue.Options{
		Concurrency: cfg.Queue.DefaultConcurrency, MaxQueueSize: int64(cfg.Queue.MaxQueueSize),
		RemoveOnComplete: int64(cfg.Queue.RemoveOnComplete), RemoveOnFail: int64(cfg.Queue.RemoveOnFail),
		StallTimeout: cfg.Queue.StallTimeout,
	})

	app.importSvc = workers.NewImportService(app.importQueue, importRepo, batchRepo, contactRepo, progressTracker)

	var emailTransport transport.EmailTransport
	if cfg.SMTP.Host == "" {
		emailTransport = transport.NewTestSMTPTransport(transport.SMTPConfig{FromName: cfg.SMTP.FromName})
	} else {
		emailTransport = transport.NewSMTPTransport(transport.SMTPConfig{
			Host: cfg.SMTP.Host, Port: cfg.SMTP.Port, Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password, FromName: cfg.SMTP.FromName,
		})
	}
	breaker := queue.NewIntegrationCircuitBreaker(queue.DefaultCircuitBreakerConfig())
	app.emailSvc = workers.NewEmailSendService(app.sendQueue, sendRepo, batchRepo, deliveryRepo, progressTracker, emailTransport, breaker).
		WithMetrics(app.shortcuts)

	app.dispatcher = alerts.NewDispatcher(&smtpEmailSender{transport: emailTransport, cfg: cfg.SMTP}, log)
	app.alertMgr = alerts.NewManager(app.collector, incidentRepo, app.dispatcher, log)

	app.apiKeys = apikey.NewService(apiKeyRepo, apiKeyAuditRepo, log)
	app.sweeper = apikey.NewSweeper(app.apiKeys, apiKeyRepo, app.sharedStore, &loggingNotificationSink{log: log}, log)

	app.sched = scheduler.New(context.Background(), log)
	registerSchedulerTasks(app)

	mux := http.NewServeMux()
	mux.Handle("/metrics", app.exporter.Handler())
	app.metricsSrv = &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: mux}

	return app, nil
}

func registerSchedulerTasks(app *application) {
	_ = app.sched.Register(scheduler.Task{
		Name: "alert-tick",
		Spec: fmt.Sprintf("@every %ds", app.cfg.Scheduler.AlertTickSeconds),
		Run: func(ctx context.Context) error {
			app.alertMgr.Tick(ctx)
			return nil
		},
	})
	_ = app.sched.Register(scheduler.Task{
		Name: "system-health-sampler",
		Spec: fmt.Sprintf("@every %ds", app.cfg.Scheduler.MetricSamplerSeconds),
		Run: func(ctx context.Context) error {
			healthy := 1.0
			if err := app.sharedStore.Ping(ctx); err != nil {
				healthy = 0
			}
			app.collector.Record(ctx, "health.status", healthy, nil)
			return nil
		},
	})
	_ = app.sched.Register(scheduler.Task{
		Name: "apikey-expiry-sweep",
		Spec: app.cfg.Scheduler.KeyExpiryCron,
		Run:  app.sweeper.Run,
	})
	_ = app.sched.Register(scheduler.Task{
		Name: "ratelimit-monitor-drain",
		Spec: fmt.Sprintf("@every %ds", app.cfg.Scheduler.RateLimitMonitorSeconds),
		Run: func(ctx context.Context) error {
			for _, a := range app.monitor.DrainAlerts() {
				ruleID, ok := ratelimitAlertRuleID[a.Kind]
				if !ok {
					continue
				}
				if err := app.alertMgr.RaiseExternal(ctx, ruleID, a.Detail); err != nil {
					app.log.WithFields(map[string]interface{}{
						"kind": a.Kind, "error": err.Error(),
					}).Warn("failed to raise incident from rate limit monitor alert")
				}
			}
			return nil
		},
	})
}

// ratelimitAlertRuleID maps a ratelimit.Alert.Kind to the alerts.Rule it
// raises an incident against; both rules are registered with no
// Metric/Condition in alerts.DefaultRules since they fire from this
// event-driven drain rather than a Collector window evaluation.
var ratelimitAlertRuleID = map[string]string{
	"suspicious_identifier": "ratelimit-suspicious-identifier",
	"high_block_rate":       "ratelimit-high-block-rate",
}

func (app *application) Close() {
	app.sched.Stop()
	if app.closeDB != nil {
		_ = app.closeDB()
	}
}

func runWorkersCommand(app *application, cmd string) int {
	switch cmd {
	case "start":
		return startWorkers(app)
	case "stop":
		app.supervisor.Stop()
		return exitOK
	case "restart":
		app.supervisor.Stop()
		return startWorkers(app)
	case "status":
		for _, st := range app.supervisor.Status(context.Background()) {
			fmt.Printf("%-12s paused=%v\n", st.Queue, st.Paused)
		}
		return exitOK
	case "stats":
		stats, err := app.supervisor.Stats(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return exitTransient
		}
		for name, st := range stats {
			fmt.Printf("%-12s waiting=%d active=%d completed=%d failed=%d delayed=%d\n",
				name, st.Waiting, st.Active, st.Completed, st.Failed, st.Delayed)
		}
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "unknown workers subcommand %q\n", cmd)
		return exitConfiguration
	}
}

// startWorkers runs the foreground daemon: scheduler, worker supervisor,
// and the metrics exposition server, until a termination signal arrives.
func startWorkers(app *application) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app.sched.Start()
	app.supervisor.Start(ctx, map[string]queue.Handler{
		"import": app.importSvc.Handler(),
		"email":  app.emailSvc.Handler(),
	})

	go func() {
		if err := app.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.log.WithField("error", err.Error()).Error("metrics server stopped unexpectedly")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	app.log.Info("shutdown signal received, draining queues")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = app.metricsSrv.Shutdown(shutdownCtx)
	app.supervisor.Stop()
	return exitOK
}

func runQueueCommand(app *application, cmd string, rest []string) int {
	fs := pflag.NewFlagSet("queue", pflag.ContinueOnError)
	grace := fs.Duration("grace", 24*time.Hour, "age threshold for clean")
	state := fs.String("state", "completed", "job state to clean: completed|failed")
	if err := fs.Parse(rest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitConfiguration
	}
	positional := fs.Args()
	if len(positional) < 1 {
		fmt.Fprintln(os.Stderr, "usage: engine queue pause|resume|clean <queue>")
		return exitConfiguration
	}
	name := positional[0]

	switch cmd {
	case "pause":
		if err := app.supervisor.Pause(name); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return exitTransient
		}
	case "resume":
		if err := app.supervisor.Resume(name); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return exitTransient
		}
	case "clean":
		st := queue.StateCompleted
		if *state == "failed" {
			st = queue.StateFailed
		}
		if err := app.supervisor.Clean(context.Background(), name, *grace, st); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return exitTransient
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown queue subcommand %q\n", cmd)
		return exitConfiguration
	}
	return exitOK
}

// smtpEmailSender adapts transport.EmailTransport's Message-based Send to
// alerts.EmailSender's narrower (to, subject, body) signature, since the
// alert channel has no template/sender identity of its own — it sends the
// body as plain text from the configured SMTP username and FromName.
type smtpEmailSender struct {
	transport transport.EmailTransport
	cfg       config.SMTPConfig
}

func (s *smtpEmailSender) Send(ctx context.Context, to, subject, body string) error {
	_, err := s.transport.Send(ctx, transport.Message{
		To: to, From: s.cfg.Username, FromName: s.cfg.FromName, Subject: subject, TextBody: body,
	})
	return err
}

// loggingNotificationSink is the default apikey.NotificationSink: there is
// no dedicated channel for key lifecycle notices in scope, so they are
// logged as structured events an operator's log pipeline can alert on.
type loggingNotificationSink struct {
	log logger.Logger
}

func (s *loggingNotificationSink) Notify(_ context.Context, ownerID, kind string, key *apikey.APIKey) error {
	s.log.WithFields(map[string]interface{}{
		"owner": ownerID, "kind": kind, "key_id": key.ID,
	}).Info("api key notice")
	return nil
}
