package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	calclient "github.com/manutej/calendar-availability-system-sub000/internal/adapter/calendar"
	"github.com/manutej/calendar-availability-system-sub000/internal/adapter/email"
	cfhttp "github.com/manutej/calendar-availability-system-sub000/internal/adapter/http"
	cfnats "github.com/manutej/calendar-availability-system-sub000/internal/adapter/nats"
	"github.com/manutej/calendar-availability-system-sub000/internal/adapter/natskv"
	"github.com/manutej/calendar-availability-system-sub000/internal/adapter/otel"
	"github.com/manutej/calendar-availability-system-sub000/internal/adapter/postgres"
	"github.com/manutej/calendar-availability-system-sub000/internal/adapter/ristretto"
	"github.com/manutej/calendar-availability-system-sub000/internal/adapter/sqlite"
	"github.com/manutej/calendar-availability-system-sub000/internal/adapter/tiered"
	"github.com/manutej/calendar-availability-system-sub000/internal/config"
	"github.com/manutej/calendar-availability-system-sub000/internal/logger"
	"github.com/manutej/calendar-availability-system-sub000/internal/middleware"
	"github.com/manutej/calendar-availability-system-sub000/internal/port/cache"
	"github.com/manutej/calendar-availability-system-sub000/internal/port/database"
	"github.com/manutej/calendar-availability-system-sub000/internal/port/messagequeue"
	"github.com/manutej/calendar-availability-system-sub000/internal/port/notifier"
	"github.com/manutej/calendar-availability-system-sub000/internal/secrets"
	"github.com/manutej/calendar-availability-system-sub000/internal/service"
	"github.com/manutej/calendar-availability-system-sub000/internal/worker"
)

const (
	// idempotencyTTL is how long a replayable HTTP response is kept.
	idempotencyTTL = 24 * time.Hour

	// sendGridKeyEnv is re-read on SIGHUP.
	sendGridKeyEnv = "SENDGRID_API_KEY"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"store", cfg.Store.Driver,
		"nats", cfg.NATS.Enabled,
		"log_level", cfg.Logging.Level,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---

	shutdownOTel, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			slog.Warn("otel shutdown failed", "error", err)
		}
	}()
	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	defer l1.Close()

	var (
		queue     messagequeue.Queue
		l2        cache.Cache
		idemCache cache.Cache = l1
	)
	if cfg.NATS.Enabled {
		q, err := cfnats.Connect(ctx, cfg.NATS)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() {
			if err := q.Drain(); err != nil {
				slog.Warn("nats drain failed", "error", err)
			}
		}()
		queue = q

		kv, err := q.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.TTL)
		if err != nil {
			return fmt.Errorf("cache bucket: %w", err)
		}
		l2 = natskv.New(kv)

		idemKV, err := q.KeyValue(ctx, cfg.NATS.IdempotencyBucket, idempotencyTTL)
		if err != nil {
			return fmt.Errorf("idempotency bucket: %w", err)
		}
		idemCache = natskv.New(idemKV)
		slog.Info("nats connected", "url", cfg.NATS.URL)
	}
	appCache := tiered.New(l1, l2, cfg.Cache.TTL)

	// --- Services ---

	breakers := service.NewBreakerService(store, queue, metrics)
	auditSvc := service.NewAuditService(store, cfg.Decision, cfg.Collaborators.AuditTimeout)
	auditSvc.SetCache(appCache)
	convs := service.NewConversationService(store, cfg.Conversation)
	prefs := service.NewPreferencesService(store, appCache, cfg)

	decisions := service.NewDecisionService(convs, breakers, auditSvc, cfg)
	decisions.SetTrust(service.NewHistoryTrust(auditSvc, appCache, cfg.Cache.TTL))
	if cfg.Collaborators.CalendarURL != "" {
		decisions.SetCalendar(calclient.NewClient(cfg.Collaborators.CalendarURL, cfg.Collaborators.CalendarTimeout))
	}
	decisions.SetMetrics(metrics)

	notify := service.NewNotificationService(buildNotifiers(cfg.Email), nil)
	mailer := email.NewSendGridMailer(cfg.Email.SendGridAPIKey, cfg.Email.FromName, cfg.Email.FromAddress)
	vault, err := secrets.NewVault(secrets.EnvLoader(sendGridKeyEnv))
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}
	mailer.SetKeySource(vault.Source(sendGridKeyEnv, cfg.Email.SendGridAPIKey))
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	reloadCtx, cancelReload := context.WithCancel(ctx)
	reloaded := vault.ReloadOn(reloadCtx, hup)
	defer func() {
		cancelReload()
		<-reloaded
	}()
	dispatcher := service.NewDispatcherService(prefs, auditSvc, notify, mailer, cfg.Collaborators.SendTimeout, cfg.Email.NotifyAddress)
	dispatcher.SetMetrics(metrics)

	workers := worker.New(cfg.Worker)
	defer workers.Close()

	intake := service.NewIntakeService(workers, prefs, decisions, dispatcher, queue)
	cancelIntake, err := intake.Start(ctx)
	if err != nil {
		return fmt.Errorf("intake subscriber: %w", err)
	}
	defer cancelIntake()

	sweeper, err := service.NewSweeper(convs, cfg.Conversation.SweepSchedule)
	if err != nil {
		return fmt.Errorf("sweeper: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	// --- HTTP ---

	handlers := &cfhttp.Handlers{
		Intake:        intake,
		Preferences:   prefs,
		Breakers:      breakers,
		Audit:         auditSvc,
		Conversations: convs,
		Store:         store,
	}

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(time.Minute, 10*time.Minute)
	defer stopCleanup()
	auth := middleware.NewAPIKeyAuth(cfg.Auth.APIKeyHash, cfg.Auth.Enabled)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(otel.HTTPMiddleware(cfg.OTel.ServiceName))
	r.Use(cfhttp.AccessLog)
	r.Use(chimw.Recoverer)
	r.Use(cfhttp.SecurityHeaders)
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(limiter.Handler)
	r.Use(auth.Handler)
	r.Use(middleware.Idempotency(idemCache, idempotencyTTL))
	r.Use(chimw.Timeout(30 * time.Second))
	cfhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStore opens the configured persistence backend. The returned function
// releases it.
func openStore(ctx context.Context, cfg *config.Config) (database.Store, func(), error) {
	switch cfg.Store.Driver {
	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite: %w", err)
		}
		slog.Info("sqlite opened", "path", cfg.SQLite.Path)
		return s, func() { _ = s.Close() }, nil
	default:
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		applied, err := postgres.Migrate(ctx, cfg.Postgres.DSN)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrations: %w", err)
		}
		slog.Info("postgres connected", "migrations_applied", applied)
		return postgres.NewStore(pool), pool.Close, nil
	}
}

// buildNotifiers creates the configured notification channels through the
// notifier registry.
func buildNotifiers(cfg config.Email) []notifier.Notifier {
	var out []notifier.Notifier
	add := func(name string, settings map[string]string) {
		n, err := notifier.New(name, settings)
		if err != nil {
			slog.Warn("notifier unavailable", "notifier", name, "error", err)
			return
		}
		out = append(out, n)
	}

	if cfg.SMTPHost != "" {
		add("email", map[string]string{
			"host":     cfg.SMTPHost,
			"port":     strconv.Itoa(cfg.SMTPPort),
			"from":     cfg.SMTPFrom,
			"password": cfg.SMTPPassword,
			"to":       cfg.NotifyAddress,
		})
	}
	if cfg.SlackWebhookURL != "" {
		add("slack", map[string]string{"webhook_url": cfg.SlackWebhookURL})
	}
	if len(out) == 0 {
		slog.Warn("no notifiers configured, users will not be told about escalations")
	}
	return out
}
