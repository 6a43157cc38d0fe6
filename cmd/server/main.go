package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"revtrail/internal/event"
	"revtrail/internal/maintenance"
	"revtrail/internal/platform/config"
	"revtrail/internal/platform/httpserver"
	"revtrail/internal/platform/logger"
	platformmetrics "revtrail/internal/platform/metrics"
	"revtrail/internal/platform/middleware"
	platformredis "revtrail/internal/platform/redis"
	revcache "revtrail/internal/revision/cache"
	revhandler "revtrail/internal/revision/handler"
	revmetrics "revtrail/internal/revision/metrics"
	"revtrail/internal/revision/recorder"
	revservice "revtrail/internal/revision/service"
	"revtrail/internal/revision/store"
	memorystore "revtrail/internal/revision/store/memory"
	postgresstore "revtrail/internal/revision/store/postgres"

	ncache "revtrail/internal/notification/cache"
	nhandler "revtrail/internal/notification/handler"
	"revtrail/internal/notification/listener"
	"revtrail/internal/notification/mailer"
	nmetrics "revtrail/internal/notification/metrics"
	"revtrail/internal/notification/ratelimit"
	"revtrail/internal/notification/sender"
	"revtrail/internal/notification/settings"
	"revtrail/internal/notification/template"
	"revtrail/internal/notification/validator"
	"revtrail/pkg/platform/circuit"
)

// main wires the full service: stores, caches, the event dispatcher, the
// notification pipeline, the maintenance scheduler, and the HTTP API.
// Shutdown order matters: the scheduler stops first, then the dispatcher
// drains its queue, then in-flight deliveries finish, then HTTP closes.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	ctx := context.Background()

	// Persistence: postgres when a DSN is configured, in-memory otherwise.
	var revStore store.Store
	if cfg.Database.DSN != "" {
		db, err := sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			log.Error("opening database", "error", err)
			os.Exit(1)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		defer db.Close()

		pg := postgresstore.New(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Error("ensuring schema", "error", err)
			os.Exit(1)
		}
		revStore = pg
	} else {
		revStore = memorystore.New()
		log.Info("no database DSN configured, using in-memory store")
	}

	revMetrics := revmetrics.New()
	notifMetrics := nmetrics.New()
	httpMetrics := platformmetrics.New()

	// Caches: redis when configured, in-memory otherwise.
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	var (
		revCache   revcache.Cache
		cacheStats maintenance.CacheStats
	)
	if redisClient != nil {
		defer redisClient.Close()
		rc := revcache.NewRedis(redisClient, time.Hour)
		rc.SetObserver(revMetrics.ObserveCacheLookup)
		revCache, cacheStats = rc, rc
	} else {
		mc := revcache.NewMemory()
		mc.SetObserver(revMetrics.ObserveCacheLookup)
		revCache, cacheStats = mc, mc
	}

	dispatcher := event.NewDispatcher(log, cfg.Notify.Workers, cfg.Notify.QueueSize)

	// Notification pipeline.
	notifSettings := settings.New(cfg.Notify.EmailEnabled, cfg.Notify.SenderAddress)
	limiter := ratelimit.New(cfg.Notify.RateLimitMax, cfg.Notify.RateLimitWindow)
	notifCache := ncache.New(limiter)
	notifValidator := validator.New(notifSettings, validator.Limits{
		MaxRecipients: cfg.Notify.MaxRecipients,
		MaxSubject:    cfg.Notify.MaxSubjectLen,
		MaxContent:    cfg.Notify.MaxContentLen,
		MaxStackTrace: cfg.Notify.MaxStackTraceLen,
	})
	renderer := template.NewRenderer(cfg.Notify.TemplatePath, notifCache)
	smtp := mailer.NewSMTP(
		cfg.Notify.SMTPHost, cfg.Notify.SMTPPort,
		cfg.Notify.SMTPUsername, cfg.Notify.SMTPPassword,
		cfg.Notify.SMTPStartTLS, cfg.Notify.SendTimeout,
	)
	transport := mailer.WithBreaker(smtp, circuit.New("smtp"), log)
	notifSender := sender.New(notifSettings, notifValidator, renderer, transport, notifCache, notifMetrics, log, sender.Options{
		MaxRetries:     cfg.Notify.MaxRetries,
		RetryBaseDelay: cfg.Notify.RetryBaseDelay,
		SendTimeout:    cfg.Notify.SendTimeout,
	})
	dispatcher.Subscribe(listener.New(notifSender, notifValidator, notifCache, log))

	// Revision services.
	rec := recorder.New(revStore, revCache, dispatcher, revMetrics, log,
		recorder.WithExcludedFields(cfg.Revision.ExcludedFields),
		recorder.WithMaxReasonLength(cfg.Revision.MaxReasonLength),
	)
	revService := revservice.New(revStore, revCache)

	// Maintenance scheduler.
	scheduler := maintenance.NewScheduler(log)
	maintenance.Register(scheduler, cfg.Jobs, maintenance.Deps{
		Store:       revStore,
		RevCache:    revCache,
		CacheStats:  cacheStats,
		NotifCache:  notifCache,
		Dispatcher:  dispatcher,
		Sender:      notifSender,
		Validator:   notifValidator,
		Metrics:     revMetrics,
		NotifMetric: notifMetrics,
		Logger:      log,
		Revision:    cfg.Revision,
		Notify:      cfg.Notify,
	})

	// HTTP API.
	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.Actor,
		middleware.ClientMetadata,
		middleware.Logger(log),
		middleware.Instrument(httpMetrics),
		middleware.Recovery(log),
		middleware.Timeout(30*time.Second),
	)
	revhandler.New(revService, rec, log).Register(router)
	nhandler.New(notifSender, notifSettings, notifValidator, notifCache, log).Register(router)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			if err := redisClient.Health(r.Context()); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := httpserver.New(cfg.Server.Addr, router)

	// Background lifecycles.
	dispatcherCtx, stopDispatcher := context.WithCancel(ctx)
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		if err := dispatcher.Run(dispatcherCtx); err != nil {
			log.Error("dispatcher stopped", "error", err)
		}
	}()

	schedulerCtx, stopScheduler := context.WithCancel(ctx)
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		if err := scheduler.Run(schedulerCtx); err != nil {
			log.Error("scheduler stopped", "error", err)
		}
	}()

	go func() {
		log.Info("starting revtrail", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	stopScheduler()
	<-schedulerDone

	stopDispatcher()
	<-dispatcherDone
	notifSender.Drain()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}
