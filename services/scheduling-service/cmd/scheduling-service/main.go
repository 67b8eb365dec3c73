package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/brokerdesk/crm/libs/db"
	"github.com/brokerdesk/crm/libs/httpx"
	"github.com/brokerdesk/crm/libs/kafkax"
	otelx "github.com/brokerdesk/crm/libs/otel"
	"github.com/brokerdesk/crm/libs/runtime"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/availability"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/booking"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/calendar"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/handlers"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/notify"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/outbox"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/reminders"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/storage"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/tokens"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := runtime.NewLogger(cfg.Service, cfg.LogLevel)

	ctx, stop := runtime.SignalContext(context.Background())
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.Service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL, db.Options{})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	gateway, err := newGateway(ctx, cfg, logger)
	if err != nil {
		logger.Error("calendar gateway init failed", "err", err)
		os.Exit(1)
	}

	store := storage.NewStore(pool)
	outboxRepo := outbox.NewRepository(pool)

	scheduler := reminders.NewScheduler(store, cfg.Reminders, logger)
	resolver := availability.NewResolver(store, store, gateway, logger)
	tokenManager := tokens.NewManager(tokens.Deps{
		Store:     store,
		Calendars: store,
		Gateway:   gateway,
		Followups: scheduler,
		Activity:  store,
		Events:    outboxRepo,
		Logger:    logger,
		TTL:       cfg.TokenTTL,
	})
	orchestrator := booking.NewOrchestrator(booking.Deps{
		Store:         store,
		Leads:         store,
		Availability:  resolver,
		Gateway:       gateway,
		Notifier:      scheduler,
		Tokens:        tokenManager,
		Activity:      store,
		Events:        outboxRepo,
		Logger:        logger,
		PublicBaseURL: cfg.Reminders.PublicBaseURL,
	})
	processor := reminders.NewProcessor(store, newDispatcher(cfg, logger), cfg.Reminders, logger)

	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   cfg.Brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go publisher.Run(ctx)

	limiter, closeLimiter := newLimiter(cfg, logger)
	defer closeLimiter()

	checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}
	if len(cfg.Brokers) > 0 {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.Brokers)})
	}
	mux := runtime.NewBaseMuxWithReady(checks...)
	handlers.Routes{
		Availability: handlers.NewAvailabilityHandler(resolver, logger),
		Appointments: handlers.NewAppointmentHandler(orchestrator, logger),
		Actions:      handlers.NewActionHandler(tokenManager, store, logger),
		Reminders:    handlers.NewReminderHandler(processor, logger),
		Public:       httpx.RateLimit(limiter, logger, true),
		CronSecret:   cfg.CronSecret,
		Staff:        newStaffAuth(cfg, logger),
	}.Register(mux)
	if cfg.CronSecret == "" {
		logger.Warn("CRON_SECRET not set; reminder processing endpoint is open")
	}

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(cfg.CORS),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(30*time.Second),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduling")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if err := startGrpcServer(ctx, logger, cfg.GRPCPort, pool); err != nil {
		logger.Error("grpc server init failed", "err", err)
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

func newGateway(ctx context.Context, cfg serviceConfig, logger *slog.Logger) (calendar.Gateway, error) {
	if cfg.CalendarProvider == "memory" {
		logger.Warn("using in-memory calendar gateway; events are not mirrored externally")
		return calendar.NewMemoryGateway(), nil
	}
	return calendar.NewGoogleGateway(ctx, cfg.Google)
}

func newDispatcher(cfg serviceConfig, logger *slog.Logger) *notify.Dispatcher {
	var email notify.EmailSender
	if cfg.SMTP.Host != "" {
		email = notify.NewSMTPSender(cfg.SMTP)
	} else {
		logger.Warn("SMTP_HOST not set; email notifications will fail undelivered")
	}
	var sms notify.SMSSender
	if cfg.SMSURL != "" {
		sms = notify.NewWebhookSender(cfg.SMSURL, cfg.SMSToken)
	} else if cfg.Reminders.SMSEnabled {
		logger.Warn("SMS_ENABLED without SMS_WEBHOOK_URL; sms notifications will fail undelivered")
	}
	return notify.NewDispatcher(email, sms)
}

// newStaffAuth guards the back-office endpoints with STAFF_API_TOKEN; unset
// leaves them open.
func newStaffAuth(cfg serviceConfig, logger *slog.Logger) httpx.Middleware {
	if cfg.StaffToken == "" {
		logger.Warn("STAFF_API_TOKEN not set; appointment management endpoints are open")
		return nil
	}
	return httpx.RequireBearer(cfg.StaffToken)
}

// newLimiter prefers a shared Redis window so every replica counts the same
// client; without REDIS_ADDR each process keeps its own.
func newLimiter(cfg serviceConfig, logger *slog.Logger) (httpx.Limiter, func()) {
	if cfg.RedisAddr == "" {
		return httpx.NewMemoryLimiter(cfg.RateLimit, time.Minute), func() {}
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	logger.Info("rate limiter using redis", "addr", cfg.RedisAddr, "per_minute", cfg.RateLimit)
	return httpx.NewRedisLimiter(rdb, cfg.RateLimit, time.Minute, "scheduling:rl:"), func() { _ = rdb.Close() }
}
