package main

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lnbits/lncalendar/internal/booking"
	"github.com/lnbits/lncalendar/internal/handlers"
	"github.com/lnbits/lncalendar/internal/outbox"
	"github.com/lnbits/lncalendar/internal/payments"
	"github.com/lnbits/lncalendar/internal/purge"
	"github.com/lnbits/lncalendar/internal/storage"
	"github.com/lnbits/lncalendar/internal/unavailability"
	"github.com/lnbits/lncalendar/libs/auth"
	"github.com/lnbits/lncalendar/libs/config"
	"github.com/lnbits/lncalendar/libs/db"
	"github.com/lnbits/lncalendar/libs/httpx"
	"github.com/lnbits/lncalendar/libs/kafkax"
	otelx "github.com/lnbits/lncalendar/libs/otel"
	"github.com/lnbits/lncalendar/libs/runtime"
)

func newPaymentProvider(logger *slog.Logger) payments.Provider {
	name := config.String("PAYMENT_PROVIDER", "lnbits")
	logger.Info("payment provider selected", "provider", name)
	switch name {
	case "stripe":
		key, err := config.RequiredString("STRIPE_SECRET_KEY")
		if err != nil {
			panic(err)
		}
		return payments.NewStripeProvider(key)
	default:
		baseURL, err := config.RequiredString("LNBITS_URL")
		if err != nil {
			panic(err)
		}
		invoiceKey, err := config.RequiredString("LNBITS_INVOICE_KEY")
		if err != nil {
			panic(err)
		}
		return payments.NewLNbitsClient(baseURL, invoiceKey)
	}
}

func corsPolicy() httpx.CORSPolicy {
	raw := strings.TrimSpace(config.String("CORS_ALLOWED_ORIGINS", ""))
	if raw == "" {
		return httpx.CORSPolicy{}
	}
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return httpx.CORSPolicy{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "X-Api-Key", "X-Wallet-Id"},
		MaxAge:         10 * time.Minute,
	}
}

func main() {
	service := config.String("SERVICE_NAME", "lncalendar")
	port, err := config.Port("PORT", "8080")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	var rdb *redis.Client
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
		defer rdb.Close()
	}

	scheduleRepo := storage.NewScheduleRepository(pool)
	rangeRepo := storage.NewUnavailabilityRepository(pool)
	apptRepo := storage.NewAppointmentRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	unavailStore := unavailability.NewStore(rangeRepo, rdb, config.Duration("UNAVAILABLE_CACHE_TTL", 5*time.Minute), logger)
	provider := newPaymentProvider(logger)
	svc := booking.NewService(scheduleRepo, apptRepo, unavailStore, outboxRepo, provider, logger,
		config.Duration("PENDING_TTL", 24*time.Hour))

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	purgeWorker := purge.NewWorker(svc, logger, config.Duration("PURGE_INTERVAL", time.Minute))
	go purgeWorker.Run(ctx)

	scheduleHandler := handlers.NewScheduleHandler(scheduleRepo, svc, logger)
	apptHandler := handlers.NewAppointmentHandler(svc, apptRepo, scheduleRepo, logger)
	unavailHandler := handlers.NewUnavailableHandler(unavailStore, scheduleRepo, logger)
	webhookHandler := handlers.NewWebhookHandler(svc, provider,
		config.String("STRIPE_WEBHOOK_SECRET", ""),
		config.Duration("STRIPE_WEBHOOK_TOLERANCE", 5*time.Minute),
		logger)

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}
	if brokers := config.String("KAFKA_BROKERS", ""); brokers != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	mux := runtime.NewBaseMuxWithReady(readyChecks...)

	// Owner routes require the API key; wallet scope arrives from the
	// gateway via X-Wallet-Id.
	owner := auth.RequireAPIKey(config.String("API_KEY_HASH", ""))

	mux.Handle("GET /api/v1/schedule", owner(http.HandlerFunc(scheduleHandler.List)))
	mux.Handle("POST /api/v1/schedule", owner(http.HandlerFunc(scheduleHandler.Create)))
	mux.HandleFunc("GET /api/v1/schedule/{id}", scheduleHandler.Get)
	mux.Handle("PUT /api/v1/schedule/{id}", owner(http.HandlerFunc(scheduleHandler.Update)))
	mux.Handle("DELETE /api/v1/schedule/{id}", owner(http.HandlerFunc(scheduleHandler.Delete)))
	mux.HandleFunc("GET /api/v1/schedule/{id}/availability", scheduleHandler.Availability)

	mux.HandleFunc("POST /api/v1/appointment", apptHandler.Create)
	mux.Handle("GET /api/v1/appointment", owner(http.HandlerFunc(apptHandler.ListAll)))
	mux.Handle("GET /api/v1/appointment/{scheduleID}", owner(http.HandlerFunc(apptHandler.ListBySchedule)))
	mux.Handle("GET /api/v1/appointment/purge/{scheduleID}", owner(http.HandlerFunc(apptHandler.Purge)))
	mux.HandleFunc("GET /api/v1/appointment/{scheduleID}/{paymentHash}", apptHandler.CheckInvoice)
	mux.Handle("PUT /api/v1/appointment/{id}", owner(http.HandlerFunc(apptHandler.Update)))
	mux.Handle("DELETE /api/v1/appointment/{id}", owner(http.HandlerFunc(apptHandler.Delete)))

	mux.Handle("POST /api/v1/unavailable", owner(http.HandlerFunc(unavailHandler.Create)))
	mux.HandleFunc("GET /api/v1/unavailable/{scheduleID}", unavailHandler.List)
	mux.Handle("DELETE /api/v1/unavailable/{scheduleID}/{id}", owner(http.HandlerFunc(unavailHandler.Delete)))

	mux.HandleFunc("GET /api/v1/currencies", webhookHandler.Currencies)
	mux.HandleFunc("POST /api/v1/webhook/stripe", webhookHandler.Stripe)

	middlewares := []httpx.Middleware{
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(corsPolicy()),
		httpx.WithBodyLimit(1 << 20),
	}
	rateLimit := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if rateLimit > 0 {
		if rdb != nil {
			middlewares = append(middlewares, httpx.NewRedisRateLimiter(rdb, rateLimit, time.Minute, service).Middleware(logger, true))
		} else {
			middlewares = append(middlewares, httpx.NewRateLimiter(rateLimit, time.Minute).Middleware())
		}
	}
	httpHandler := httpx.Chain(mux, middlewares...)
	httpHandler = otelhttp.NewHandler(httpHandler, service)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
