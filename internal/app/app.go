// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/bissquit/alert-relay/internal/config"
	"github.com/bissquit/alert-relay/internal/configcontrol"
	configpostgres "github.com/bissquit/alert-relay/internal/configcontrol/postgres"
	"github.com/bissquit/alert-relay/internal/feedback"
	"github.com/bissquit/alert-relay/internal/keystore"
	"github.com/bissquit/alert-relay/internal/notifications"
	"github.com/bissquit/alert-relay/internal/notifications/browser"
	"github.com/bissquit/alert-relay/internal/notifications/email"
	"github.com/bissquit/alert-relay/internal/notifications/ivm"
	"github.com/bissquit/alert-relay/internal/notifications/push"
	"github.com/bissquit/alert-relay/internal/notifications/sms"
	"github.com/bissquit/alert-relay/internal/pkg/auth"
	"github.com/bissquit/alert-relay/internal/pkg/ctxlog"
	"github.com/bissquit/alert-relay/internal/pkg/httputil"
	"github.com/bissquit/alert-relay/internal/pkg/metrics"
	"github.com/bissquit/alert-relay/internal/pkg/postgres"
	"github.com/bissquit/alert-relay/internal/pkg/redis"
	"github.com/bissquit/alert-relay/internal/retry"
	"github.com/bissquit/alert-relay/internal/stream/kafka"
	"github.com/bissquit/alert-relay/internal/version"
)

const metricsInterval = 15 * time.Second

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	redis         map[string]*goredis.Client
	server        *http.Server
	metricsServer *http.Server
	cancel        context.CancelFunc

	hub           *browser.Hub
	syncProducer  sarama.SyncProducer
	consumerGroup sarama.ConsumerGroup
	worker        *notifications.Worker
}

// stores holds one key store per store user.
type stores struct {
	association keystore.KeyStore
	dedup       keystore.KeyStore
	bounce      keystore.KeyStore
	retry       keystore.KeyStore
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if cfg.Database.MigrateOnStart {
		if err := postgres.Migrate(cfg.Database.URL); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	users := make([]string, 0, len(keystore.StoreUsers))
	for _, u := range keystore.StoreUsers {
		users = append(users, string(u))
	}
	clients, err := redis.ConnectAll(connectCtx, cfg.Redis, users)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	app := &App{
		config: cfg,
		logger: logger,
		db:     db,
		redis:  clients,
		cancel: cancel,
	}

	go metrics.Collect(ctx, metricsInterval, app.recordPoolMetrics)

	router, err := app.setupRouter(ctx)
	if err != nil {
		app.release()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
		"version", version.Version,
	)

	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	// Stop consuming first so no alert is half processed when the
	// producers close.
	if a.worker != nil {
		a.worker.Stop()
	}

	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	if err := a.release(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// release closes every backend connection.
func (a *App) release() error {
	a.cancel()

	var errs []error
	if a.hub != nil {
		a.hub.Close()
	}
	if a.consumerGroup != nil {
		if err := a.consumerGroup.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close consumer group: %w", err))
		}
	}
	if a.syncProducer != nil {
		if err := a.syncProducer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close producer: %w", err))
		}
	}
	if err := redis.CloseAll(a.redis); err != nil {
		errs = append(errs, fmt.Errorf("close redis: %w", err))
	}
	a.db.Close()

	return errors.Join(errs...)
}

func (a *App) recordPoolMetrics() {
	metrics.RecordDBPoolMetrics(a.db)
	for user, client := range a.redis {
		metrics.RecordRedisPoolMetrics(user, client.PoolStats())
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Worker returns the alert worker. Returns nil when Kafka is disabled.
func (a *App) Worker() *notifications.Worker {
	return a.worker
}

func (a *App) newStores(ctx context.Context) stores {
	ks := a.config.Keystore
	dedup := keystore.NewRedisStore(a.redis[string(keystore.StoreUserDedup)], keystore.StoreUserDedup, ks.DedupTTL)

	return stores{
		association: keystore.NewRedisStore(a.redis[string(keystore.StoreUserAssociation)], keystore.StoreUserAssociation, ks.AssociationTTL),
		dedup:       keystore.NewBloomFilterStore(ctx, dedup, ks.Bloom),
		bounce:      keystore.NewRedisStore(a.redis[string(keystore.StoreUserBounce)], keystore.StoreUserBounce, ks.BounceTTL),
		retry:       keystore.NewRedisStore(a.redis[string(keystore.StoreUserRetry)], keystore.StoreUserRetry, a.config.Retry.CacheTTL),
	}
}

// setupNotifiers registers one notifier per configured provider.
func (a *App) setupNotifiers(ctx context.Context, registry *notifications.Registry, st stores) (*email.Sender, *browser.Sender, error) {
	providers := a.config.Providers

	slog.Info("providers configured",
		"email_enabled", providers.Email.Enabled,
		"sms_gateways", len(providers.SMS),
		"push_enabled", providers.Push.Enabled,
		"browser_enabled", providers.Browser.Enabled,
		"ivm_enabled", providers.IVM.Enabled,
	)

	emailSender, err := email.NewSender(providers.Email, st.bounce)
	if err != nil {
		return nil, nil, fmt.Errorf("create email sender: %w", err)
	}
	if !providers.Email.Enabled {
		slog.Warn("email sender is disabled: email notifications will not be sent")
	}

	notifiers := []notifications.ChannelNotifier{emailSender}

	for _, gw := range providers.SMS {
		smsSender, err := sms.NewSender(gw)
		if err != nil {
			return nil, nil, fmt.Errorf("create sms sender: %w", err)
		}
		notifiers = append(notifiers, smsSender)
	}

	pushSender, err := push.NewSender(providers.Push, st.association)
	if err != nil {
		return nil, nil, fmt.Errorf("create push sender: %w", err)
	}
	notifiers = append(notifiers, pushSender)

	a.hub = browser.NewHub()
	browserSender, err := browser.NewSender(providers.Browser, a.hub)
	if err != nil {
		return nil, nil, fmt.Errorf("create browser sender: %w", err)
	}
	notifiers = append(notifiers, browserSender)

	ivmSender, err := ivm.NewSender(providers.IVM, a.syncProducer)
	if err != nil {
		return nil, nil, fmt.Errorf("create ivm sender: %w", err)
	}
	notifiers = append(notifiers, ivmSender)

	for _, n := range notifiers {
		if err := registry.Register(n); err != nil {
			return nil, nil, err
		}
	}
	if err := registry.Init(ctx); err != nil {
		return nil, nil, err
	}

	return emailSender, browserSender, nil
}

// setupWorker connects to Kafka and starts consuming alerts.
func (a *App) setupWorker(ctx context.Context, dispatcher *notifications.Dispatcher, st stores) error {
	conn := a.config.Kafka.Conn()
	conn.ClientID = version.ClientID(conn.ClientID)

	group, err := kafka.NewConsumerGroup(conn)
	if err != nil {
		return err
	}
	a.consumerGroup = group

	producer := kafka.NewProducer(a.syncProducer, conn.RetryTopic)
	emitter := feedback.NewEmitter(a.config.Feedback, producer)
	retries := retry.NewCacheClient(st.retry, a.config.Retry.CacheTTL)

	processor := notifications.NewProcessor(
		a.config.Retry.Redelivery,
		dispatcher,
		st.dedup,
		retries,
		producer,
		emitter,
	)

	a.worker = notifications.NewWorker(a.config.Kafka.Worker, group, processor)
	a.worker.Start(ctx)
	return nil
}

func (a *App) setupRouter(ctx context.Context) (*chi.Mux, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	if a.config.Kafka.Enabled {
		conn := a.config.Kafka.Conn()
		conn.ClientID = version.ClientID(conn.ClientID)
		producer, err := kafka.NewSyncProducer(conn)
		if err != nil {
			return nil, fmt.Errorf("connect to kafka: %w", err)
		}
		a.syncProducer = producer
	} else {
		slog.Warn("kafka is disabled: alerts will not be consumed")
	}

	st := a.newStores(ctx)

	renderer, err := notifications.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("create notification renderer: %w", err)
	}
	registry := notifications.NewRegistry(renderer, retry.NewTemplate(a.config.Retry.Template))

	emailSender, browserSender, err := a.setupNotifiers(ctx, registry, st)
	if err != nil {
		return nil, err
	}
	go a.hub.Heartbeat(ctx, browserSender.HeartbeatInterval())

	if a.config.Kafka.Enabled {
		dispatcher := notifications.NewDispatcher(registry, a.config.Dispatch)
		if err := a.setupWorker(ctx, dispatcher, st); err != nil {
			return nil, fmt.Errorf("setup worker: %w", err)
		}
	}

	validator, err := auth.NewValidator(a.config.JWT)
	if err != nil {
		return nil, fmt.Errorf("create token validator: %w", err)
	}

	configRepo := configpostgres.NewRepository(a.db)
	configService := configcontrol.NewService(configRepo, configRepo, registry)
	configHandler := configcontrol.NewHandler(configService, emailSender, a.config.JWT.ServiceSubjects)
	wsHandler := browser.NewHandler(a.hub, a.config.Providers.Browser.AllowedOrigins)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(httputil.AuthMiddleware(validator))

			// Websocket connections outlive any request timeout.
			r.Get("/ws", wsHandler.ServeHTTP)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(60 * time.Second))
				configHandler.RegisterRoutes(r)
			})
		})
	})

	return r, nil
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	for user, client := range a.redis {
		if err := client.Ping(ctx).Err(); err != nil {
			ctxlog.FromContext(r.Context()).Error("readiness check failed", "store_user", user, "error", err)
			httputil.Text(w, http.StatusServiceUnavailable, "Redis unavailable")
			return
		}
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, version.Get())
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
