package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"pavilion/internal/api"
	"pavilion/internal/availability"
	"pavilion/internal/calendar"
	"pavilion/internal/clock"
	"pavilion/internal/config"
	"pavilion/internal/database"
	"pavilion/internal/domain"
	"pavilion/internal/engine"
	"pavilion/internal/events"
	"pavilion/internal/export"
	"pavilion/internal/gateway"
	"pavilion/internal/google"
	"pavilion/internal/hold"
	"pavilion/internal/logging"
	"pavilion/internal/metrics"
	"pavilion/internal/models"
	"pavilion/internal/notify"
	"pavilion/internal/pricing"
	"pavilion/internal/reconciler"
	"pavilion/internal/repository"
	"pavilion/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	resources, err := loadResources(&logger)
	if err != nil {
		return err
	}

	if err := prepareDirectories(cfg, &logger); err != nil {
		return err
	}

	db, err := initDatabase(cfg, resources, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}
	drafts := initDrafts(redisClient, &logger)

	cal, err := calendar.New(cfg.Calendar.Zone)
	if err != nil {
		logger.Error().Err(err).Str("zone", cfg.Calendar.Zone).Msg("init calendar")
		return err
	}
	clk := clock.NewSystem()

	ledgerService := initLedger(ctx, cfg, &logger)

	var ledgerWorker *worker.LedgerWorker
	if ledgerService != nil {
		retryPolicy := worker.RetryPolicy{MaxRetries: 5, InitialDelay: 2 * time.Second, MaxDelay: time.Minute, BackoffFactor: 2}
		ledgerWorker = worker.NewLedgerWorker(db, ledgerService, redisClient, retryPolicy, &logger)
		go ledgerWorker.Start(ctx)
	}

	eventBus := events.NewEventBus()
	initNotifier(cfg, eventBus, &logger)

	avail := availability.New(db, cal, clk, &logger)
	engineCfg := engine.Config{
		Repo:     db,
		Drafts:   drafts,
		Avail:    avail,
		Holds:    hold.NewManager(db, clk, cfg.Holds.HoldTTL(), &logger),
		Pricing:  pricing.New(cal),
		Gateway:  gateway.NewClient(cfg.Gateway, &logger),
		Bus:      eventBus,
		Calendar: cal,
		Clock:    clk,
		Logger:   &logger,
	}
	if ledgerWorker != nil {
		engineCfg.Worker = ledgerWorker
	}
	eng := engine.New(engineCfg)

	sweeper := reconciler.New(db, cal, clk, eventBus, cfg.Reconciler.SweepInterval(), &logger)
	go sweeper.Start(ctx)

	exporter := export.New(db, cal, cfg.Exports.Path, &logger)

	if cfg.Backup.Enabled {
		backupService := database.NewBackupService(cfg.Database.Path, cfg.Backup, &logger)
		go backupService.Start(ctx)
	}

	startMetrics(ctx, cfg, &logger)

	httpServer := api.NewHTTPServer(api.ServerConfig{
		API:      cfg.API,
		Engine:   eng,
		Avail:    avail,
		Repo:     db,
		Exporter: exporter,
		Calendar: cal,
		Logger:   &logger,
	})

	return startServer(ctx, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

func loadResources(logger *zerolog.Logger) ([]models.Resource, error) {
	resourcesPath := os.Getenv("RESOURCES_PATH")
	if resourcesPath == "" {
		resourcesPath = "configs/resources.yaml"
	}
	data, err := os.ReadFile(resourcesPath)
	if err != nil {
		logger.Error().Err(err).Str("resources_path", resourcesPath).Msg("read resources catalog")
		return nil, err
	}

	var catalog struct {
		Resources []models.Resource `yaml:"resources"`
	}
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		logger.Error().Err(err).Str("resources_path", resourcesPath).Msg("parse resources catalog")
		return nil, err
	}

	if err := config.ValidateResources(catalog.Resources); err != nil {
		logger.Error().Err(err).Msg("resources catalog validation failed")
		return nil, err
	}

	return catalog.Resources, nil
}

func prepareDirectories(cfg *config.Config, logger *zerolog.Logger) error {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logger.Error().Err(err).Msg("create database directory")
		return err
	}
	if err := os.MkdirAll(cfg.Exports.Path, 0o755); err != nil {
		logger.Error().Err(err).Msg("create exports directory")
		return err
	}
	return nil
}

func initDatabase(cfg *config.Config, resources []models.Resource, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}

	if err := db.UpsertResources(context.Background(), resources); err != nil {
		logger.Error().Err(err).Msg("sync resource catalog")
		return nil, err
	}
	return db, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(context.Background(), redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// initDrafts keeps booking drafts in redis with an in-memory fallback so a
// redis outage mid-payment does not strand invoices.
func initDrafts(redisClient *redis.Client, logger *zerolog.Logger) domain.DraftRepository {
	fallback := repository.NewMemoryDraftRepository()
	if redisClient == nil {
		return fallback
	}
	primary := repository.NewRedisDraftRepository(redisClient)
	return repository.NewFailoverDraftRepository(primary, fallback, logger)
}

func initLedger(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *google.LedgerService {
	if cfg.Google.CredentialsFile == "" || cfg.Google.LedgerSpreadsheetID == "" {
		return nil
	}

	ledger, err := google.NewLedgerService(
		cfg.Google.CredentialsFile,
		cfg.Google.LedgerSpreadsheetID,
		cfg.Google.LedgerSheetName,
	)
	if err != nil {
		logger.Warn().Err(err).Msg("ledger init failed, continuing without sheets ledger")
		return nil
	}

	if err := ledger.TestConnection(ctx); err != nil {
		logger.Warn().Err(err).Msg("ledger connection test failed, continuing without sheets ledger")
		return nil
	}

	if email, err := ledger.GetServiceAccountEmail(cfg.Google.CredentialsFile); err == nil {
		logger.Info().Str("service_account", email).Msg("sheets ledger connected")
	}
	return ledger
}

func initNotifier(cfg *config.Config, bus *events.EventBus, logger *zerolog.Logger) {
	if cfg.Telegram.BotToken == "" || len(cfg.Telegram.ManagerChatIDs) == 0 {
		return
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram init failed, continuing without notifications")
		return
	}

	notifier := notify.New(botAPI, cfg.Telegram.ManagerChatIDs, logger)
	notifier.SubscribeAll(bus)
	logger.Info().Int("chats", len(cfg.Telegram.ManagerChatIDs)).Msg("manager notifications enabled")
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServer(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	go func() {
		if !cfg.API.Enabled {
			logger.Warn().Msg("API is disabled in config, HTTP server not started")
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("engine started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("engine stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
