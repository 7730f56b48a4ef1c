package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/grpmgr-tgbot-go/internal/config"
	"github.com/grpmgr-tgbot-go/internal/handlers"
	"github.com/grpmgr-tgbot-go/internal/i18n"
	"github.com/grpmgr-tgbot-go/internal/middleware"
	"github.com/grpmgr-tgbot-go/internal/models"
	"github.com/grpmgr-tgbot-go/internal/services/cache"
	"github.com/grpmgr-tgbot-go/internal/services/notes"
	"github.com/grpmgr-tgbot-go/internal/services/storage"
	"github.com/grpmgr-tgbot-go/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	// Load .env file if exists
	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		fmt.Printf("Warning: failed to load %s: %v\n", *envFile, err)
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting group manager bot...")

	// Initialize bot
	bot, err := tgbotapi.NewBotAPI(cfg.Bot.Token)
	if err != nil {
		log.WithError(err).Fatal("Failed to create bot")
	}

	bot.Debug = cfg.Logging.Level == "debug"
	log.WithField("username", bot.Self.UserName).Info("Bot authorized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := middleware.NewMetrics()

	// Shared tier: Redis when several instances run, process memory otherwise
	var (
		redisClient *redis.Client
		backend     cache.Backend
	)
	if cfg.Storage.Type == "redis" {
		redisClient, err = cache.NewRedisClient(cfg.Storage.Redis)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to redis")
		}
		backend = cache.NewRedisBackend(redisClient, "cache:")
	} else {
		backend = cache.NewMemoryBackend(cfg.Storage.Memory.CleanupInterval)
	}

	cacheService := cache.NewCache(backend, cfg.Cache.Timeout, metrics, log)
	defer cacheService.Close()

	// Initialize storage
	storageManager, err := storage.NewManager(cfg, redisClient, metrics, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize storage")
	}

	noteService := notes.NewService(cacheService, storageManager, cfg.Cache.NoteTTL, log)
	buttons := notes.NewButtons(cacheService, cfg.Cache.ButtonTTL)

	floodDefaults := models.FloodSettings{
		Count:  cfg.AntiFlood.Count,
		Wait:   cfg.AntiFlood.Wait,
		Ignore: cfg.AntiFlood.Ignore,
	}
	var admission handlers.Admitter
	if cfg.AntiFlood.Enabled {
		// Flood state must never be served from the local tier
		admission = middleware.NewAntiFlood(cacheService.Remote(), floodDefaults, metrics, log)
	}

	governor := middleware.NewGovernor(cfg.Governor, metrics, log)
	defer governor.Stop()

	// Initialize i18n
	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize i18n")
	}

	// Start metrics server if enabled
	if cfg.Monitoring.Metrics.Enabled {
		go func() {
			log.WithFields(logrus.Fields{
				"port": cfg.Monitoring.Metrics.Port,
				"path": cfg.Monitoring.Metrics.Path,
			}).Info("Starting metrics server")

			if err := middleware.StartMetricsServer(ctx, cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	// Initialize handlers
	settings := handlers.NewSettingsResolver(storageManager, floodDefaults, localizer.DefaultLanguage(), log)
	sender := handlers.NewSender(bot, buttons, governor, metrics, log)
	commandHandler := handlers.NewCommandHandler(bot, noteService, settings, cacheService, sender, localizer, log)
	callbackHandler := handlers.NewCallbackHandler(bot, buttons, noteService, settings, sender, localizer, log)
	dispatcher := handlers.NewDispatcher(bot.Self.ID, admission, settings, commandHandler, callbackHandler, metrics, log)

	updates, webhookServer, err := listen(bot, cfg.Bot, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to start receiving updates")
	}

	// One logical task per update, bounded by the worker count
	var wg sync.WaitGroup
	for i := 0; i < cfg.Bot.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker(ctx, dispatcher, updates, log)
		}()
	}
	log.WithField("workers", cfg.Bot.Workers).Info("Dispatch workers started")

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	<-sigChan
	log.Info("Shutdown signal received")

	stopListening(bot, webhookServer, log)

	// Cancel context to stop all workers
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		log.Warn("Workers did not finish in time")
	}

	log.Info("Bot stopped")
}

// worker dispatches updates until the channel closes or ctx is cancelled
func worker(ctx context.Context, dispatcher *handlers.Dispatcher, updates tgbotapi.UpdatesChannel, log *logrus.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := dispatcher.HandleUpdate(ctx, &update); err != nil {
				log.WithError(err).WithField("update_id", update.UpdateID).Error("Failed to handle update")
			}
		}
	}
}

// listen starts the update source: a webhook server when configured,
// long polling otherwise. The returned server is nil when polling.
func listen(bot *tgbotapi.BotAPI, cfg config.BotConfig, log *logrus.Logger) (tgbotapi.UpdatesChannel, *http.Server, error) {
	if !cfg.Webhook.Enabled {
		u := tgbotapi.NewUpdate(0)
		u.Timeout = cfg.UpdateTimeout
		log.Info("Using long polling")
		return bot.GetUpdatesChan(u), nil, nil
	}

	webhook, err := tgbotapi.NewWebhook(fmt.Sprintf("%s/%s", cfg.Webhook.URL, bot.Token))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create webhook: %w", err)
	}
	if _, err := bot.Request(webhook); err != nil {
		return nil, nil, fmt.Errorf("failed to set webhook: %w", err)
	}

	updates := bot.ListenForWebhook("/" + bot.Token)
	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Webhook.Port),
		ReadTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("Webhook server failed")
		}
	}()
	log.WithField("port", cfg.Webhook.Port).Info("Webhook set")
	return updates, server, nil
}

func stopListening(bot *tgbotapi.BotAPI, server *http.Server, log *logrus.Logger) {
	if server == nil {
		bot.StopReceivingUpdates()
		return
	}

	if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		log.WithError(err).Error("Failed to delete webhook")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("Webhook server shutdown")
	}
}
