package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cartbroker/internal/api"
	"cartbroker/internal/availability"
	"cartbroker/internal/bot"
	"cartbroker/internal/cache"
	"cartbroker/internal/config"
	"cartbroker/internal/database"
	"cartbroker/internal/domain"
	"cartbroker/internal/events"
	"cartbroker/internal/google"
	"cartbroker/internal/logging"
	"cartbroker/internal/metrics"
	"cartbroker/internal/models"
	"cartbroker/internal/repository"
	"cartbroker/internal/scheduler"
	"cartbroker/internal/seed"
	"cartbroker/internal/service"
	"cartbroker/internal/tables"
	"cartbroker/internal/worker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const jobHealth = "health"

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}
	logger := logging.Component(baseLogger, "main")
	metrics.Register()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gateway, err := initGateway(ctx, cfg, baseLogger)
	if err != nil {
		logger.Error().Err(err).Msg("Ошибка подключения к таблицам")
		return err
	}

	db, err := database.NewDB(cfg.Database.Path, baseLogger)
	if err != nil {
		logger.Error().Err(err).Msg("Ошибка инициализации базы данных")
		return err
	}
	defer db.Close()

	redisClient := initRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}

	snapshot := cache.NewSnapshot(gateway, loc, baseLogger,
		cache.WithTTL(cfg.Cache.TTL),
		cache.WithSlotTTL(cfg.Cache.SlotTTL),
	)
	engine := availability.NewEngine(snapshot, snapshot.Slots(), loc, availability.Rules{
		Step:  cfg.Booking.Step,
		Min:   cfg.Booking.MinDuration,
		Max:   cfg.Booking.MaxDuration,
		Grace: cfg.Booking.PastGrace,
	})

	eventBus := events.NewEventBus()
	eventBus.OnError(func(ev *events.Event, err error) {
		logger.Error().Err(err).Str("event", ev.Type).Msg("event handler failed")
	})

	outbox := worker.NewOutboxWorker(db, gateway, redisClient, retryPolicy(cfg.Retry), baseLogger)

	botAPI, err := bot.Connect(cfg.Telegram.BotToken, cfg.Telegram.Debug)
	if err != nil {
		logger.Error().Err(err).Msg("Ошибка создания BotAPI")
		return err
	}
	tgService := service.NewTelegramService(botAPI)

	reservations := service.NewReservationService(gateway, snapshot, engine, tgService, eventBus, baseLogger,
		service.WithNotificationChat(cfg.NotificationChatID),
		service.WithOutbox(outbox),
	)
	outbox.OnApplied(reservations.ApplyQueued)

	users := service.NewUserService(gateway, snapshot, service.UserPolicy{
		Admins:           cfg.Admins,
		SelfRegistration: cfg.SelfRegistration,
	}, baseLogger)
	admin := service.NewAdminService(gateway, snapshot, baseLogger)

	stateRepo := repository.NewFailoverStateRepository(stateRepository(redisClient), repository.NewMemoryStateRepository(), baseLogger)
	sessions := service.NewStateService(stateRepo, snapshot, tgService, cfg.Scheduler.SessionTimeout, baseLogger)

	grpcServer, httpServer, err := startAPI(cfg, engine, snapshot, baseLogger)
	if err != nil {
		return err
	}

	// окно с запасом на один пропущенный прогон, флаги не дают отправить дважды
	reminderWindow := models.ReminderWindow + max(cfg.Scheduler.Reminders, cfg.Scheduler.Tick)
	reminders := scheduler.NewReminders(snapshot, reservations, models.StartReminderLead, reminderWindow, baseLogger)
	reminders.Subscribe(eventBus)

	sched := scheduler.New(cfg.Scheduler.Tick, baseLogger)
	sched.Add(scheduler.JobRefresh, cfg.Scheduler.Refresh, scheduler.Refresh(snapshot, cfg.Scheduler.FullRefresh, baseLogger))
	sched.Add(scheduler.JobReminders, cfg.Scheduler.Reminders, reminders.Run)
	sched.Add(scheduler.JobPendingSweep, cfg.Scheduler.PendingSweep, scheduler.PendingSweep(reservations, baseLogger))
	sched.Add(scheduler.JobSessionSweep, cfg.Scheduler.SessionSweep, scheduler.SessionSweep(sessions))
	sched.Add(scheduler.JobOutbox, cfg.Scheduler.Outbox, scheduler.Outbox(outbox))
	sched.Add(jobHealth, cfg.Scheduler.Tick, func(context.Context, time.Time) error {
		if grpcServer != nil {
			grpcServer.SetServing(snapshot.Ready())
		}
		return nil
	})

	if err := sched.RunNow(ctx, scheduler.JobRefresh); err != nil {
		// бот стартует и без таблицы, данные подтянутся следующим обновлением
		logger.Warn().Err(err).Msg("Initial refresh failed")
	}
	if grpcServer != nil {
		grpcServer.SetServing(snapshot.Ready())
	}
	go sched.Start(ctx)

	telegramBot := bot.NewBot(tgService, bot.Services{
		Reservations: reservations,
		Slots:        engine,
		Sessions:     sessions,
		Users:        users,
		Admin:        admin,
	}, cfg.Bot, bot.NewMetrics(prometheus.DefaultRegisterer), baseLogger)

	logger.Info().Msg("Бот запущен...")
	telegramBot.Start(ctx)
	telegramBot.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("HTTP shutdown")
		}
	}
	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}

	logger.Info().Msg("Shutdown complete.")
	return nil
}

// initGateway connects to the spreadsheet, or falls back to an in-memory
// store filled from the seed section.
func initGateway(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (domain.TableGateway, error) {
	policy := retryPolicy(cfg.Retry)

	if cfg.Google.SpreadsheetID == "" {
		mem := tables.NewMemoryGateway()
		for _, t := range tables.All() {
			mem.Seed(t)
		}
		if _, err := seed.Apply(ctx, mem, cfg.Seed, logger); err != nil {
			return nil, err
		}
		logger.Warn().Msg("google.spreadsheet_id is empty, using in-memory tables")
		return worker.NewRetryingGateway(mem, policy, cfg.Retry.AttemptTimeout, logger), nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Google.RequestTimeout)
	defer cancel()
	sheets, err := google.NewSheetsGateway(connectCtx, cfg.Google.CredentialsFile, cfg.Google.SpreadsheetID, map[tables.Table]string{
		tables.Users:        cfg.Google.Sheets.Users,
		tables.Reservations: cfg.Google.Sheets.Reservations,
		tables.Carts:        cfg.Google.Sheets.Carts,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := sheets.TestConnection(connectCtx); err != nil {
		return nil, err
	}
	logger.Info().Msg("Google Sheets gateway initialized")
	return worker.NewRetryingGateway(sheets, policy, cfg.Retry.AttemptTimeout, logger), nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}
	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("Redis unavailable, sessions fall back to memory")
	}
	return client
}

// stateRepository returns the primary session store. Without Redis the
// failover wrapper runs on its in-memory fallback alone.
func stateRepository(client *redis.Client) domain.StateRepository {
	if client == nil {
		return repository.NewMemoryStateRepository()
	}
	return repository.NewRedisStateRepository(client)
}

func retryPolicy(cfg config.RetryConfig) worker.RetryPolicy {
	return worker.RetryPolicy{
		MaxRetries:    cfg.MaxAttempts,
		InitialDelay:  cfg.InitialDelay,
		MaxDelay:      cfg.MaxDelay,
		BackoffFactor: cfg.BackoffFactor,
	}
}

func startAPI(cfg *config.Config, engine *availability.Engine, snapshot *cache.Snapshot, logger *zerolog.Logger) (*api.GRPCServer, *api.HTTPServer, error) {
	if !cfg.API.Enabled {
		return nil, nil, nil
	}

	var httpServer *api.HTTPServer
	if cfg.API.HTTP.Enabled {
		httpServer = api.NewHTTPServer(cfg.API, engine, snapshot, logger)
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("HTTP API server error")
			}
		}()
	}

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		var err error
		grpcServer, err = api.NewGRPCServer(&cfg.API, logger)
		if err != nil {
			return nil, nil, err
		}
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("gRPC server error")
			}
		}()
	}
	return grpcServer, httpServer, nil
}
