package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agentbook/internal/agenda"
	"agentbook/internal/api"
	"agentbook/internal/booking"
	"agentbook/internal/config"
	"agentbook/internal/db"
	"agentbook/internal/metrics"
	"agentbook/internal/notify"
	"agentbook/internal/realtime"
	"agentbook/internal/schedule"
	"agentbook/internal/slots"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const agentsReloadInterval = 30 * time.Second

func main() {
	_ = godotenv.Load(".env")

	// Initialize logger
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("AGENTBOOK_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
		logger = logger.Level(level)
	}

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Str("timezone", cfg.Booking.Timezone).Msg("invalid booking timezone")
	}

	database, err := db.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer database.Close()

	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
	}

	slotOpts := []slots.Option{slots.WithLeadTime(cfg.LeadTime()), slots.WithLocation(loc)}
	if cache := slots.NewRedisCache(rdb, cfg.SlotCacheTTL()); cache != nil {
		slotOpts = append(slotOpts, slots.WithCache(cache))
	}
	slotService := slots.NewService(database, &logger, slotOpts...)
	scheduleService := schedule.NewService(database, slotService, &logger)

	notifier := newNotifier(cfg, database, &logger)

	bus := realtime.NewBus()
	var (
		broadcaster realtime.Broadcaster = bus
		streamer    realtime.Streamer    = bus
	)
	if rdb != nil {
		rb := realtime.NewRedisBroadcaster(rdb, "")
		broadcaster = realtime.Fanout{bus, rb}
		streamer = rb
	}

	dispatcher := booking.NewDispatcher(cfg.DispatchWorkers(), cfg.DispatchTimeout(), &logger)
	coordinator := booking.NewCoordinator(
		database, slotService, notifier, broadcaster, &logger,
		booking.WithTxTimeout(cfg.TxTimeout()),
		booking.WithDispatcher(dispatcher),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = config.WatchAgents(ctx, cfg.AgentsConfigPath, agentsReloadInterval, func(agents *config.AgentsConfig) {
		scheduleService.SetDaysOff(agents.DaysOff())
		ids, err := database.SyncAgentsFromConfig(ctx, agents)
		if err != nil {
			logger.Error().Err(err).Msg("agents sync failed")
			return
		}
		for _, id := range ids {
			slotService.Invalidate(ctx, id)
		}
		logger.Info().Int("agents", len(ids)).Msg("agents roster applied")
	})
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.AgentsConfigPath).Msg("failed to load agents config")
	}

	go db.NewBackupService(database, cfg.Backup, &logger).Start(ctx)

	if cfg.Agenda.Enabled {
		agendaCfg := agenda.DefaultConfig()
		agendaCfg.DailyHour, agendaCfg.DailyMinute = cfg.Agenda.DailyHour, cfg.Agenda.DailyMinute
		go agenda.NewScheduler(agendaCfg, database, notifier, loc, &logger).Start(ctx)
	}

	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, database, rdb, &logger)
	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}
	if cfg.Monitoring.GRPCHealthPort > 0 {
		go startGRPCHealthServer(ctx, cfg.Monitoring.GRPCHealthPort, &logger)
	}

	server := api.NewHTTPServer(cfg.Server.Address, cfg.Server.APIKey, coordinator, slotService, scheduleService, &logger)
	server.UseStreamer(streamer)

	logger.Info().Msg("agentbook started")
	if err := server.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("api server error")
		stop()
	}

	dispatcher.Wait()
	logger.Info().Msg("agentbook stopped")
}

func newNotifier(cfg *config.Config, database *db.DB, logger *zerolog.Logger) notify.Notifier {
	token := cfg.Telegram.BotToken
	if token == "" || token == "YOUR_BOT_TOKEN_HERE" {
		logger.Warn().Msg("telegram.bot_token not set, notifications disabled")
		return notify.Nop{}
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		logger.Error().Err(err).Msg("telegram bot init failed, notifications disabled")
		return notify.Nop{}
	}
	logger.Info().Str("bot", bot.Self.UserName).Msg("telegram notifications enabled")
	return notify.NewTelegramNotifier(bot, database, cfg.Telegram.RatePerSecond, cfg.Telegram.Burst, logger)
}

func startHealthServer(ctx context.Context, port int, database *db.DB, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := database.PingContext(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
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

func startGRPCHealthServer(ctx context.Context, port int, logger *zerolog.Logger) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		logger.Error().Err(err).Int("port", port).Msg("grpc health listen error")
		return
	}

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("agentbook", healthpb.HealthCheckResponse_SERVING)

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	go func() {
		<-ctx.Done()
		hs.Shutdown()
		gs.GracefulStop()
	}()
	if err := gs.Serve(lis); err != nil {
		logger.Error().Err(err).Msg("grpc health server error")
	}
}
