package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"prativedak/internal/api"
	"prativedak/internal/config"
	"prativedak/internal/dispatch"
	"prativedak/internal/events"
	"prativedak/internal/ingest"
	"prativedak/internal/logging"
	"prativedak/internal/metrics"
	"prativedak/internal/model"
	"prativedak/internal/monitor"
	"prativedak/internal/notify"
	"prativedak/internal/pipeline"
	"prativedak/internal/sequencer"
	"prativedak/internal/storage"
	"prativedak/internal/validate"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to YAML or JSON config")
	envFile := flag.String("env", ".env", "dotenv file with secrets")
	noMonitor := flag.Bool("no-monitor", false, "do not start monitoring at boot")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envFile, err)
	}

	mgr, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg := mgr.Get()
	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting prativedak", "version", version, "config", mgr.Path())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, mgr, logger, !*noMonitor); err != nil {
		logger.Error("prativedak stopped with error", "err", err)
		os.Exit(1)
	}
	logger.Info("prativedak stopped")
}

func loadConfig(path string) (*config.Manager, error) {
	if path != "" {
		return config.NewManager(config.ResolvePath(path))
	}
	cfg := config.DefaultConfig()
	config.ApplyEnv(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return config.NewStaticManager(cfg), nil
}

func run(ctx context.Context, mgr *config.Manager, logger *slog.Logger, startMonitoring bool) error {
	cfg := mgr.Get()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		defer store.Close()
	}

	feed := events.NewStore(cfg.Events.StoreLimit)
	publisher := events.Fanout{feed}
	if cfg.Redis.Enabled {
		redisPub := events.NewRedisPublisher(events.NewRedisClient(cfg.Redis), cfg.Redis)
		if err := redisPub.Ping(ctx); err != nil {
			logger.Warn("redis unreachable, events stay in memory", "addr", cfg.Redis.Addr, "err", err)
		} else {
			publisher = append(publisher, redisPub)
			logger.Info("redis event publisher enabled", "addr", cfg.Redis.Addr, "channel", cfg.Redis.Channel)
		}
		defer redisPub.Close()
	}

	perms := notify.NewStaticPermissions(cfg.Permissions)
	launcher := notify.NewRelayLauncher(cfg.Launcher, publisher)
	var caller dispatch.Caller = notify.Unavailable{}
	var texter dispatch.Texter = notify.Unavailable{}
	if cfg.Twilio.Enabled {
		tw := notify.NewTwilio(cfg.Twilio, cfg.Emergency, logger)
		caller, texter = tw, tw
		logger.Info("twilio calls and sms enabled", "from", cfg.Twilio.FromNumber)
	}

	hub := ingest.NewHub(cfg.Ingest.DedupeWindow, logger)
	summaries := metrics.NewStore(cfg.Summaries.StoreLimit)
	mon := monitor.New(cfg.Detection, hub, perms, nil, logger)
	dispatcher := dispatch.New(cfg.Emergency, caller, texter, launcher, perms, nil, logger)
	seq := sequencer.New(cfg.Emergency, dispatcher, pipeline.NewRecorder(summaries, store, logger), publisher, nil, logger)
	pipe := pipeline.New(cfg.Emergency, mon, seq, validate.NewValidationService(), publisher, store, logger)
	pipe.Start(ctx)

	readings := make(chan model.Reading, cfg.Ingest.ChannelBuffer)
	go hub.Run(ctx, readings)
	startIngest(ctx, mgr, readings, logger)

	api.Start(ctx, api.Deps{
		Config:      mgr,
		Monitor:     mon,
		Pipeline:    pipe,
		Emergency:   seq,
		Events:      feed,
		Summaries:   summaries,
		Store:       store,
		Hub:         hub,
		Permissions: perms,
		Logger:      logger,
		Version:     version,
	})

	if startMonitoring {
		if ok, err := pipe.StartMonitoring(); err != nil || !ok {
			logger.Warn("monitoring not started at boot", "err", err)
		}
	}

	watchStop := make(chan struct{})
	defer close(watchStop)
	if mgr.Path() != "" {
		go mgr.Watch(3*time.Second, func(next *config.Config) {
			mon.UpdateConfig(next.Detection)
			dispatcher.UpdateConfig(next.Emergency)
			seq.UpdateConfig(next.Emergency)
			pipe.UpdateConfig(next.Emergency)
			perms.UpdateConfig(next.Permissions)
			launcher.UpdateConfig(next.Launcher)
			hub.SetDedupeWindow(next.Ingest.DedupeWindow)
			logger.Info("config reloaded", "path", mgr.Path())
		}, func(err error) {
			logger.Warn("config reload failed", "err", err)
		}, watchStop)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	pipe.StopMonitoring()
	if seq.Cancel() {
		logger.Info("pending countdown cancelled on shutdown")
	}
	return nil
}

func startIngest(ctx context.Context, mgr *config.Manager, out chan<- model.Reading, logger *slog.Logger) {
	ingest.StartREST(ctx, mgr, out, logger)
	ingest.StartTCPStream(ctx, mgr, out, logger)
	ingest.StartFileTail(ctx, mgr, out, logger)
	ingest.StartKafka(ctx, mgr, ingest.NewParser(), out, logger)
	if err := ingest.StartMQTT(ctx, mgr, ingest.NewParser(), out, logger); err != nil {
		logger.Error("mqtt ingest failed", "err", err)
	}
}
