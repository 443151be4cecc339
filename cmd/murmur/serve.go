package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/murmurbot/murmur/internal/bot"
	"github.com/murmurbot/murmur/internal/config"
	"github.com/murmurbot/murmur/internal/dispatch"
	"github.com/murmurbot/murmur/internal/envelope"
	"github.com/murmurbot/murmur/internal/history"
	"github.com/murmurbot/murmur/internal/inference"
	"github.com/murmurbot/murmur/internal/logger"
	"github.com/murmurbot/murmur/internal/policy"
	"github.com/murmurbot/murmur/internal/segment"
	"github.com/murmurbot/murmur/internal/server"
	"github.com/murmurbot/murmur/internal/transport"
)

// pruneSchedule runs the retention sweep nightly at 05:00, when the bot's
// conversations are quietest.
const pruneSchedule = "0 5 * * *"

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideStore,
			provideNormalizer,
			provideGate,
			provideInferenceClient,
			provideTransportClient,
			provideSynthesizer,
			provideQueue,
			provideResponder,
			provideRegistry,
			provideCore,
			providePingHandler,
			provideEnvelopeHandler,
			provideServer,
		),
		fx.Invoke(
			startQueue,
			startPruneSchedule,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideStore(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (*history.Store, error) {
	store, err := history.NewStore(cfg.History.Path, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return store.Close()
		},
	})
	return store, nil
}

func provideNormalizer(log *slog.Logger, cfg config.Config, store *history.Store) *envelope.Normalizer {
	return envelope.NewNormalizer(log, cfg.Bot.Identity, store)
}

func provideGate(cfg config.Config) *policy.Gate {
	opts := []policy.Option{
		policy.WithWarmup(cfg.Policy.WarmupWindow.Std()),
		policy.WithActiveInterval(cfg.Policy.ActiveInterval.Std()),
	}
	if cfg.Policy.IgnoreWarmup {
		opts = append(opts, policy.WithIgnoreWarmup())
	}
	return policy.NewGate(policy.Mode(cfg.Policy.Mode), cfg.Policy.Whitelist, cfg.Policy.Blacklist, opts...)
}

func provideInferenceClient(log *slog.Logger, cfg config.Config) *inference.Client {
	return inference.NewClient(cfg.Inference.BaseURL, cfg.Inference.ChatRole, cfg.Inference.Timeout.Std(), log)
}

func provideTransportClient(log *slog.Logger, cfg config.Config) *transport.Client {
	return transport.NewClient(cfg.Transport.BaseURL, cfg.Transport.Timeout.Std(), log)
}

// provideSynthesizer returns nil when no TTS service is configured, which
// disables voice delivery in the queue.
func provideSynthesizer(log *slog.Logger, cfg config.Config) transport.VoiceSynthesizer {
	if cfg.Transport.TTSBaseURL == "" {
		return nil
	}
	return transport.NewTTSClient(cfg.Transport.TTSBaseURL, cfg.Transport.TTSVoice, cfg.Transport.Timeout.Std(), log)
}

func provideQueue(log *slog.Logger, cfg config.Config, client *transport.Client, synth transport.VoiceSynthesizer, inf *inference.Client) *dispatch.Queue {
	return dispatch.NewQueue(log, dispatch.Config{
		Capacity:         cfg.Dispatch.QueueCapacity,
		BaseDelay:        cfg.Dispatch.BaseDelay.Std(),
		BacklogThreshold: cfg.Dispatch.BacklogThreshold,
		EchoPrefix:       cfg.Dispatch.EchoPrefix,
		VoiceEnabled:     cfg.Dispatch.VoiceEnabled,
		VoiceMinRunes:    cfg.Dispatch.VoiceMinRunes,
		VoiceMinProb:     cfg.Dispatch.VoiceMinProb,
		VoiceMaxProb:     cfg.Dispatch.VoiceMaxProb,
	}, client, synth, inf)
}

func provideResponder(log *slog.Logger, cfg config.Config, inf *inference.Client, queue *dispatch.Queue, client *transport.Client) *bot.Responder {
	segCfg := segment.Config{
		MinRunes:  cfg.Segment.MinRunes,
		LatinOnly: cfg.Segment.LatinOnly,
	}
	return bot.NewResponder(log, inf, queue, segCfg, client)
}

func provideRegistry(log *slog.Logger, cfg config.Config, gate *policy.Gate, responder *bot.Responder, inf *inference.Client) *bot.Registry {
	chat := bot.NewChatHandler(log, cfg.Bot.Identity, cfg.Bot.Nickname, gate, responder)

	registry := bot.NewRegistry()
	registry.MustRegister(envelope.KindText, chat)
	registry.MustRegister(envelope.KindQuote, chat)
	registry.MustRegister(envelope.KindImage, bot.NewImageHandler(log, inf, inf))
	registry.MustRegister(envelope.KindPat, bot.NewPatHandler(cfg.Bot.Identity, responder))
	return registry
}

func provideCore(log *slog.Logger, normalizer *envelope.Normalizer, gate *policy.Gate, registry *bot.Registry) *bot.Core {
	return bot.NewCore(log, normalizer, gate, registry)
}

func providePingHandler(log *slog.Logger) *server.PingHandler {
	return server.NewPingHandler(log)
}

func provideEnvelopeHandler(log *slog.Logger, core *bot.Core) *server.EnvelopeHandler {
	return server.NewEnvelopeHandler(log, core)
}

func provideServer(cfg config.Config, ping *server.PingHandler, envelopes *server.EnvelopeHandler) *server.Server {
	return server.NewServer(cfg.Server.Addr, ping, envelopes)
}

// startQueue runs the single delivery consumer. Shutdown closes intake and
// waits for the backlog to drain before the transport client goes away.
func startQueue(lc fx.Lifecycle, queue *dispatch.Queue) {
	runCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go queue.Run(runCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			queue.Close()
			select {
			case <-queue.Done():
			case <-ctx.Done():
				cancel()
				<-queue.Done()
			}
			cancel()
			return nil
		},
	})
}

func startPruneSchedule(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, store *history.Store) error {
	c := cron.New()
	retention := cfg.History.Retention.Std()
	_, err := c.AddFunc(pruneSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := store.PruneBefore(ctx, time.Now().Add(-retention)); err != nil {
			log.Error("envelope log prune failed", slog.Any("error", err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule prune: %w", err)
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			c.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			<-c.Stop().Done()
			return nil
		},
	})
	return nil
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server exited", slog.Any("error", err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
