package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"stagecast/server/internal/api"
	"stagecast/server/internal/broadcast"
	"stagecast/server/internal/config"
	"stagecast/server/internal/logger"
	"stagecast/server/internal/metrics"
	"stagecast/server/internal/model"
	"stagecast/server/internal/publish"
	"stagecast/server/internal/store"
)

func main() {
	// 参数只有配置文件路径，密钥类配置走环境变量（ADMIN_TOKEN、PUSHER_SECRET 等）。
	configPath := flag.String("config", "", "path to config yaml (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logger.New(logger.Config{})
		bootLog.Fatal().Err(err).Msg("load config")
	}
	log := logger.New(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if cfg.Admin.Token == "" {
		log.Warn().Msg("⚠️ ADMIN_TOKEN is empty, every publish will be rejected")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("stagecast server stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	m := metrics.New()

	b, err := newBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	deps, err := newDeps(cfg, b, m, log)
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	server := api.NewServer(deps)
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}
	httpServer.RegisterOnShutdown(server.CloseStreams)

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.Server.Addr).
			Str("store", cfg.Store.Driver).
			Str("relay", cfg.Relay.Driver).
			Bool("pusher", b.pusher != nil).
			Msg("✅ stagecast server listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// newDeps 把存储、扇出和发布入口串起来。存储的默认记录和发布共用一个版本时钟，
// 同一毫秒内的两个版本也不会相同。
func newDeps(cfg *config.Config, b *backends, m *metrics.Metrics, log zerolog.Logger) (api.Deps, error) {
	clock := model.NewVersionClock(nil)

	content := store.NewContentStore(b.store, clock,
		store.WithPlaceholderImage(cfg.Content.PlaceholderImage),
		store.WithOpTimeout(cfg.Store.OpTimeout),
		store.WithLogger(logger.Component(log, "store")),
	)

	transports := []broadcast.Transport{broadcast.NewRelayTransport(b.relay, cfg.Content.Channel)}
	deps := api.Deps{
		Content:     content,
		Relay:       b.relay,
		Channel:     cfg.Content.Channel,
		Viewer:      viewerSettings(cfg),
		KeepAlive:   cfg.Stream.KeepAlive,
		CORSOrigins: cfg.Server.CORSOrigins,
		Metrics:     m,
		Logger:      logger.Component(log, "api"),
	}
	if b.pusher != nil {
		transports = append(transports, broadcast.NewPusherTransport(b.pusher))
		deps.Pusher = b.pusher
	}

	fanout, err := broadcast.New(transports,
		broadcast.WithTimeout(cfg.Relay.SendTimeout),
		broadcast.WithLogger(logger.Component(log, "broadcast")),
		broadcast.WithMetrics(m),
	)
	if err != nil {
		return api.Deps{}, err
	}
	deps.Gate = publish.NewGate(publish.Options{
		Secret:  cfg.Admin.Token,
		Store:   content,
		Fanout:  fanout,
		Clock:   clock,
		Logger:  logger.Component(log, "publish"),
		Metrics: m,
	})
	return deps, nil
}

func viewerSettings(cfg *config.Config) model.ViewerSettings {
	vs := model.ViewerSettings{
		ForcePolling:        cfg.Viewer.ForcePolling,
		PollIntervalMs:      int(cfg.Viewer.PollInterval.Milliseconds()),
		RetryDelayMs:        int(cfg.Viewer.RetryDelay.Milliseconds()),
		OpenTimeoutMs:       int(cfg.Viewer.OpenTimeout.Milliseconds()),
		ReconnectIntervalMs: int(cfg.Viewer.ReconnectInterval.Milliseconds()),
	}
	if cfg.Pusher.Enabled() {
		vs.Pusher = &model.PusherSettings{
			Key:     cfg.Pusher.Key,
			Cluster: cfg.Pusher.Cluster,
			Channel: cfg.Pusher.Channel,
			Event:   cfg.Pusher.Event,
		}
	}
	return vs
}
