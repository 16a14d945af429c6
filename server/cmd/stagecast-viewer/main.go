package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"stagecast/server/internal/logger"
	"stagecast/server/internal/model"
	"stagecast/server/internal/pusher"
	"stagecast/server/internal/viewer"
)

// stagecast-viewer 是无界面的观众端：跟随服务端的当前内容，并把每次渲染打到日志里。
func main() {
	serverURL := flag.String("server", "http://localhost:8080", "stagecast server base url")
	transport := flag.String("transport", "auto", "live transport: auto | sse | ws | pusher | none")
	forcePolling := flag.Bool("force-polling", false, "skip live transports and poll only")
	reconnect := flag.Duration("reconnect", 30*time.Second, "interval for retrying live transport while polling (0 disables); overrides the server setting when given")
	retryDelay := flag.Duration("retry-delay", time.Second, "delay before the single live retry; overrides the server setting when given")
	openTimeout := flag.Duration("open-timeout", 5*time.Second, "bound on opening the live transport; overrides the server setting when given")
	logLevel := flag.String("log-level", "info", "debug | info | warn | error")
	flag.Parse()

	log := logger.New(logger.Config{Level: *logLevel})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := viewer.NewClient(*serverURL)

	settingsCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	settings, err := client.ViewerSettings(settingsCtx)
	cancel()
	if err != nil {
		// 拿不到配置也能跑，只是按本地参数来。
		log.Warn().Err(err).Msg("[Viewer] ⚠️ fetch viewer settings failed, using flags")
	}

	live, err := pickTransport(*transport, client, settings)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid transport")
	}

	cfg := viewer.Config{
		Live:              live,
		Source:            client,
		Renderer:          logRenderer(log),
		ForcePolling:      *forcePolling,
		RetryDelay:        *retryDelay,
		OpenTimeout:       *openTimeout,
		ReconnectInterval: *reconnect,
		OnStateChange: func(s viewer.State) {
			log.Info().Str("state", s.String()).Msg("[Viewer] state changed")
		},
		Logger: logger.Component(log, "viewer"),
	}
	cfg.ApplySettings(settings)
	// 命令行显式给出的参数优先于服务端配置。
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "reconnect":
			cfg.ReconnectInterval = *reconnect
		case "retry-delay":
			cfg.RetryDelay = *retryDelay
		case "open-timeout":
			cfg.OpenTimeout = *openTimeout
		}
	})

	follower := viewer.New(cfg)
	follower.Start()

	<-ctx.Done()
	follower.Close()
	if c := follower.Displayed(); c != nil {
		log.Info().Str("version", c.Version).Msg("[Viewer] stopped")
	}
}

func pickTransport(name string, client *viewer.Client, settings model.ViewerSettings) (viewer.LiveTransport, error) {
	switch name {
	case "auto":
		if settings.Pusher != nil {
			return pusherTransport(settings.Pusher), nil
		}
		return &viewer.SSETransport{URL: client.StreamURL()}, nil
	case "sse":
		return &viewer.SSETransport{URL: client.StreamURL()}, nil
	case "ws":
		return &viewer.WebSocketTransport{URL: client.WebSocketURL()}, nil
	case "pusher":
		if settings.Pusher == nil {
			return nil, fmt.Errorf("server has no pusher configured")
		}
		return pusherTransport(settings.Pusher), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", name)
	}
}

func pusherTransport(p *model.PusherSettings) viewer.LiveTransport {
	return &viewer.PusherTransport{Config: pusher.SubscriberConfig{
		Key:     p.Key,
		Cluster: p.Cluster,
		Channel: p.Channel,
		Event:   p.Event,
	}}
}

func logRenderer(log zerolog.Logger) viewer.Renderer {
	return viewer.RendererFunc(func(c *model.VersionedContent, a viewer.Animation) {
		log.Info().
			Str("version", c.Version).
			Str("title", c.Title).
			Str("image", c.ImageURL).
			Str("effect", string(c.Effect.Type)).
			Int("duration_ms", a.DurationMs).
			Msg("[Viewer] ✅ rendered")
	})
}
