package main

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"stagecast/server/internal/config"
	"stagecast/server/internal/metrics"
	"stagecast/server/internal/model"
)

const fadeBody = `{"title":"A","body":"b","imageUrl":"https://x/img.png","effect":{"type":"fade","duration":400}}`

// TestDefaultAndPublishShareVersionClock 验证懒创建的默认记录和紧随其后的发布版本严格递增。
func TestDefaultAndPublishShareVersionClock(t *testing.T) {
	cfg := config.Default()
	cfg.Admin.Token = "s3cret"
	ctx := context.Background()

	b, err := newBackends(ctx, &cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("backends: %v", err)
	}
	defer b.Close()

	deps, err := newDeps(&cfg, b, metrics.New(), zerolog.Nop())
	if err != nil {
		t.Fatalf("deps: %v", err)
	}

	for i := 0; i < 20; i++ {
		def, err := deps.Content.Get(ctx)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		res, err := deps.Gate.Publish(ctx, []byte(fadeBody), "s3cret")
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
		cmp, ok := model.CompareVersions(res.Version, def.Version)
		if !ok || cmp <= 0 {
			t.Fatalf("publish version %q must be newer than %q", res.Version, def.Version)
		}
	}
}

func TestViewerSettingsCarryTimings(t *testing.T) {
	cfg := config.Default()
	cfg.Viewer.RetryDelay = 2 * time.Second
	cfg.Viewer.OpenTimeout = 4 * time.Second
	cfg.Viewer.ReconnectInterval = time.Minute

	vs := viewerSettings(&cfg)
	if vs.PollIntervalMs != 3000 || vs.RetryDelayMs != 2000 || vs.OpenTimeoutMs != 4000 || vs.ReconnectIntervalMs != 60000 {
		t.Fatalf("unexpected viewer settings %+v", vs)
	}
	if vs.Pusher != nil {
		t.Fatalf("pusher settings must be absent without credentials")
	}
}
