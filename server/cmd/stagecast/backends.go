package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"stagecast/server/internal/config"
	"stagecast/server/internal/logger"
	"stagecast/server/internal/pusher"
	"stagecast/server/internal/relay"
	"stagecast/server/internal/store"
	"stagecast/server/internal/upstash"
)

// backends 持有按配置选出的存储、中继和共享客户端，客户端在进程内只创建一次。
type backends struct {
	store  store.Store
	relay  relay.Relay
	pusher *pusher.Trigger

	redis *redis.Client
	db    *sql.DB
}

func newBackends(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*backends, error) {
	b := &backends{}
	ok := false
	defer func() {
		if !ok {
			b.Close()
		}
	}()

	if cfg.Store.Driver == "redis" || cfg.Relay.Driver == "redis" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		b.redis = redis.NewClient(opts)
		if err := b.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
	}

	var up *upstash.Client
	if cfg.Store.Driver == "upstash" || cfg.Relay.Driver == "upstash" {
		up = upstash.NewClient(cfg.Upstash.URL, cfg.Upstash.Token)
	}

	switch cfg.Store.Driver {
	case "memory":
		b.store = store.NewInMemoryStore()
	case "redis":
		b.store = store.NewRedisStore(b.redis, cfg.Content.Key)
	case "sqlite":
		db, err := store.OpenSQLite(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		b.db = db
		b.store = store.NewSQLiteStore(db, cfg.Content.Key)
	case "upstash":
		b.store = upstash.NewStore(up, cfg.Content.Key)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	relayLog := logger.Component(log, "relay")
	switch cfg.Relay.Driver {
	case "memory":
		b.relay = relay.NewHub(16)
	case "redis":
		b.relay = relay.NewRedisRelay(b.redis, relayLog)
	case "mqtt":
		r, err := relay.DialMQTT(relay.MQTTConfig{
			Broker:         cfg.MQTT.Broker,
			TopicPrefix:    cfg.MQTT.TopicPrefix,
			QoS:            cfg.MQTT.QoS,
			ConnectTimeout: cfg.MQTT.ConnectTimeout,
		}, relayLog)
		if err != nil {
			return nil, err
		}
		b.relay = r
	case "upstash":
		b.relay = upstash.NewRelay(up, relayLog)
	default:
		return nil, fmt.Errorf("unknown relay driver %q", cfg.Relay.Driver)
	}

	if cfg.Pusher.Enabled() {
		t, err := pusher.NewTrigger(pusher.Config{
			AppID:   cfg.Pusher.AppID,
			Key:     cfg.Pusher.Key,
			Secret:  cfg.Pusher.Secret,
			Cluster: cfg.Pusher.Cluster,
			Channel: cfg.Pusher.Channel,
			Event:   cfg.Pusher.Event,
		})
		if err != nil {
			return nil, err
		}
		b.pusher = t
	}

	ok = true
	return b, nil
}

func (b *backends) Close() {
	if b.relay != nil {
		_ = b.relay.Close()
	}
	if b.redis != nil {
		_ = b.redis.Close()
	}
	if b.db != nil {
		_ = b.db.Close()
	}
}
