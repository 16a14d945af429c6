package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

type MQTTConfig struct {
	Broker         string
	ClientID       string
	TopicPrefix    string
	QoS            byte
	ConnectTimeout time.Duration
}

// MQTTRelay 基于 MQTT broker。
// 每个 channel 在进程内只有一条上游订阅，收到的消息经 Hub 扇出给本地订阅者。
// 连接断开时所有本地订阅以错误结束，观众端会重新连接并触发重新订阅。
type MQTTRelay struct {
	cfg    MQTTConfig
	client mqtt.Client
	hub    *Hub
	log    zerolog.Logger

	mu     sync.Mutex
	topics map[string]bool
}

func newMQTTRelay(cfg MQTTConfig, log zerolog.Logger) *MQTTRelay {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "stagecast-" + ulid.Make().String()
	}
	return &MQTTRelay{
		cfg:    cfg,
		hub:    NewHub(16),
		log:    log,
		topics: make(map[string]bool),
	}
}

// DialMQTT 连接 broker 并返回 relay。
func DialMQTT(cfg MQTTConfig, log zerolog.Logger) (*MQTTRelay, error) {
	r := newMQTTRelay(cfg, log)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(r.cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		r.log.Info().Str("broker", cfg.Broker).Str("client_id", r.cfg.ClientID).Msg("[Relay] ✅ mqtt connected")
	})
	opts.SetConnectionLostHandler(r.onConnectionLost)

	r.client = mqtt.NewClient(opts)
	token := r.client.Connect()
	if !token.WaitTimeout(r.cfg.ConnectTimeout) {
		r.client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		r.client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}
	return r, nil
}

func (r *MQTTRelay) onConnectionLost(_ mqtt.Client, err error) {
	r.log.Warn().Err(err).Msg("[Relay] mqtt connection lost, failing local subscriptions")

	r.mu.Lock()
	r.topics = make(map[string]bool)
	r.mu.Unlock()

	r.hub.FailAll(fmt.Errorf("mqtt connection lost: %w", err))
}

func (r *MQTTRelay) topic(channel string) string {
	return r.cfg.TopicPrefix + channel
}

func (r *MQTTRelay) Publish(ctx context.Context, channel string, payload []byte) error {
	token := r.client.Publish(r.topic(channel), r.cfg.QoS, false, payload)
	if err := waitToken(ctx, token); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", channel, err)
	}
	return nil
}

func (r *MQTTRelay) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	if err := r.ensureUpstream(ctx, channel); err != nil {
		return nil, err
	}
	return r.hub.Subscribe(ctx, channel)
}

func (r *MQTTRelay) ensureUpstream(ctx context.Context, channel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.topics[channel] {
		return nil
	}
	token := r.client.Subscribe(r.topic(channel), r.cfg.QoS, r.handler(channel))
	if err := waitToken(ctx, token); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", channel, err)
	}
	r.topics[channel] = true
	r.log.Debug().Str("topic", r.topic(channel)).Msg("[Relay] mqtt upstream subscribed")
	return nil
}

func (r *MQTTRelay) handler(channel string) mqtt.MessageHandler {
	return func(_ mqtt.Client, m mqtt.Message) {
		_ = r.hub.Publish(context.Background(), channel, m.Payload())
	}
}

func (r *MQTTRelay) Close() error {
	_ = r.hub.Close()
	if r.client != nil && r.client.IsConnected() {
		r.client.Disconnect(250)
	}
	return nil
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
