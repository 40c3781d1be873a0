package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/auralink/auralink-bridge/internal/config"
)

// MessageHandler processes one inbound message. Handlers run one at a
// time, in arrival order, on a single worker goroutine so a slow
// handler never stalls the paho receive loop.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// QueueSize is how many received messages may wait for the handler.
// Messages arriving while the queue is full are dropped and logged.
const QueueSize = 16

type inbound struct {
	ctx     context.Context
	topic   string
	payload []byte
}

// Client owns the broker connection for the bridge.
type Client struct {
	cfg     config.MQTTConfig
	handler MessageHandler
	logger  *slog.Logger

	cm       *autopaho.ConnectionManager
	cmCancel context.CancelFunc
	runCtx   context.Context

	workerOnce sync.Once
	workerDone chan struct{}
	queue      chan inbound

	mu      sync.Mutex // guards stopped and sends on queue
	stopped bool
	dropped int64
}

// New creates a Client but does not connect. Call [Client.Start] to
// connect and begin receiving sensor readings.
func New(cfg config.MQTTConfig, handler MessageHandler, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		handler:    handler,
		logger:     logger.With("component", "mqtt", "broker", cfg.Broker),
		queue:      make(chan inbound, QueueSize),
		workerDone: make(chan struct{}),
	}
}

// Start connects to the broker. It waits up to 30 seconds for the
// first connection and then returns; autopaho keeps reconnecting in the
// background until [Client.Stop] is called. Handlers receive ctx, so
// cancelling it aborts in-flight work while the connection stays up
// long enough for Stop to disconnect cleanly.
func (c *Client) Start(ctx context.Context) error {
	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	pahoCfg, err := c.clientConfig(connCtx)
	if err != nil {
		cancel()
		return err
	}

	c.runCtx = ctx
	cm, err := autopaho.NewConnection(connCtx, pahoCfg)
	if err != nil {
		cancel()
		return fmt.Errorf("mqtt connect: %w", err)
	}
	c.cm = cm
	c.cmCancel = cancel

	awaitCtx, awaitCancel := context.WithTimeout(ctx, 30*time.Second)
	defer awaitCancel()
	if err := cm.AwaitConnection(awaitCtx); err != nil {
		// Not fatal: autopaho keeps retrying in the background.
		c.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}
	return nil
}

// clientConfig builds the autopaho configuration from c.cfg.
func (c *Client) clientConfig(ctx context.Context) (autopaho.ClientConfig, error) {
	brokerURL, err := url.Parse(c.cfg.Broker)
	if err != nil {
		return autopaho.ClientConfig{}, fmt.Errorf("parse mqtt broker URL: %w", err)
	}
	if brokerURL.Host == "" {
		return autopaho.ClientConfig{}, fmt.Errorf("mqtt broker URL %q has no host", c.cfg.Broker)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{brokerURL},
		KeepAlive:                     uint16(c.cfg.KeepAliveSec),
		CleanStartOnInitialConnection: true,
		ConnectUsername:               c.cfg.Username,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			c.logger.Info("mqtt connected to broker")
			c.subscribe(ctx, cm)
		},
		OnConnectError: func(err error) {
			c.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: c.cfg.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					c.dispatch(pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
			OnClientError: func(err error) {
				c.logger.Warn("mqtt client error", "error", err)
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				c.logger.Warn("mqtt server requested disconnect", "reason_code", d.ReasonCode)
			},
		},
	}
	if c.cfg.Password != "" {
		pahoCfg.ConnectPassword = []byte(c.cfg.Password)
	}

	if isTLSScheme(brokerURL.Scheme) {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: brokerURL.Hostname(),
		}
	}
	return pahoCfg, nil
}

func isTLSScheme(scheme string) bool {
	switch scheme {
	case "mqtts", "ssl", "tls", "wss":
		return true
	}
	return false
}

func (c *Client) subscribe(ctx context.Context, cm *autopaho.ConnectionManager) {
	if _, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: c.cfg.SensorTopic, QoS: byte(c.cfg.QoS)},
		},
	}); err != nil {
		c.logger.Error("mqtt subscribe failed", "topic", c.cfg.SensorTopic, "error", err)
		return
	}
	c.logger.Info("mqtt subscribed", "topic", c.cfg.SensorTopic, "qos", c.cfg.QoS)
}

// dispatch queues a message for the worker without blocking the paho
// receive loop. A full queue, or a stopped client, drops the message.
func (c *Client) dispatch(topic string, payload []byte) {
	c.logger.Log(context.Background(), config.LevelTrace, "mqtt message received",
		"topic", topic, "payload", string(payload))
	if c.handler == nil {
		return
	}
	c.workerOnce.Do(func() { go c.work() })

	ctx := c.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	// paho may reuse the packet buffer after the callback returns.
	msg := inbound{ctx: ctx, topic: topic, payload: append([]byte(nil), payload...)}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		c.logger.Debug("mqtt message after stop dropped", "topic", topic)
		return
	}
	select {
	case c.queue <- msg:
	default:
		c.dropped++
		c.logger.Warn("mqtt handler queue full, message dropped",
			"topic", topic, "queue_size", QueueSize, "dropped_total", c.dropped)
	}
}

// work runs queued messages through the handler in arrival order until
// the queue is closed by [Client.Stop].
func (c *Client) work() {
	defer close(c.workerDone)
	for msg := range c.queue {
		c.handler(msg.ctx, msg.topic, msg.payload)
	}
}

// ErrNotStarted is returned by operations that need a connection
// manager before [Client.Start] has been called.
var ErrNotStarted = errors.New("mqtt client not started")

// Publish sends payload to topic at the configured QoS, not retained.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if c.cm == nil {
		return ErrNotStarted
	}
	if _, err := c.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     byte(c.cfg.QoS),
	}); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	c.logger.Log(ctx, config.LevelTrace, "mqtt message published", "topic", topic, "payload", string(payload))
	return nil
}

// AwaitConnection blocks until the broker connection is established
// or ctx expires.
func (c *Client) AwaitConnection(ctx context.Context) error {
	if c.cm == nil {
		return ErrNotStarted
	}
	return c.cm.AwaitConnection(ctx)
}

// Stop stops accepting messages, waits for the worker to finish the
// queued ones, then disconnects. The provided context bounds both.
// Stop must be called at most once.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.stopped = true
	close(c.queue)
	c.mu.Unlock()

	// Start the worker if nothing was ever dispatched so workerDone closes.
	c.workerOnce.Do(func() { go c.work() })
	select {
	case <-c.workerDone:
	case <-ctx.Done():
		c.logger.Warn("mqtt stopping with handlers still running")
	}

	if c.cm == nil {
		return nil
	}
	defer c.cmCancel()
	if err := c.cm.Disconnect(ctx); err != nil {
		return fmt.Errorf("mqtt disconnect: %w", err)
	}
	c.logger.Info("mqtt disconnected")
	return nil
}
