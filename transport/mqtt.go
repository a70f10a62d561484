package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
)

var (
	ErrInvalidBrokerURL = errors.New("invalid broker address: it must start with tcp:// or ssl://")
	ErrNotConnected     = errors.New("not connected to broker")
)

// MessageHandler receives messages for one subscribed topic. Paho delivers
// publishes from a single goroutine, so a handler sees its topic's
// messages one at a time, in broker order.
type MessageHandler func(topic string, payload []byte)

// Options configures an MQTTClient.
type Options struct {
	URL            string
	Username       string
	Password       string
	ConnectTimeout time.Duration
	KeepAlive      uint16
	QoS            byte
}

// Status is the connectivity state reported to users.
type Status struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
	ClientID  string `json:"client_id,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// MQTTClient is a thin paho wrapper exposing subscribe/publish by topic.
// It does not reconnect on its own; callers reconnect explicitly. Handlers
// are kept across a lost connection and dropped only by Disconnect.
type MQTTClient struct {
	opts   Options
	logger *slog.Logger

	mu        sync.RWMutex
	client    *paho.Client
	clientID  string
	connected bool
	lastErr   error
	handlers  map[string]MessageHandler

	// gen identifies the current connection; callbacks from older ones are ignored.
	gen uint64
}

func NewMQTTClient(opts Options, logger *slog.Logger) *MQTTClient {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.KeepAlive == 0 {
		opts.KeepAlive = 30
	}
	return &MQTTClient{
		opts:     opts,
		logger:   logger,
		handlers: make(map[string]MessageHandler),
	}
}

// ParseBrokerURL validates a tcp:// or ssl:// broker address and fills in
// the default port for the scheme.
func ParseBrokerURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBrokerURL, err)
	}
	switch u.Scheme {
	case "tcp":
		if u.Port() == "" {
			u.Host = net.JoinHostPort(u.Hostname(), "1883")
		}
	case "ssl":
		if u.Port() == "" {
			u.Host = net.JoinHostPort(u.Hostname(), "8883")
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidBrokerURL, raw)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host in %q", ErrInvalidBrokerURL, raw)
	}
	return u, nil
}

// Connect dials the broker with a clean session. It is a no-op when the
// client is already connected. Subscriptions that outlived a lost
// connection are re-established on the new one.
func (c *MQTTClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}

	err := c.connect(ctx)
	c.lastErr = err
	if err != nil {
		c.mu.Unlock()
		c.logger.Error("failed to connect to broker", "broker", c.opts.URL, "error", err)
		return err
	}
	c.connected = true
	client, clientID := c.client, c.clientID
	filters := make([]string, 0, len(c.handlers))
	for filter := range c.handlers {
		filters = append(filters, filter)
	}
	c.mu.Unlock()

	c.logger.Info("connected to broker", "broker", c.opts.URL, "client_id", clientID)

	// SUBACKs are read by paho's receive loop, which also calls route, so
	// the lock must not be held here.
	for _, filter := range filters {
		if err := c.subscribe(ctx, client, filter); err != nil {
			c.logger.Warn("resubscribe failed", "topic", filter, "error", err)
			continue
		}
		c.logger.Info("resubscribed", "topic", filter)
	}
	return nil
}

func (c *MQTTClient) connect(ctx context.Context) error {
	u, err := ParseBrokerURL(c.opts.URL)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	var conn net.Conn
	if u.Scheme == "ssl" {
		d := &tls.Dialer{Config: &tls.Config{ServerName: u.Hostname(), MinVersion: tls.VersionTLS12}}
		conn, err = d.DialContext(ctx, "tcp", u.Host)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", u.Host)
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", u.Host, err)
	}

	c.gen++
	gen := c.gen
	c.clientID = "accel-monitor-" + uuid.NewString()
	client := paho.NewClient(paho.ClientConfig{
		ClientID: c.clientID,
		Conn:     conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			c.route,
		},
		OnClientError: func(err error) {
			c.markLost(gen, err)
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			c.markLost(gen, fmt.Errorf("server disconnected: reason code %d", d.ReasonCode))
		},
	})

	cp := &paho.Connect{
		ClientID:   c.clientID,
		KeepAlive:  c.opts.KeepAlive,
		CleanStart: true,
	}
	if c.opts.Username != "" {
		cp.Username = c.opts.Username
		cp.UsernameFlag = true
	}
	if c.opts.Password != "" {
		cp.Password = []byte(c.opts.Password)
		cp.PasswordFlag = true
	}

	ack, err := client.Connect(ctx, cp)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("mqtt connect: %w", err)
	}
	if ack.ReasonCode >= 0x80 {
		_ = conn.Close()
		return fmt.Errorf("mqtt connect refused: reason code %d", ack.ReasonCode)
	}

	c.client = client
	return nil
}

// Disconnect closes the connection and forgets all subscriptions.
func (c *MQTTClient) Disconnect() error {
	c.mu.Lock()

	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	client := c.client
	c.connected = false
	c.client = nil
	c.gen++
	clear(c.handlers)
	c.mu.Unlock()

	err := client.Disconnect(&paho.Disconnect{ReasonCode: 0})
	c.logger.Info("disconnected from broker", "broker", c.opts.URL)
	return err
}

func (c *MQTTClient) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	client := c.client
	c.handlers[topic] = handler
	c.mu.Unlock()

	if err := c.subscribe(ctx, client, topic); err != nil {
		c.mu.Lock()
		delete(c.handlers, topic)
		c.mu.Unlock()
		return err
	}

	c.logger.Info("subscribed", "topic", topic)
	return nil
}

func (c *MQTTClient) subscribe(ctx context.Context, client *paho.Client, topic string) error {
	suback, err := client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: c.opts.QoS}},
	})
	if err == nil && len(suback.Reasons) > 0 && suback.Reasons[0] >= 0x80 {
		err = fmt.Errorf("subscription to %s refused: reason code %d", topic, suback.Reasons[0])
	}
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

func (c *MQTTClient) Unsubscribe(ctx context.Context, topic string) error {
	c.mu.Lock()
	delete(c.handlers, topic)
	connected, client := c.connected, c.client
	c.mu.Unlock()

	if !connected {
		return nil
	}
	if _, err := client.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{topic}}); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", topic, err)
	}
	return nil
}

func (c *MQTTClient) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.RLock()
	connected, client := c.connected, c.client
	c.mu.RUnlock()

	if !connected {
		return ErrNotConnected
	}
	if _, err := client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     c.opts.QoS,
		Payload: payload,
	}); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *MQTTClient) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Status{Connected: c.connected, Broker: c.opts.URL}
	if c.connected {
		s.ClientID = c.clientID
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

func (c *MQTTClient) route(pr paho.PublishReceived) (bool, error) {
	topic := pr.Packet.Topic

	c.mu.RLock()
	handler, ok := c.handlers[topic]
	if !ok {
		for filter, h := range c.handlers {
			if MatchTopic(filter, topic) {
				handler, ok = h, true
				break
			}
		}
	}
	c.mu.RUnlock()

	if !ok {
		c.logger.Debug("no handler for topic", "topic", topic)
		return false, nil
	}
	handler(topic, pr.Packet.Payload)
	return true, nil
}

func (c *MQTTClient) markLost(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || !c.connected {
		return
	}
	c.connected = false
	c.client = nil
	c.lastErr = err
	c.logger.Error("broker connection lost", "broker", c.opts.URL, "error", err)
}
