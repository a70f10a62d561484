package transport

import (
	"fmt"
	"log/slog"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
)

// EmbeddedBroker is an in-process MQTT broker for local runs without an
// external broker. It accepts every client.
type EmbeddedBroker struct {
	server *mochi.Server
	addr   string
}

func StartEmbeddedBroker(addr string, logger *slog.Logger) (*EmbeddedBroker, error) {
	server := mochi.New(&mochi.Options{
		InlineClient: true,
		Logger:       logger,
	})

	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, fmt.Errorf("add auth hook: %w", err)
	}

	tcp := listeners.NewTCP(listeners.Config{
		Type:    "tcp",
		ID:      "embedded",
		Address: addr,
	})
	if err := server.AddListener(tcp); err != nil {
		return nil, fmt.Errorf("add listener %s: %w", addr, err)
	}

	if err := server.Serve(); err != nil {
		return nil, fmt.Errorf("serve: %w", err)
	}

	return &EmbeddedBroker{server: server, addr: addr}, nil
}

func (b *EmbeddedBroker) Addr() string {
	return b.addr
}

// Publish injects a message as if a device had sent it.
func (b *EmbeddedBroker) Publish(topic string, payload []byte) error {
	return b.server.Publish(topic, payload, false, 0)
}

func (b *EmbeddedBroker) Close() error {
	return b.server.Close()
}
