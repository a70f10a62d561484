package live

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"accel-gap-monitor/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	data, err := encode("snapshot", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"snapshot","payload":[]}`, string(data))

	data, err = encode("points", []models.MagnitudePoint{{TimestampMillis: 100, Magnitude: 1.5}})
	require.NoError(t, err)

	var msg message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "points", msg.Type)
	assert.Equal(t, []models.MagnitudePoint{{TimestampMillis: 100, Magnitude: 1.5}}, msg.Payload)
}

func TestBroadcastAfterStopDoesNotBlock(t *testing.T) {
	h := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Run(ctx)
	}()
	cancel()
	<-done

	for i := 0; i < 200; i++ {
		h.BroadcastPoints([]models.MagnitudePoint{{TimestampMillis: int64(i)}})
	}
	assert.False(t, h.add(&Client{}))
}
