package analytics

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/sentinel/internal/testutil"
)

func TestNATSSink(t *testing.T) {
	_, nc, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	sink, err := NewNATSSink(nc, NATSConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, sink.Start(ctx))

	t.Run("Stream created", func(t *testing.T) {
		info, err := sink.js.StreamInfo("ANALYTICS")
		require.NoError(t, err)
		assert.Equal(t, []string{"analytics.>"}, info.Config.Subjects)
	})

	t.Run("Start is idempotent", func(t *testing.T) {
		require.NoError(t, sink.Start(ctx))
	})

	t.Run("LogEvent publishes envelope", func(t *testing.T) {
		err := sink.LogEvent(ctx, EventHealthCheckCompleted, map[string]interface{}{
			"status":        "healthy",
			"check_count":   5,
			"failed_checks": 0,
		})
		require.NoError(t, err)

		msgs, err := testutil.ConsumeMessages(sink.js, sink.Subject(EventHealthCheckCompleted), time.Second)
		require.NoError(t, err)
		require.Len(t, msgs, 1)

		var event Event
		require.NoError(t, json.Unmarshal(msgs[0], &event))
		assert.Equal(t, EventHealthCheckCompleted, event.Name)
		assert.Equal(t, "healthy", event.Params["status"])
		assert.Equal(t, float64(5), event.Params["check_count"])
		assert.False(t, event.Timestamp.IsZero())
	})

	t.Run("Ping", func(t *testing.T) {
		require.NoError(t, sink.Ping(ctx))
	})
}

func TestNATSSink_PingAfterClose(t *testing.T) {
	_, nc, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	sink, err := NewNATSSink(nc, NATSConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	nc.Close()
	assert.Error(t, sink.Ping(context.Background()))
}

func TestNewNATSSink_RequiresConnection(t *testing.T) {
	_, err := NewNATSSink(nil, NATSConfig{}, zaptest.NewLogger(t))
	assert.Error(t, err)
}
