package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/elskow/portal/internal/config"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaNotifier_Notify(t *testing.T) {
	w := &fakeWriter{}
	n := newKafkaNotifier(w, "portal-test", 0, zap.NewNop())

	err := n.Notify(context.Background(), Message{
		Kind:       KindRequestApproved,
		Recipients: []string{"a@b.com"},
		Subject:    "req-1",
		Data:       map[string]interface{}{"name": "Ada"},
	})
	require.NoError(t, err)
	require.Len(t, w.messages, 1)

	m := w.messages[0]
	assert.Equal(t, "req-1", string(m.Key))

	var event CloudEvent
	require.NoError(t, json.Unmarshal(m.Value, &event))
	assert.Equal(t, "portal-test", event.Source)
	assert.Equal(t, string(KindRequestApproved), event.Type)
	assert.Equal(t, "1.0", event.SpecVersion)
	assert.NotEmpty(t, event.ID)

	var payload Message
	require.NoError(t, json.Unmarshal(event.Data, &payload))
	assert.Equal(t, []string{"a@b.com"}, payload.Recipients)
	assert.Equal(t, "Ada", payload.Data["name"])

	headers := map[string]string{}
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, event.ID, headers["ce_id"])
	assert.Equal(t, string(KindRequestApproved), headers["ce_type"])

	require.NoError(t, n.Close())
	assert.True(t, w.closed)
}

func TestKafkaNotifier_Errors(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker unavailable")}
	n := newKafkaNotifier(w, "portal", 0, zap.NewNop())

	err := n.Notify(context.Background(), Message{Kind: KindRequestAlert, Recipients: []string{"ops@b.com"}})
	assert.ErrorContains(t, err, "broker unavailable")

	err = n.Notify(context.Background(), Message{Kind: KindRequestAlert})
	assert.ErrorIs(t, err, ErrNoRecipients)
}

func TestNewKafkaNotifier_Config(t *testing.T) {
	_, err := NewKafkaNotifier(config.KafkaConfig{Topic: "t"}, "portal", zap.NewNop())
	assert.Error(t, err)

	_, err = NewKafkaNotifier(config.KafkaConfig{Brokers: []string{"localhost:9092"}}, "portal", zap.NewNop())
	assert.Error(t, err)

	n, err := NewKafkaNotifier(config.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "t"}, "portal", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, defaultWriteTimeout, n.writeTimeout)
	assert.NoError(t, n.Close())
}

func TestLogNotifier_RedactsSecrets(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := NewLogNotifier(zap.New(core))

	err := n.Notify(context.Background(), Message{
		Kind:       KindRequestApproved,
		Recipients: []string{"a@b.com"},
		Data:       map[string]interface{}{"temp_password": "s3cret!Pass#1", "name": "Ada"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, logs.Len())

	data := logs.All()[0].ContextMap()["data"].(map[string]interface{})
	assert.Equal(t, "[REDACTED]", data["temp_password"])
	assert.Equal(t, "Ada", data["name"])

	assert.ErrorIs(t, n.Notify(context.Background(), Message{Kind: KindRequestAlert}), ErrNoRecipients)
}
