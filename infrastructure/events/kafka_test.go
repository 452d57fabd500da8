package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"medichat/internal/entity"

	k "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	written []k.Message
	closed  bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...k.Message) error {
	w.written = append(w.written, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaNotifier_PublishesMetadataOnly(t *testing.T) {
	w := &fakeWriter{}
	n := &KafkaNotifier{w: w}
	createdAt := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	err := n.NotifyMessage(context.Background(), entity.MessageCreatedEvent{
		Recipients: []string{"a", "b"},
		Message: entity.MessageDto{
			Id: "m1", ChatId: "c1", SenderId: "a", Text: "patient details", CreatedAt: createdAt,
		},
	})
	require.NoError(t, err)
	require.Len(t, w.written, 1)

	msg := w.written[0]
	assert.Equal(t, "c1", string(msg.Key))
	assert.NotContains(t, string(msg.Value), "patient details")

	var event MessageCreated
	require.NoError(t, json.Unmarshal(msg.Value, &event))
	assert.Equal(t, TypeMessageCreated, event.Type)
	assert.Equal(t, "m1", event.MessageId)
	assert.Equal(t, []string{"a", "b"}, event.Recipients)
	assert.True(t, createdAt.Equal(event.CreatedAt))

	require.NoError(t, n.Close())
	assert.True(t, w.closed)
}

func TestSplitBrokers(t *testing.T) {
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, splitBrokers(" k1:9092, ,k2:9092"))
	assert.Nil(t, splitBrokers(""))
}
