package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"medichat/internal/entity"

	k "github.com/segmentio/kafka-go"
)

const TypeMessageCreated = "message.created"

// MessageCreated is the record published for every stored message. It
// carries ids and metadata only, never the message text.
type MessageCreated struct {
	Type       string    `json:"type"`
	MessageId  string    `json:"messageId"`
	ChatId     string    `json:"chatId"`
	SenderId   string    `json:"senderId"`
	Recipients []string  `json:"recipients"`
	CreatedAt  time.Time `json:"createdAt"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...k.Message) error
	Close() error
}

// KafkaNotifier publishes message.created events keyed by chat id, so the
// events of one chat stay ordered within a partition.
type KafkaNotifier struct {
	w messageWriter
}

func NewKafkaNotifier(brokers, topic string) *KafkaNotifier {
	w := &k.Writer{
		Addr:         k.TCP(splitBrokers(brokers)...),
		Topic:        topic,
		Balancer:     &k.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: k.RequireOne,
	}
	return &KafkaNotifier{w: w}
}

func (n *KafkaNotifier) Name() string { return "kafka" }

func (n *KafkaNotifier) NotifyMessage(ctx context.Context, event entity.MessageCreatedEvent) error {
	value, err := json.Marshal(MessageCreated{
		Type:       TypeMessageCreated,
		MessageId:  event.Message.Id,
		ChatId:     event.Message.ChatId,
		SenderId:   event.Message.SenderId,
		Recipients: event.Recipients,
		CreatedAt:  event.Message.CreatedAt,
	})
	if err != nil {
		return err
	}
	return n.w.WriteMessages(ctx, k.Message{
		Key:   []byte(event.Message.ChatId),
		Value: value,
		Time:  event.Message.CreatedAt,
	})
}

func (n *KafkaNotifier) Close() error { return n.w.Close() }

func splitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
