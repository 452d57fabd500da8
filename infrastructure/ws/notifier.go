package ws

import (
	"context"
	"encoding/json"

	"medichat/internal/entity"
)

const EventMessageNew = "message:new"

type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Notifier pushes new messages to the connected participants.
type Notifier struct {
	hub IHub
}

func NewNotifier(hub IHub) *Notifier {
	return &Notifier{hub: hub}
}

func (n *Notifier) Name() string { return "websocket" }

func (n *Notifier) NotifyMessage(ctx context.Context, event entity.MessageCreatedEvent) error {
	frame, err := json.Marshal(Envelope{Type: EventMessageNew, Data: event.Message})
	if err != nil {
		return err
	}
	for _, userId := range event.Recipients {
		n.hub.SendToClient(userId, frame)
	}
	return nil
}
