package websocket

import "time"

const (
	TypeMessageSent = "message:sent"
	TypeChatRead    = "chat:read"
	TypeError       = "error"
)

type OutgoingFrame struct {
	Type      string `json:"type"`
	RequestId string `json:"requestId,omitempty"`
	Data      any    `json:"data"`
}

type ReadAck struct {
	ChatId     string     `json:"chatId"`
	LastReadAt *time.Time `json:"lastReadAt"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
