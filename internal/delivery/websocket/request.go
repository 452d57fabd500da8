package websocket

const (
	TypeSendMessage = "message:send"
	TypeMarkRead    = "chat:read"
)

// IncomingFrame is any client frame; fields unused by a type are ignored.
type IncomingFrame struct {
	Type      string `json:"type"`
	RequestId string `json:"requestId,omitempty"`
	ChatId    string `json:"chatId"`
	Text      string `json:"text,omitempty"`
}
