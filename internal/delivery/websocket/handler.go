package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"medichat/infrastructure/ws"
	"medichat/internal/entity"
	"medichat/internal/usecase"
	"medichat/pkg/apperror"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type WebsocketHandler struct {
	hub       ws.IHub
	messageUc usecase.MessageUsecase
	chatUc    usecase.ChatUsecase
	upgrader  websocket.Upgrader
}

func NewWebsocketHandler(hub ws.IHub, messageUc usecase.MessageUsecase, chatUc usecase.ChatUsecase, allowedOrigin string) *WebsocketHandler {
	return &WebsocketHandler{
		hub:       hub,
		messageUc: messageUc,
		chatUc:    chatUc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowedOrigin == "*" || origin == allowedOrigin
			},
		},
	}
}

// HandleWebSocket upgrades an authenticated request and serves the
// connection until it closes.
func (h *WebsocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request, actor entity.TokenClaims) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("userId", actor.UserId).Msg("websocket upgrade failed")
		return
	}

	client := ws.NewClient(actor.UserId, h.hub, conn)
	h.hub.RegisterClient(client)

	ctx := r.Context()
	go client.WritePump()
	client.ReadPump(func(data []byte) {
		h.handleFrame(ctx, actor, data)
	})
}

func (h *WebsocketHandler) handleFrame(ctx context.Context, actor entity.TokenClaims, data []byte) {
	var frame IncomingFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		h.reply(actor.UserId, "", TypeError, ErrorBody{Code: string(apperror.CodeValidation), Message: "malformed frame"})
		return
	}

	switch frame.Type {
	case TypeSendMessage:
		message, err := h.messageUc.SendMessage(ctx, frame.ChatId, actor.UserId, frame.Text)
		if err != nil {
			h.replyError(actor.UserId, frame.RequestId, err)
			return
		}
		h.reply(actor.UserId, frame.RequestId, TypeMessageSent, message)

	case TypeMarkRead:
		lastReadAt, err := h.chatUc.MarkRead(ctx, actor, frame.ChatId)
		if err != nil {
			h.replyError(actor.UserId, frame.RequestId, err)
			return
		}
		h.reply(actor.UserId, frame.RequestId, TypeChatRead, ReadAck{ChatId: frame.ChatId, LastReadAt: lastReadAt})

	default:
		h.reply(actor.UserId, frame.RequestId, TypeError, ErrorBody{Code: string(apperror.CodeValidation), Message: "unknown frame type"})
	}
}

func (h *WebsocketHandler) replyError(userId, requestId string, err error) {
	code := apperror.CodeOf(err)
	body := ErrorBody{Code: string(code), Message: "internal server error"}

	var appErr *apperror.Error
	if code != apperror.CodeInternal && code != apperror.CodeDecryption && errors.As(err, &appErr) {
		body.Message = appErr.Message
	} else {
		log.Error().Err(err).Str("userId", userId).Msg("websocket request failed")
	}
	h.reply(userId, requestId, TypeError, body)
}

func (h *WebsocketHandler) reply(userId, requestId, frameType string, data any) {
	payload, err := json.Marshal(OutgoingFrame{Type: frameType, RequestId: requestId, Data: data})
	if err != nil {
		log.Warn().Err(err).Msg("marshal websocket frame failed")
		return
	}
	h.hub.SendToClient(userId, payload)
}
