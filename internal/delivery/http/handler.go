package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"medichat/internal/entity"
	"medichat/internal/usecase"
	"medichat/pkg/apperror"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

type HttpHandler struct {
	chatUc    usecase.ChatUsecase
	messageUc usecase.MessageUsecase
	userUc    usecase.UserUsecase
}

func NewHttpHandler(chatUc usecase.ChatUsecase, messageUc usecase.MessageUsecase, userUc usecase.UserUsecase) *HttpHandler {
	return &HttpHandler{
		chatUc:    chatUc,
		messageUc: messageUc,
		userUc:    userUc,
	}
}

type Response struct {
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// Method Get /chats
func (h *HttpHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	actor := mustClaims(r)
	chats, err := h.chatUc.ListUserChats(r.Context(), actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Message: "success", Data: chats})
}

// Method Post /chats
func (h *HttpHandler) CreateDirectChat(w http.ResponseWriter, r *http.Request) {
	var req createDirectChatRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	chat, err := h.chatUc.GetOrCreateDirectChat(r.Context(), mustClaims(r), req.UserId)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Message: "success", Data: chat})
}

// Method Get /chats/groups
func (h *HttpHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.chatUc.ListGroups(r.Context(), mustClaims(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Message: "success", Data: groups})
}

// Method Post /chats/groups
func (h *HttpHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	chat, err := h.chatUc.CreateGroupChat(r.Context(), mustClaims(r), req.Title, req.ParticipantIds)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, Response{Message: "group created", Data: chat})
}

// Method Get /chats/{chatId}/messages
func (h *HttpHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	actor := mustClaims(r)
	messages, err := h.messageUc.GetMessagesForChat(r.Context(), chi.URLParam(r, "chatId"), actor.UserId)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Message: "success", Data: messages})
}

// Method Post /chats/{chatId}/messages
func (h *HttpHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	actor := mustClaims(r)
	message, err := h.messageUc.SendMessage(r.Context(), chi.URLParam(r, "chatId"), actor.UserId, req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, Response{Message: "message sent", Data: message})
}

// Method Post /chats/{chatId}/read
func (h *HttpHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	lastReadAt, err := h.chatUc.MarkRead(r.Context(), mustClaims(r), chi.URLParam(r, "chatId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Message: "success", Data: map[string]any{"lastReadAt": lastReadAt}})
}

// Method Patch /chats/{chatId}
func (h *HttpHandler) RenameGroup(w http.ResponseWriter, r *http.Request) {
	var req renameGroupRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	chat, err := h.chatUc.RenameGroup(r.Context(), mustClaims(r), chi.URLParam(r, "chatId"), req.Title)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Message: "success", Data: chat})
}

// Method Post /chats/{chatId}/members
func (h *HttpHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	var req addMemberRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	chat, err := h.chatUc.AddMember(r.Context(), mustClaims(r), chi.URLParam(r, "chatId"), req.UserId)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Message: "member added", Data: chat})
}

// Method Delete /chats/{chatId}/members/{userId}
func (h *HttpHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	chat, err := h.chatUc.RemoveMember(r.Context(), mustClaims(r), chi.URLParam(r, "chatId"), chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Message: "member removed", Data: chat})
}

// Method Post /chats/{chatId}/leave
func (h *HttpHandler) LeaveGroup(w http.ResponseWriter, r *http.Request) {
	if err := h.chatUc.LeaveGroup(r.Context(), mustClaims(r), chi.URLParam(r, "chatId")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Message: "left group"})
}

// Method Post /chats/{chatId}/join-requests
func (h *HttpHandler) RequestJoin(w http.ResponseWriter, r *http.Request) {
	if err := h.chatUc.RequestJoin(r.Context(), mustClaims(r), chi.URLParam(r, "chatId")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, Response{Message: "join request recorded"})
}

// Method Post /chats/{chatId}/join-requests/{userId}
func (h *HttpHandler) ResolveJoinRequest(w http.ResponseWriter, r *http.Request) {
	var req resolveJoinRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	chat, err := h.chatUc.ResolveJoinRequest(r.Context(), mustClaims(r), chi.URLParam(r, "chatId"), chi.URLParam(r, "userId"), *req.Approve)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Message: "success", Data: chat})
}

// Method Post /chats/{chatId}/block
func (h *HttpHandler) BlockUser(w http.ResponseWriter, r *http.Request) {
	chat, err := h.chatUc.BlockUser(r.Context(), mustClaims(r), chi.URLParam(r, "chatId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Message: "user blocked", Data: chat})
}

// Method Put /chats/{chatId}/notifications
func (h *HttpHandler) SetNotifications(w http.ResponseWriter, r *http.Request) {
	var req notificationsRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	chat, err := h.chatUc.SetNotifications(r.Context(), mustClaims(r), chi.URLParam(r, "chatId"), *req.Enabled)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Message: "success", Data: chat})
}

// Method Get /users/{id}
func (h *HttpHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.userUc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Message: "success", Data: user.Summary()})
}

// Method Get /admin/chats/direct
func (h *HttpHandler) ListDirectChatsForAdmin(w http.ResponseWriter, r *http.Request) {
	chats, err := h.chatUc.ListDirectChatsForAdmin(r.Context(), mustClaims(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Message: "success", Data: chats})
}

// Method Delete /admin/chats/{chatId}/blocks
func (h *HttpHandler) ClearBlocks(w http.ResponseWriter, r *http.Request) {
	chat, err := h.chatUc.ClearBlocks(r.Context(), mustClaims(r), chi.URLParam(r, "chatId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Message: "blocks cleared", Data: chat})
}

// Method Get /healthz
func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Message: "ok"})
}

func mustClaims(r *http.Request) entity.TokenClaims {
	claims, _ := ClaimsFromContext(r.Context())
	return claims
}

func writeJSON(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("encode response failed")
	}
}

func statusOf(code apperror.Code) int {
	switch code {
	case apperror.CodeValidation:
		return http.StatusBadRequest
	case apperror.CodeAuthorization:
		return http.StatusForbidden
	case apperror.CodeNotFound:
		return http.StatusNotFound
	case apperror.CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError hides the cause of server-side failures from the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperror.CodeOf(err)
	status := statusOf(code)

	message := "internal server error"
	var appErr *apperror.Error
	if status < http.StatusInternalServerError && errors.As(err, &appErr) {
		message = appErr.Message
	} else {
		log.Error().Err(err).
			Str("requestId", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Str("code", string(code)).
			Msg("request failed")
	}
	writeJSON(w, status, Response{Message: message, Data: map[string]string{"code": string(code)}})
}
