package http

import (
	"net/http"

	wsDelivery "medichat/internal/delivery/websocket"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func MapHttpRoutes(r chi.Router, httpHandler *HttpHandler, websocketHandler *wsDelivery.WebsocketHandler, authMiddleware *AuthMiddleware) {
	r.Get("/healthz", Healthz)
	r.Handle("/metrics", promhttp.Handler())

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		if websocketHandler != nil {
			r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
				websocketHandler.HandleWebSocket(w, r, mustClaims(r))
			})
		}

		r.Route("/api", func(r chi.Router) {
			r.Route("/chats", func(r chi.Router) {
				r.Get("/", httpHandler.ListChats)
				r.Post("/", httpHandler.CreateDirectChat)
				r.Get("/groups", httpHandler.ListGroups)
				r.Post("/groups", httpHandler.CreateGroup)

				r.Route("/{chatId}", func(r chi.Router) {
					r.Patch("/", httpHandler.RenameGroup)
					r.Get("/messages", httpHandler.GetMessages)
					r.Post("/messages", httpHandler.SendMessage)
					r.Post("/read", httpHandler.MarkRead)
					r.Post("/members", httpHandler.AddMember)
					r.Delete("/members/{userId}", httpHandler.RemoveMember)
					r.Post("/leave", httpHandler.LeaveGroup)
					r.Post("/join-requests", httpHandler.RequestJoin)
					r.Post("/join-requests/{userId}", httpHandler.ResolveJoinRequest)
					r.Post("/block", httpHandler.BlockUser)
					r.Put("/notifications", httpHandler.SetNotifications)
				})
			})

			r.Get("/users/{id}", httpHandler.GetUser)

			r.Route("/admin", func(r chi.Router) {
				r.Use(RequireAdmin)
				r.Get("/chats/direct", httpHandler.ListDirectChatsForAdmin)
				r.Delete("/chats/{chatId}/blocks", httpHandler.ClearBlocks)
			})
		})
	})
}
