package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/iudanet/collabsync/internal/server/hub"
	"github.com/iudanet/collabsync/internal/server/middleware"
	"github.com/iudanet/collabsync/pkg/api"
)

// WSHandler обрабатывает websocket подключения коллаборативной сессии
type WSHandler struct {
	logger   *slog.Logger
	hub      *hub.Hub
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new websocket handler
func NewWSHandler(logger *slog.Logger, h *hub.Hub) *WSHandler {
	return &WSHandler{
		logger: logger,
		hub:    h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Сервер доступен из нескольких origin редакторов
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Serve обрабатывает GET /api/v1/content/{contentID}/ws
//
// Каждое соединение подписывается на комнату контента; входящие события
// ретранслируются остальным участникам комнаты. UserID события
// принудительно берется из токена, подделать авторство нельзя.
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	contentID := mux.Vars(r)["contentID"]

	userID, ok := middleware.UserIDFromContext(ctx)
	if !ok {
		h.logger.Error("User ID not found in context")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed",
			"content_id", contentID,
			"error", err)
		return
	}

	sub := h.hub.Join(ctx, contentID, userID)
	h.logger.Info("Participant connected",
		"content_id", contentID,
		"user_id", userID)

	// Цикл записи: события комнаты уходят в соединение
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sub.Events() {
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}()

	// Цикл чтения: события участника ретранслируются комнате
	for {
		var ev api.Event
		if err := conn.ReadJSON(&ev); err != nil {
			break
		}

		if !ev.Type.Valid() {
			h.logger.Warn("Dropping event of unknown type",
				"content_id", contentID,
				"user_id", userID,
				"type", ev.Type)
			continue
		}

		ev.UserID = userID
		if err := h.hub.Broadcast(ctx, contentID, ev, sub); err != nil {
			h.logger.Error("Broadcast failed",
				"content_id", contentID,
				"error", err)
		}
	}

	h.hub.Leave(contentID, sub)
	_ = conn.Close()
	<-done

	// При обрыве соединения остальные участники узнают об уходе
	leave, err := api.NewEvent(api.EventUserLeave, userID, time.Now().UnixMilli(), nil)
	if err == nil {
		if err := h.hub.Broadcast(ctx, contentID, leave, nil); err != nil {
			h.logger.Debug("Leave broadcast failed",
				"content_id", contentID,
				"error", err)
		}
	}

	h.logger.Info("Participant disconnected",
		"content_id", contentID,
		"user_id", userID)
}
