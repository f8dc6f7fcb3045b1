// Package hub рассылает события коллаборативной сессии участникам
// комнаты. Комната создается на каждый contentID; при наличии Redis
// события дополнительно публикуются в pub/sub канал, что позволяет
// нескольким экземплярам сервера обслуживать одну комнату.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/iudanet/collabsync/pkg/api"
)

// subscriberBuffer размер буфера событий подписчика. Медленный
// подписчик теряет события, а не блокирует рассылку.
const subscriberBuffer = 64

// Subscriber представляет одно websocket соединение в комнате.
type Subscriber struct {
	UserID string
	events chan api.Event

	mu sync.Mutex
	// announce — последнее user-join событие подписчика; воспроизводится
	// для участников, подключившихся позже
	announce *api.Event
}

// Events возвращает канал событий для доставки подписчику.
func (s *Subscriber) Events() <-chan api.Event {
	return s.events
}

func (s *Subscriber) setAnnounce(ev api.Event) {
	s.mu.Lock()
	s.announce = &ev
	s.mu.Unlock()
}

func (s *Subscriber) announcement() *api.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.announce
}

// room хранит локальных подписчиков одного contentID
type room struct {
	subs   map[*Subscriber]struct{}
	pubsub *redis.PubSub
}

// envelope оборачивает событие для Redis: origin позволяет экземпляру
// отбросить собственные публикации.
type envelope struct {
	Origin string    `json:"origin"`
	Event  api.Event `json:"event"`
}

// Hub управляет комнатами коллаборативных сессий.
// При rdb=nil работает в локальном режиме (один экземпляр сервера).
type Hub struct {
	id     string
	rdb    *redis.Client
	logger *slog.Logger

	mu    sync.Mutex
	rooms map[string]*room
}

// New создает hub. rdb может быть nil, тогда рассылка остается
// в пределах одного процесса.
func New(rdb *redis.Client, logger *slog.Logger) *Hub {
	return &Hub{
		id:     uuid.New().String(),
		rdb:    rdb,
		logger: logger,
		rooms:  make(map[string]*room),
	}
}

// Join регистрирует подписчика в комнате контента.
// Первый подписчик комнаты открывает Redis подписку.
func (h *Hub) Join(ctx context.Context, contentID, userID string) *Subscriber {
	sub := &Subscriber{
		UserID: userID,
		events: make(chan api.Event, subscriberBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[contentID]
	if !ok {
		r = &room{subs: make(map[*Subscriber]struct{})}
		h.rooms[contentID] = r

		if h.rdb != nil {
			r.pubsub = h.rdb.Subscribe(ctx, channelName(contentID))
			go h.relayLoop(contentID, r.pubsub)
		}

		h.logger.Info("Room opened", "content_id", contentID)
	}
	// Поздний участник получает объявления тех, кто уже в комнате
	for other := range r.subs {
		if a := other.announcement(); a != nil {
			select {
			case sub.events <- *a:
			default:
			}
		}
	}
	r.subs[sub] = struct{}{}

	return sub
}

// Leave удаляет подписчика из комнаты. Последний подписчик
// закрывает комнату и Redis подписку.
func (h *Hub) Leave(contentID string, sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[contentID]
	if !ok {
		return
	}

	delete(r.subs, sub)
	if len(r.subs) == 0 {
		if r.pubsub != nil {
			_ = r.pubsub.Close()
		}
		delete(h.rooms, contentID)
		h.logger.Info("Room closed", "content_id", contentID)
	}
}

// Broadcast рассылает событие всем подписчикам комнаты, кроме
// отправителя, и публикует его другим экземплярам сервера.
func (h *Hub) Broadcast(ctx context.Context, contentID string, ev api.Event, from *Subscriber) error {
	if ev.Type == api.EventUserJoin && from != nil {
		from.setAnnounce(ev)
	}

	h.deliverLocal(contentID, ev, from)

	if h.rdb == nil {
		return nil
	}

	payload, err := json.Marshal(envelope{Origin: h.id, Event: ev})
	if err != nil {
		return fmt.Errorf("failed to marshal event envelope: %w", err)
	}

	if err := h.rdb.Publish(ctx, channelName(contentID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// relayLoop доставляет события из Redis локальным подписчикам комнаты.
func (h *Hub) relayLoop(contentID string, pubsub *redis.PubSub) {
	for msg := range pubsub.Channel() {
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			h.logger.Warn("Dropping malformed pub/sub message",
				"content_id", contentID,
				"error", err)
			continue
		}

		// Собственные публикации уже доставлены локально
		if env.Origin == h.id {
			continue
		}

		h.deliverLocal(contentID, env.Event, nil)
	}
}

// deliverLocal рассылает событие локальным подписчикам комнаты.
func (h *Hub) deliverLocal(contentID string, ev api.Event, from *Subscriber) {
	h.mu.Lock()
	r, ok := h.rooms[contentID]
	if !ok {
		h.mu.Unlock()
		return
	}
	subs := make([]*Subscriber, 0, len(r.subs))
	for sub := range r.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		if sub == from {
			continue
		}
		select {
		case sub.events <- ev:
		default:
			h.logger.Warn("Subscriber buffer full, dropping event",
				"content_id", contentID,
				"user_id", sub.UserID,
				"type", ev.Type)
		}
	}
}

func channelName(contentID string) string {
	return "collab:" + contentID
}
