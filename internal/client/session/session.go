// Package session реализует контроллер коллаборативной сессии одного
// открытого документа: композицию транспорта, реестра присутствия, обмена
// шагами и координатора сохранения.
//
// Вся мутация состояния сессии выполняется одной горутиной цикла событий
// (сетевые события, таймер debounce, команды публичного API) — дисциплина
// одного писателя на документ. Таймеры принадлежат сессии и
// останавливаются детерминированно в Close.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iudanet/collabsync/internal/client/persist"
	"github.com/iudanet/collabsync/internal/client/presence"
	"github.com/iudanet/collabsync/internal/client/steps"
	"github.com/iudanet/collabsync/internal/client/transport"
	"github.com/iudanet/collabsync/internal/config"
	"github.com/iudanet/collabsync/internal/models"
	"github.com/iudanet/collabsync/pkg/api"
)

// Status отображаемый статус сессии для UI.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusSaving   Status = "saving"
	StatusSaved    Status = "saved"
	StatusConflict Status = "conflict"
	StatusError    Status = "error"
)

// Callbacks уведомления для слоя UI. Любой callback может быть nil.
// Вызываются из горутин сессии; обработчики не должны блокироваться.
type Callbacks struct {
	// OnStatus вызывается при смене статуса сохранения
	OnStatus func(status Status, err error)
	// OnRemoteStep вызывается после применения удаленного шага
	OnRemoteStep func(step *models.Step, version uint64)
	// OnPresence вызывается при изменении состава или состояния участников
	OnPresence func(participants []*models.Participant)
	// OnConflict вызывается при конфликте, требующем ручного разрешения
	OnConflict func(info *models.ConflictInfo)
}

// Session представляет коллаборативную сессию одного документа.
type Session struct {
	cfg       *config.Config
	contentID string
	local     *models.Participant
	logger    *slog.Logger

	channel     *transport.Channel
	registry    *presence.Registry
	exchange    *steps.Exchange
	coordinator *persist.Coordinator
	callbacks   Callbacks

	// content — текущий снимок содержимого; читается и пишется только
	// циклом событий и командами, выполняемыми в нем
	content models.Content

	commands chan func()
	debounce *time.Timer

	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

// Deps зависимости сессии.
type Deps struct {
	Channel     *transport.Channel
	Registry    *presence.Registry
	Exchange    *steps.Exchange
	Coordinator *persist.Coordinator
}

// New создает сессию документа contentID для локального участника.
func New(
	cfg *config.Config,
	contentID string,
	local *models.Participant,
	deps Deps,
	callbacks Callbacks,
	logger *slog.Logger,
) *Session {
	return &Session{
		cfg:         cfg,
		contentID:   contentID,
		local:       local,
		logger:      logger,
		channel:     deps.Channel,
		registry:    deps.Registry,
		exchange:    deps.Exchange,
		coordinator: deps.Coordinator,
		callbacks:   callbacks,
		content:     models.Content{},
		commands:    make(chan func(), 16),
		done:        make(chan struct{}),
	}
}

// NewParticipant создает локального участника сессии.
func NewParticipant(displayName, color string) *models.Participant {
	return &models.Participant{
		ID:          uuid.New().String(),
		DisplayName: displayName,
		Color:       color,
		LastSeen:    time.Now().UTC(),
		Online:      true,
	}
}

// Start подключает транспорт, восстанавливает журнал и запускает цикл
// событий. Ошибка подключения не фатальна для сессии: правки продолжают
// накапливаться локально, канал остается в терминальном состоянии failed
// до следующего Start.
func (s *Session) Start(ctx context.Context) error {
	if err := s.exchange.Restore(ctx); err != nil {
		return fmt.Errorf("failed to restore step journal: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go s.loop(runCtx)

	if err := s.channel.Connect(ctx); err != nil {
		// Транспортные сбои деградируют сессию, но не роняют ее
		s.logger.Error("Transport connect failed, session degraded to offline",
			"content_id", s.contentID,
			"error", err)
		s.notifyStatus(StatusError, err)
		return nil
	}

	return nil
}

// Close завершает сессию: объявляет выход, закрывает канал и
// останавливает все таймеры.
func (s *Session) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	err := s.channel.Disconnect()
	s.wg.Wait()
	return err
}

// Done закрывается после остановки цикла событий.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Edit применяет локальную правку: шаг уходит в канал немедленно,
// снимок содержимого обновляется, сохранение откладывается до тихого
// периода DebounceDelay.
func (s *Session) Edit(ctx context.Context, payload json.RawMessage, snapshot models.Content) error {
	if _, err := s.exchange.SubmitLocal(ctx, payload); err != nil {
		return fmt.Errorf("failed to submit local step: %w", err)
	}

	s.enqueue(func() {
		s.content = snapshot.Clone()
		s.scheduleSave()
	})
	return nil
}

// MoveCursor транслирует позицию курсора локального участника.
func (s *Session) MoveCursor(position int) error {
	ev, err := api.NewEvent(api.EventCursor, s.local.ID, time.Now().UnixMilli(),
		api.CursorData{Position: position})
	if err != nil {
		return err
	}
	if err := s.channel.Send(ev); err != nil && !errors.Is(err, transport.ErrNotConnected) {
		return fmt.Errorf("failed to broadcast cursor: %w", err)
	}
	return nil
}

// Select транслирует выделение локального участника.
func (s *Session) Select(anchor, head int) error {
	ev, err := api.NewEvent(api.EventSelection, s.local.ID, time.Now().UnixMilli(),
		api.SelectionData{Anchor: anchor, Head: head})
	if err != nil {
		return err
	}
	if err := s.channel.Send(ev); err != nil && !errors.Is(err, transport.ErrNotConnected) {
		return fmt.Errorf("failed to broadcast selection: %w", err)
	}
	return nil
}

// SaveNow немедленно запускает сохранение, не дожидаясь debounce.
func (s *Session) SaveNow() {
	s.enqueue(func() {
		if s.debounce != nil {
			s.debounce.Stop()
		}
		s.startSave()
	})
}

// Participants возвращает участников сессии.
func (s *Session) Participants(onlineOnly bool) []*models.Participant {
	return s.registry.List(onlineOnly)
}

// Version возвращает текущую версию документа.
func (s *Session) Version() uint64 {
	return s.exchange.Version()
}

// enqueue передает команду в цикл событий.
func (s *Session) enqueue(cmd func()) {
	select {
	case s.commands <- cmd:
	case <-s.done:
	}
}

// loop — единственная горутина, мутирующая состояние сессии.
func (s *Session) loop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.done)
	defer func() {
		if s.debounce != nil {
			s.debounce.Stop()
		}
	}()

	for {
		select {
		case ev := <-s.channel.Events():
			s.handleEvent(ctx, ev)

		case err := <-s.channel.Errors():
			// Транспорт исчерпал попытки: сессия деградирует, правки
			// сохраняются в буфере неподтвержденных
			s.logger.Error("Transport entered terminal state",
				"content_id", s.contentID,
				"error", err)
			s.notifyStatus(StatusError, err)

		case <-s.channel.Reconnected():
			// at-least-once: пересылаем все неподтвержденные шаги
			if err := s.exchange.Replay(ctx); err != nil {
				s.logger.Warn("Step replay failed", "error", err)
			}

		case cmd := <-s.commands:
			cmd()

		case <-ctx.Done():
			return
		}
	}
}

// handleEvent обрабатывает входящее событие канала.
// Switch по типам исчерпывающий; собственные события отбрасываются.
func (s *Session) handleEvent(ctx context.Context, ev api.Event) {
	// Echo suppression: собственные события возвращаются от сервера
	if ev.UserID == s.local.ID {
		return
	}

	ts := time.UnixMilli(ev.Timestamp).UTC()

	switch ev.Type {
	case api.EventStep:
		s.handleRemoteStep(ctx, ev, ts)

	case api.EventCursor:
		var data api.CursorData
		if err := ev.DecodeData(&data); err != nil {
			s.logger.Warn("Malformed cursor event", "user_id", ev.UserID, "error", err)
			return
		}
		s.registry.SetCursor(ev.UserID, models.CursorState(data), ts)
		s.notifyPresence()

	case api.EventSelection:
		var data api.SelectionData
		if err := ev.DecodeData(&data); err != nil {
			s.logger.Warn("Malformed selection event", "user_id", ev.UserID, "error", err)
			return
		}
		s.registry.SetSelection(ev.UserID, models.SelectionState(data), ts)
		s.notifyPresence()

	case api.EventUserJoin:
		var data api.JoinData
		if err := ev.DecodeData(&data); err != nil {
			s.logger.Warn("Malformed join event", "user_id", ev.UserID, "error", err)
			return
		}
		s.registry.Upsert(&models.Participant{
			ID:          ev.UserID,
			DisplayName: data.DisplayName,
			Color:       data.Color,
			LastSeen:    ts,
			Online:      true,
		})
		s.logger.Info("Participant joined", "user_id", ev.UserID, "name", data.DisplayName)
		s.notifyPresence()

	case api.EventUserLeave:
		s.registry.Remove(ev.UserID)
		s.logger.Info("Participant left", "user_id", ev.UserID)
		s.notifyPresence()

	case api.EventHeartbeat:
		s.registry.Touch(ev.UserID, ts)
	}
}

// handleRemoteStep применяет удаленный шаг; перекос версий запускает
// сохранение с разрешением конфликта.
func (s *Session) handleRemoteStep(ctx context.Context, ev api.Event, ts time.Time) {
	var data api.StepData
	if err := ev.DecodeData(&data); err != nil {
		s.logger.Warn("Malformed step event", "user_id", ev.UserID, "error", err)
		return
	}

	step := &models.Step{
		ID:            data.StepID,
		OriginatorID:  ev.UserID,
		OriginVersion: data.OriginVersion,
		Payload:       data.Payload,
		CreatedAt:     ts,
	}

	result, err := s.exchange.ReceiveRemote(ctx, step)
	if err != nil {
		if errors.Is(err, steps.ErrVersionSkew) {
			// Триггер конфликта: расхождение отдаем резолверу через
			// конвейер сохранения
			s.logger.Warn("Version skew detected, forcing conflict-checked save",
				"content_id", s.contentID,
				"originator", ev.UserID,
				"error", err)
			s.startSave()
			return
		}
		s.logger.Warn("Rejected remote step",
			"step_id", step.ID,
			"originator", ev.UserID,
			"error", err)
		return
	}

	s.registry.Touch(ev.UserID, ts)
	if s.callbacks.OnRemoteStep != nil {
		s.callbacks.OnRemoteStep(result.Step, result.Version)
	}
}

// scheduleSave откладывает сохранение до тихого периода: каждый новый
// вызов сбрасывает таймер. Выполняется только в цикле событий.
func (s *Session) scheduleSave() {
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = time.AfterFunc(s.cfg.DebounceDelay, func() {
		s.enqueue(s.startSave)
	})
}

// startSave запускает конвейер сохранения. Снимок содержимого и версия
// фиксируются до ухода в сеть; сам координатор сериализует сохранения
// по contentID.
func (s *Session) startSave() {
	snapshot := s.content.Clone()
	versionAtSave := s.exchange.Version()

	s.notifyStatus(StatusSaving, nil)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		result := s.coordinator.Save(context.Background(), s.contentID, snapshot, s.local.ID, nil)
		switch {
		case result.Success:
			// Сохраненный снимок включает шаги с origin-версией до
			// versionAtSave; правки, внесенные во время сохранения,
			// остаются неподтвержденными
			if err := s.exchange.Confirm(context.Background(), versionAtSave); err != nil {
				s.logger.Warn("Failed to confirm journal steps", "error", err)
			}
			if result.Markers > 0 {
				// Слитый контент содержит маркеры — пользователь должен
				// разрешить их явно, молча не проглатываем
				s.notifyStatus(StatusConflict, nil)
				return
			}
			s.notifyStatus(StatusSaved, nil)

		case result.Conflict != nil:
			s.notifyStatus(StatusConflict, result.Err)
			if s.callbacks.OnConflict != nil {
				s.callbacks.OnConflict(result.Conflict)
			}

		default:
			s.notifyStatus(StatusError, result.Err)
		}
	}()
}

func (s *Session) notifyStatus(status Status, err error) {
	if s.callbacks.OnStatus != nil {
		s.callbacks.OnStatus(status, err)
	}
}

func (s *Session) notifyPresence() {
	if s.callbacks.OnPresence != nil {
		s.callbacks.OnPresence(s.registry.List(true))
	}
}
