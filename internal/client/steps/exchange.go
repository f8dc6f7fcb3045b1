// Package steps реализует обмен шагами редактирования: немедленную отправку
// локальных шагов, применение удаленных в порядке получения и ведение
// монотонной версии документа.
//
// Гарантии упорядочивания сознательно слабые: сохраняется только порядок
// шагов каждого отдельного автора. Глобальный порядок между авторами не
// определен — для него нужен центральный секвенсор или CRDT представление
// документа, что выходит за рамки этого ядра. Расхождение версий сверх
// допустимого перекоса трактуется как конфликт и передается резолверу.
package steps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"encoding/json"

	"github.com/google/uuid"

	"github.com/iudanet/collabsync/internal/client/storage"
	"github.com/iudanet/collabsync/internal/models"
)

var (
	// ErrVersionSkew означает, что origin-версия удаленного шага отстает от
	// шагов других авторов сильнее допустимого перекоса. Документ не изменен;
	// это триггер передачи управления резолверу конфликтов.
	ErrVersionSkew = errors.New("step version skew exceeds limit")

	// ErrStaleStep означает нарушение порядка шагов одного автора:
	// origin-версия не выше уже примененной от него.
	ErrStaleStep = errors.New("stale step from originator")
)

// Sender отправляет шаг в транспортный канал.
type Sender func(ctx context.Context, step *models.Step) error

// ApplyResult результат применения удаленного шага.
type ApplyResult struct {
	Step    *models.Step
	Version uint64 // версия документа после применения
}

// Exchange управляет репликацией шагов для одного документа.
// Версия документа увеличивается ровно на 1 на каждый примененный шаг,
// локальный или удаленный, и никогда не уменьшается.
type Exchange struct {
	contentID   string
	nodeID      string
	version     uint64
	unconfirmed []*models.Step
	lastOrigin  map[string]uint64 // map[originatorID]последняя origin-версия
	maxSkew     uint64
	sender      Sender
	journal     storage.StepJournal // nil — журнал отключен
	logger      *slog.Logger
	mu          sync.Mutex
}

// NewExchange создает обмен шагами для документа contentID.
// nodeID — идентификатор локального участника; journal может быть nil.
func NewExchange(
	contentID, nodeID string,
	maxSkew uint64,
	sender Sender,
	journal storage.StepJournal,
	logger *slog.Logger,
) *Exchange {
	return &Exchange{
		contentID:  contentID,
		nodeID:     nodeID,
		lastOrigin: make(map[string]uint64),
		maxSkew:    maxSkew,
		sender:     sender,
		journal:    journal,
		logger:     logger,
	}
}

// Restore загружает неподтвержденные шаги из журнала после перезапуска.
// Версия документа продвигается так, будто шаги были применены заново.
func (e *Exchange) Restore(ctx context.Context) error {
	if e.journal == nil {
		return nil
	}

	steps, err := e.journal.Steps(ctx, e.contentID)
	if err != nil {
		return fmt.Errorf("failed to restore journal: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, step := range steps {
		e.unconfirmed = append(e.unconfirmed, step)
		e.version++
		e.lastOrigin[step.OriginatorID] = step.OriginVersion
	}

	if len(steps) > 0 {
		e.logger.Info("Restored unconfirmed steps from journal",
			"content_id", e.contentID,
			"count", len(steps))
	}
	return nil
}

// SubmitLocal создает шаг из локальной правки, применяет его и немедленно
// отправляет в канал. Шаг остается в буфере неподтвержденных до явного
// Confirm, поэтому обрыв соединения не теряет правку (at-least-once).
func (e *Exchange) SubmitLocal(ctx context.Context, payload json.RawMessage) (*models.Step, error) {
	e.mu.Lock()

	step := &models.Step{
		ID:            uuid.New().String(),
		OriginatorID:  e.nodeID,
		OriginVersion: e.version,
		Payload:       payload,
		CreatedAt:     time.Now().UTC(),
	}

	e.unconfirmed = append(e.unconfirmed, step)
	e.version++
	e.lastOrigin[e.nodeID] = step.OriginVersion
	e.mu.Unlock()

	if e.journal != nil {
		if err := e.journal.AppendStep(ctx, e.contentID, step); err != nil {
			// Журнал — страховка на случай перезапуска; правка уже в памяти
			e.logger.Warn("Failed to journal step", "step_id", step.ID, "error", err)
		}
	}

	if e.sender != nil {
		if err := e.sender(ctx, step); err != nil {
			// Отправка не удалась (например, канал отключен).
			// Шаг остается неподтвержденным и будет переслан при реконнекте.
			e.logger.Warn("Failed to send step, will replay on reconnect",
				"step_id", step.ID, "error", err)
		}
	}

	return step.Clone(), nil
}

// ReceiveRemote применяет удаленный шаг в порядке получения.
// При нарушении порядка автора или превышении перекоса версий шаг
// отклоняется, документ не изменяется.
func (e *Exchange) ReceiveRemote(ctx context.Context, step *models.Step) (ApplyResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Порядок шагов одного автора строгий
	if last, seen := e.lastOrigin[step.OriginatorID]; seen && step.OriginVersion <= last {
		return ApplyResult{}, fmt.Errorf(
			"step %s origin version %d <= last %d: %w",
			step.ID, step.OriginVersion, last, ErrStaleStep)
	}

	// Перекос против шагов других авторов — триггер конфликта
	for originator, last := range e.lastOrigin {
		if originator == step.OriginatorID {
			continue
		}
		if last > step.OriginVersion && last-step.OriginVersion > e.maxSkew {
			return ApplyResult{}, fmt.Errorf(
				"step %s from %s is %d versions behind %s: %w",
				step.ID, step.OriginatorID, last-step.OriginVersion, originator, ErrVersionSkew)
		}
	}

	e.version++
	e.lastOrigin[step.OriginatorID] = step.OriginVersion

	return ApplyResult{Step: step.Clone(), Version: e.version}, nil
}

// Confirm отмечает шаги, вошедшие в подтвержденный снимок версии version,
// и удаляет их из буфера и журнала. Снимок версии V содержит шаги с
// origin-версиями 0..V-1; шаг с origin-версией V создан уже после снимка
// и остается неподтвержденным до следующего сохранения.
func (e *Exchange) Confirm(ctx context.Context, version uint64) error {
	e.mu.Lock()
	remaining := e.unconfirmed[:0]
	for _, step := range e.unconfirmed {
		if step.OriginVersion >= version {
			remaining = append(remaining, step)
		}
	}
	e.unconfirmed = remaining
	e.mu.Unlock()

	if e.journal != nil {
		if err := e.journal.ConfirmThrough(ctx, e.contentID, version); err != nil {
			return fmt.Errorf("failed to confirm journal steps: %w", err)
		}
	}
	return nil
}

// Unconfirmed возвращает копии неподтвержденных шагов в порядке создания.
// Используется для повторной отправки после реконнекта.
func (e *Exchange) Unconfirmed() []*models.Step {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := make([]*models.Step, 0, len(e.unconfirmed))
	for _, step := range e.unconfirmed {
		result = append(result, step.Clone())
	}
	return result
}

// Replay повторно отправляет все неподтвержденные шаги.
// Вызывается контроллером сессии после восстановления соединения.
func (e *Exchange) Replay(ctx context.Context) error {
	if e.sender == nil {
		return nil
	}

	steps := e.Unconfirmed()
	for _, step := range steps {
		if err := e.sender(ctx, step); err != nil {
			return fmt.Errorf("failed to replay step %s: %w", step.ID, err)
		}
	}

	if len(steps) > 0 {
		e.logger.Info("Replayed unconfirmed steps",
			"content_id", e.contentID,
			"count", len(steps))
	}
	return nil
}

// Version возвращает текущую версию документа.
func (e *Exchange) Version() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.version
}
