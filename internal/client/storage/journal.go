package storage

import (
	"context"

	"github.com/iudanet/collabsync/internal/models"
)

//go:generate moq -out journal_mock.go . StepJournal

// StepJournal определяет интерфейс журнала неподтвержденных шагов.
// Журнал обеспечивает at-least-once доставку локальных правок: шаг
// попадает в журнал до отправки и удаляется только после подтверждения,
// поэтому переживает и разрыв соединения, и перезапуск клиента.
type StepJournal interface {
	// AppendStep добавляет шаг в журнал документа в порядке создания
	AppendStep(ctx context.Context, contentID string, step *models.Step) error

	// Steps возвращает все неподтвержденные шаги документа в порядке добавления
	Steps(ctx context.Context, contentID string) ([]*models.Step, error)

	// ConfirmThrough удаляет шаги, вошедшие в подтвержденный снимок версии
	// version (origin-версия < version); более поздние шаги остаются
	ConfirmThrough(ctx context.Context, contentID string, version uint64) error

	// Clear удаляет все шаги документа
	Clear(ctx context.Context, contentID string) error
}
