package api

import (
	"context"

	"github.com/iudanet/collabsync/pkg/api"
)

//go:generate moq -out client_mock.go . ClientAPI

// ClientAPI определяет интерфейс HTTP клиента сервера сохранения.
// Используется координатором сохранения; мок — в тестах координатора.
type ClientAPI interface {
	// ConflictCheck проверяет расхождение версии/контрольной суммы
	// с последним серверным сохранением
	ConflictCheck(ctx context.Context, contentID string, req api.ConflictCheckRequest) (*api.ConflictCheckResponse, error)

	// Autosave сохраняет содержимое на сервере
	Autosave(ctx context.Context, contentID string, req api.AutosaveRequest) (*api.AutosaveResponse, error)
}

// Проверка соответствия интерфейсу на этапе компиляции
var _ ClientAPI = (*Client)(nil)
