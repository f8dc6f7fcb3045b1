package api

import "encoding/json"

// ConflictCheckRequest представляет запрос проверки конфликта перед сохранением.
// Клиент передает версию и контрольную сумму состояния, которое собирается
// сохранить; сервер сравнивает их со своим последним сохранением и по
// переданному содержимому строит список расхождений по полям.
type ConflictCheckRequest struct {
	Content   json.RawMessage `json:"content"`
	Version   uint64          `json:"version"`
	Checksum  string          `json:"checksum"`
	Timestamp int64           `json:"timestamp"`
}

// ConflictDetail описывает одно расхождение между локальным и серверным
// состоянием. Kind: "content" | "metadata" | "structure".
type ConflictDetail struct {
	Path        string          `json:"path"`
	LocalValue  json.RawMessage `json:"local_value,omitempty"`
	RemoteValue json.RawMessage `json:"remote_value,omitempty"`
	Kind        string          `json:"kind"`
}

// ConflictPayload описывает конфликт целиком: серверное состояние
// и список расхождений по полям.
type ConflictPayload struct {
	RemoteVersion  uint64           `json:"remote_version"`
	RemoteChecksum string           `json:"remote_checksum"`
	RemoteAuthorID string           `json:"remote_author_id"`
	RemoteSavedAt  int64            `json:"remote_saved_at"`
	RemoteContent  json.RawMessage  `json:"remote_content"`
	Details        []ConflictDetail `json:"details"`
}

// ConflictCheckResponse ответ сервера на проверку конфликта.
// Каноничный ответ "конфликта нет" — {"conflicts": null}.
type ConflictCheckResponse struct {
	Conflicts *ConflictPayload `json:"conflicts"`
}

// AutosaveRequest представляет запрос на сохранение содержимого.
type AutosaveRequest struct {
	Content   json.RawMessage `json:"content"`
	AuthorID  string          `json:"author_id"`
	Version   uint64          `json:"version"`
	Checksum  string          `json:"checksum"`
	Timestamp int64           `json:"timestamp"`
}

// AutosaveResponse ответ сервера на сохранение.
type AutosaveResponse struct {
	Success bool   `json:"success"`
	Version uint64 `json:"version,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ErrorResponse представляет ответ с ошибкой
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
