package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"sort"
	"time"

	"github.com/gorilla/mux"

	"github.com/iudanet/collabsync/internal/models"
	"github.com/iudanet/collabsync/internal/server/middleware"
	"github.com/iudanet/collabsync/internal/server/storage"
	"github.com/iudanet/collabsync/pkg/api"
)

// ContentStorage определяет интерфейс хранения состояния контента
type ContentStorage interface {
	SaveState(ctx context.Context, state *models.SaveState) error
	GetState(ctx context.Context, contentID string) (*models.SaveState, error)
}

// ContentHandler обрабатывает проверку конфликтов и сохранение контента
type ContentHandler struct {
	logger  *slog.Logger
	storage ContentStorage
}

// NewContentHandler creates a new content handler
func NewContentHandler(logger *slog.Logger, contentStorage ContentStorage) *ContentHandler {
	return &ContentHandler{
		logger:  logger,
		storage: contentStorage,
	}
}

// ConflictCheck обрабатывает POST /api/v1/content/{contentID}/conflict-check
//
// Клиент передает версию, контрольную сумму и содержимое, которое
// собирается сохранить. Конфликта нет, если сохранение продвигает
// серверную версию вперед; иначе возвращается серверное состояние
// и список расхождений по полям. Каноничный ответ об отсутствии
// конфликта — {"conflicts": null}.
func (h *ContentHandler) ConflictCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	contentID := mux.Vars(r)["contentID"]

	var req api.ConflictCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	stored, err := h.storage.GetState(ctx, contentID)
	if errors.Is(err, storage.ErrContentNotFound) {
		// Первое сохранение конфликтовать не с чем
		h.writeJSON(w, http.StatusOK, api.ConflictCheckResponse{Conflicts: nil})
		return
	}
	if err != nil {
		h.logger.Error("Failed to load content state",
			"content_id", contentID,
			"error", err)
		h.writeError(w, http.StatusInternalServerError, "storage_error", "Failed to load content state")
		return
	}

	// Сохранение, продвигающее версию вперед, конфликта не создает.
	// Повторная отправка уже сохраненного состояния также безопасна.
	if stored.Version < req.Version ||
		(stored.Version == req.Version && stored.Checksum == req.Checksum) {
		h.writeJSON(w, http.StatusOK, api.ConflictCheckResponse{Conflicts: nil})
		return
	}

	var local models.Content
	if len(req.Content) > 0 {
		if err := json.Unmarshal(req.Content, &local); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid content payload")
			return
		}
	}

	payload, err := buildConflictPayload(local, stored)
	if err != nil {
		h.logger.Error("Failed to build conflict payload",
			"content_id", contentID,
			"error", err)
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to describe conflict")
		return
	}

	h.logger.Info("Conflict detected",
		"content_id", contentID,
		"client_version", req.Version,
		"server_version", stored.Version,
		"details", len(payload.Details))

	h.writeJSON(w, http.StatusOK, api.ConflictCheckResponse{Conflicts: payload})
}

// Autosave обрабатывает POST /api/v1/content/{contentID}/autosave
//
// Устаревшая версия отклоняется с success=false; клиент должен
// пройти проверку конфликта заново. Ошибки сохранения также
// возвращаются в теле ответа, а не статусом.
func (h *ContentHandler) Autosave(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	contentID := mux.Vars(r)["contentID"]

	var req api.AutosaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	authorID := req.AuthorID
	if userID, ok := middleware.UserIDFromContext(ctx); ok {
		// Авторство определяется токеном, а не телом запроса
		authorID = userID
	}

	var content models.Content
	if len(req.Content) > 0 {
		if err := json.Unmarshal(req.Content, &content); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid content payload")
			return
		}
	}

	stored, err := h.storage.GetState(ctx, contentID)
	if err != nil && !errors.Is(err, storage.ErrContentNotFound) {
		h.logger.Error("Failed to load content state",
			"content_id", contentID,
			"error", err)
		h.writeJSON(w, http.StatusOK, api.AutosaveResponse{
			Success: false,
			Error:   "failed to load current state",
		})
		return
	}

	if stored != nil && stored.Version >= req.Version {
		h.logger.Warn("Rejecting stale autosave",
			"content_id", contentID,
			"client_version", req.Version,
			"server_version", stored.Version)
		h.writeJSON(w, http.StatusOK, api.AutosaveResponse{
			Success: false,
			Error:   fmt.Sprintf("stale version %d, server at %d", req.Version, stored.Version),
		})
		return
	}

	state := &models.SaveState{
		ContentID: contentID,
		Content:   content,
		AuthorID:  authorID,
		Version:   req.Version,
		Checksum:  req.Checksum,
		Timestamp: timeFromMilli(req.Timestamp),
	}

	if err := h.storage.SaveState(ctx, state); err != nil {
		h.logger.Error("Failed to save content state",
			"content_id", contentID,
			"error", err)
		h.writeJSON(w, http.StatusOK, api.AutosaveResponse{
			Success: false,
			Error:   "failed to persist content",
		})
		return
	}

	h.logger.Info("Content saved",
		"content_id", contentID,
		"author_id", authorID,
		"version", req.Version)

	h.writeJSON(w, http.StatusOK, api.AutosaveResponse{
		Success: true,
		Version: req.Version,
	})
}

// buildConflictPayload сравнивает локальное содержимое с сохраненным
// и строит описание конфликта по полям.
func buildConflictPayload(local models.Content, stored *models.SaveState) (*api.ConflictPayload, error) {
	remoteJSON, err := json.Marshal(stored.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stored content: %w", err)
	}

	// Объединение ключей обеих версий, отсортированное для
	// детерминированного порядка деталей
	paths := make(map[string]struct{}, len(local)+len(stored.Content))
	for k := range local {
		paths[k] = struct{}{}
	}
	for k := range stored.Content {
		paths[k] = struct{}{}
	}
	sorted := make([]string, 0, len(paths))
	for k := range paths {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	details := make([]api.ConflictDetail, 0, len(sorted))
	for _, path := range sorted {
		localValue, hasLocal := local[path]
		remoteValue, hasRemote := stored.Content[path]
		if hasLocal && hasRemote && reflect.DeepEqual(localValue, remoteValue) {
			continue
		}

		detail := api.ConflictDetail{
			Path: path,
			Kind: string(classifyConflict(path, localValue, remoteValue)),
		}
		if hasLocal {
			raw, err := json.Marshal(localValue)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal local value at %q: %w", path, err)
			}
			detail.LocalValue = raw
		}
		if hasRemote {
			raw, err := json.Marshal(remoteValue)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal remote value at %q: %w", path, err)
			}
			detail.RemoteValue = raw
		}
		details = append(details, detail)
	}

	return &api.ConflictPayload{
		RemoteVersion:  stored.Version,
		RemoteChecksum: stored.Checksum,
		RemoteAuthorID: stored.AuthorID,
		RemoteSavedAt:  stored.Timestamp.UnixMilli(),
		RemoteContent:  remoteJSON,
		Details:        details,
	}, nil
}

// classifyConflict определяет вид расхождения: поле content считается
// содержимым, вложенные объекты — структурными, остальное — метаданными.
func classifyConflict(path string, localValue, remoteValue any) models.ConflictKind {
	if path == "content" {
		return models.ConflictContent
	}
	if isObject(localValue) || isObject(remoteValue) {
		return models.ConflictStructure
	}
	return models.ConflictMetadata
}

// timeFromMilli восстанавливает время сохранения из запроса;
// нулевое значение заменяется текущим временем сервера.
func timeFromMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(ms).UTC()
}

func isObject(v any) bool {
	_, ok := v.(map[string]any)
	return ok
}

func (h *ContentHandler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *ContentHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, api.ErrorResponse{
		Error:   code,
		Message: message,
	})
}
