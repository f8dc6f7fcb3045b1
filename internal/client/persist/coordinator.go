// Package persist координирует надежное сохранение содержимого: проверку
// конфликтов перед отправкой, повторы с нарастающей задержкой и слияние
// одновременных вызовов в один запрос.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iudanet/collabsync/internal/checksum"
	httpClient "github.com/iudanet/collabsync/internal/client/api"
	"github.com/iudanet/collabsync/internal/client/conflict"
	"github.com/iudanet/collabsync/internal/models"
	"github.com/iudanet/collabsync/pkg/api"
)

var (
	// ErrSaveFailed означает исчерпание всех попыток сохранения.
	ErrSaveFailed = errors.New("save failed after all retry attempts")

	// ErrManualResolution означает, что конфликт требует явного решения:
	// сохранение не повторяется автоматически, вызывающая сторона должна
	// переосохранить контент с выбранным разрешением.
	ErrManualResolution = errors.New("conflict requires manual resolution")
)

// Вехи прогресса сохранения. Контракт для вызывающей стороны:
// более мелкая гранулярность не гарантируется.
const (
	progressStateBuilt    = 10
	progressConflictCheck = 30
	progressBeforeSend    = 50
	progressDone          = 100
)

// ProgressFunc получает процент выполнения сохранения на фиксированных вехах.
type ProgressFunc func(percent int)

// SaveResult результат попытки сохранения.
// Ошибки сохранения никогда не выбрасываются за границу координатора —
// они сообщаются через поле Err, чтобы вызывающая сторона могла показать
// статус вместо аварийного завершения.
type SaveResult struct {
	ContentID string
	Success   bool
	Version   uint64
	Checksum  string
	// Resolved — режим, которым был разрешен конфликт (пустой, если
	// конфликта не было).
	Resolved models.ResolutionMode
	// Conflict заполнен в режиме manual: сохранение не выполнено,
	// требуется явное решение.
	Conflict *models.ConflictInfo
	// Markers — число текстовых маркеров конфликта в сохраненном контенте.
	Markers int
	Err     error
}

// Coordinator управляет сохранением документов.
// На каждый contentID одновременно выполняется не более одного сохранения:
// повторный вызов присоединяется к текущему и получает тот же результат.
type Coordinator struct {
	apiClient     httpClient.ClientAPI
	resolver      *conflict.Resolver
	mode          models.ResolutionMode
	retryAttempts int
	retryDelay    time.Duration
	logger        *slog.Logger

	inflight      map[string]*inflightSave
	lastConfirmed map[string]*models.SaveState
	mu            sync.Mutex
}

// inflightSave текущее сохранение; done закрывается по завершении,
// после чего result доступен всем ожидающим.
type inflightSave struct {
	done   chan struct{}
	result *SaveResult
}

// NewCoordinator создает координатор сохранения.
func NewCoordinator(
	apiClient httpClient.ClientAPI,
	resolver *conflict.Resolver,
	mode models.ResolutionMode,
	retryAttempts int,
	retryDelay time.Duration,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		apiClient:     apiClient,
		resolver:      resolver,
		mode:          mode,
		retryAttempts: retryAttempts,
		retryDelay:    retryDelay,
		logger:        logger,
		inflight:      make(map[string]*inflightSave),
		lastConfirmed: make(map[string]*models.SaveState),
	}
}

// LastConfirmed возвращает последнее подтвержденное состояние документа.
func (c *Coordinator) LastConfirmed(contentID string) *models.SaveState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lastConfirmed[contentID]
}

// Save сохраняет содержимое документа.
// Если сохранение этого contentID уже выполняется, вызов ожидает его
// завершения и возвращает тот же самый результат (идемпотентное слияние).
// Все ошибки — в SaveResult.Err.
func (c *Coordinator) Save(
	ctx context.Context,
	contentID string,
	content models.Content,
	authorID string,
	onProgress ProgressFunc,
) *SaveResult {
	c.mu.Lock()
	if fl, ok := c.inflight[contentID]; ok {
		c.mu.Unlock()
		// Присоединяемся к текущему сохранению
		<-fl.done
		return fl.result
	}

	fl := &inflightSave{done: make(chan struct{})}
	c.inflight[contentID] = fl
	c.mu.Unlock()

	fl.result = c.save(ctx, contentID, content, authorID, onProgress)

	c.mu.Lock()
	delete(c.inflight, contentID)
	c.mu.Unlock()
	close(fl.done)

	return fl.result
}

// save выполняет конвейер сохранения: построение состояния, проверка
// конфликта, разрешение, отправка с повторами.
func (c *Coordinator) save(
	ctx context.Context,
	contentID string,
	content models.Content,
	authorID string,
	onProgress ProgressFunc,
) *SaveResult {
	report := func(percent int) {
		if onProgress != nil {
			onProgress(percent)
		}
	}
	result := &SaveResult{ContentID: contentID}

	// 1. Строим состояние сохранения со свежей контрольной суммой
	// и следующей версией
	sum, err := checksum.Content(content)
	if err != nil {
		result.Err = fmt.Errorf("failed to checksum content: %w", err)
		return result
	}

	var nextVersion uint64 = 1
	if last := c.LastConfirmed(contentID); last != nil {
		nextVersion = last.Version + 1
	}

	state := &models.SaveState{
		ContentID: contentID,
		Content:   content.Clone(),
		AuthorID:  authorID,
		Version:   nextVersion,
		Checksum:  sum,
		Timestamp: time.Now().UTC(),
	}
	report(progressStateBuilt)

	// 2. Проверяем конфликт против последнего серверного сохранения
	localJSON, err := json.Marshal(state.Content)
	if err != nil {
		result.Err = fmt.Errorf("failed to marshal content: %w", err)
		return result
	}

	checkResp, err := c.apiClient.ConflictCheck(ctx, contentID, api.ConflictCheckRequest{
		Content:   localJSON,
		Version:   state.Version,
		Checksum:  state.Checksum,
		Timestamp: state.Timestamp.UnixMilli(),
	})
	if err != nil {
		result.Err = fmt.Errorf("conflict check failed: %w", err)
		return result
	}
	report(progressConflictCheck)

	// 3. При расхождении передаем управление резолверу
	if checkResp.Conflicts != nil {
		info, err := buildConflictInfo(state, checkResp.Conflicts)
		if err != nil {
			result.Err = fmt.Errorf("failed to decode conflict payload: %w", err)
			return result
		}

		resolution := c.resolver.Resolve(info, c.mode)
		if resolution.Manual != nil {
			// Сохранение не повторяется: решение за вызывающей стороной
			c.logger.Info("Save requires manual conflict resolution",
				"content_id", contentID,
				"local_version", info.Local.Version,
				"remote_version", info.Remote.Version)
			result.Conflict = resolution.Manual
			result.Err = ErrManualResolution
			return result
		}

		// Слитое состояние вытесняет серверную версию
		state.Content = resolution.Content
		state.Version = info.Remote.Version + 1
		sum, err = checksum.Content(state.Content)
		if err != nil {
			result.Err = fmt.Errorf("failed to checksum merged content: %w", err)
			return result
		}
		state.Checksum = sum
		result.Resolved = c.mode
		result.Markers = resolution.Markers

		c.logger.Info("Conflict resolved",
			"content_id", contentID,
			"mode", c.mode,
			"markers", resolution.Markers)
	}
	report(progressBeforeSend)

	// 4. Отправляем сохранение с повторами
	saved, err := c.sendWithRetry(ctx, state)
	if err != nil {
		result.Err = err
		return result
	}
	report(progressDone)

	if saved.Version != 0 {
		state.Version = saved.Version
	}

	c.mu.Lock()
	c.lastConfirmed[contentID] = state
	c.mu.Unlock()

	result.Success = true
	result.Version = state.Version
	result.Checksum = state.Checksum
	return result
}

// sendWithRetry отправляет запрос сохранения, повторяя неудачные попытки
// с задержкой retryDelay * номер попытки.
func (c *Coordinator) sendWithRetry(ctx context.Context, state *models.SaveState) (*api.AutosaveResponse, error) {
	contentJSON, err := json.Marshal(state.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal content: %w", err)
	}

	req := api.AutosaveRequest{
		Content:   contentJSON,
		AuthorID:  state.AuthorID,
		Version:   state.Version,
		Checksum:  state.Checksum,
		Timestamp: state.Timestamp.UnixMilli(),
	}

	var lastErr error
	for attempt := 1; attempt <= c.retryAttempts; attempt++ {
		resp, err := c.apiClient.Autosave(ctx, state.ContentID, req)
		if err == nil && resp.Success {
			return resp, nil
		}

		if err == nil {
			err = fmt.Errorf("server rejected save: %s", resp.Error)
		}
		lastErr = err
		c.logger.Warn("Save attempt failed",
			"content_id", state.ContentID,
			"attempt", attempt,
			"error", err)

		if attempt == c.retryAttempts {
			break
		}

		select {
		case <-time.After(c.retryDelay * time.Duration(attempt)):
		case <-ctx.Done():
			return nil, fmt.Errorf("save canceled: %w", ctx.Err())
		}
	}

	return nil, fmt.Errorf("%w: %w", ErrSaveFailed, lastErr)
}

// buildConflictInfo строит ConflictInfo из серверного описания конфликта.
func buildConflictInfo(local *models.SaveState, payload *api.ConflictPayload) (*models.ConflictInfo, error) {
	var remoteContent models.Content
	if len(payload.RemoteContent) > 0 {
		if err := json.Unmarshal(payload.RemoteContent, &remoteContent); err != nil {
			return nil, fmt.Errorf("failed to unmarshal remote content: %w", err)
		}
	}

	remote := &models.SaveState{
		ContentID: local.ContentID,
		Content:   remoteContent,
		AuthorID:  payload.RemoteAuthorID,
		Version:   payload.RemoteVersion,
		Checksum:  payload.RemoteChecksum,
		Timestamp: time.UnixMilli(payload.RemoteSavedAt).UTC(),
	}

	details := make([]models.ConflictDetail, 0, len(payload.Details))
	for _, d := range payload.Details {
		detail := models.ConflictDetail{
			Path: d.Path,
			Kind: models.ConflictKind(d.Kind),
		}
		if len(d.LocalValue) > 0 {
			if err := json.Unmarshal(d.LocalValue, &detail.LocalValue); err != nil {
				return nil, fmt.Errorf("failed to unmarshal local value at %q: %w", d.Path, err)
			}
		}
		if len(d.RemoteValue) > 0 {
			if err := json.Unmarshal(d.RemoteValue, &detail.RemoteValue); err != nil {
				return nil, fmt.Errorf("failed to unmarshal remote value at %q: %w", d.Path, err)
			}
		}
		details = append(details, detail)
	}

	return &models.ConflictInfo{
		Local:     local,
		Remote:    remote,
		Conflicts: details,
	}, nil
}
