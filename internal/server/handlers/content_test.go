package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/collabsync/internal/models"
	"github.com/iudanet/collabsync/internal/server/storage"
	"github.com/iudanet/collabsync/pkg/api"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeContentStorage хранит состояния в памяти
type fakeContentStorage struct {
	states map[string]*models.SaveState
}

func newFakeContentStorage() *fakeContentStorage {
	return &fakeContentStorage{states: make(map[string]*models.SaveState)}
}

func (f *fakeContentStorage) SaveState(_ context.Context, state *models.SaveState) error {
	f.states[state.ContentID] = state
	return nil
}

func (f *fakeContentStorage) GetState(_ context.Context, contentID string) (*models.SaveState, error) {
	state, ok := f.states[contentID]
	if !ok {
		return nil, storage.ErrContentNotFound
	}
	return state, nil
}

func newContentRouter(store ContentStorage) *mux.Router {
	h := NewContentHandler(discardLogger(), store)

	r := mux.NewRouter()
	r.HandleFunc("/api/v1/content/{contentID}/conflict-check", h.ConflictCheck).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/content/{contentID}/autosave", h.Autosave).Methods(http.MethodPost)
	return r
}

func postJSON(t *testing.T, router *mux.Router, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestContentHandler_ConflictCheckFirstSave(t *testing.T) {
	router := newContentRouter(newFakeContentStorage())

	rec := postJSON(t, router, "/api/v1/content/doc-1/conflict-check", api.ConflictCheckRequest{
		Content:  json.RawMessage(`{"content":"hello"}`),
		Version:  1,
		Checksum: "c1",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	// Каноничный ответ отсутствия конфликта
	assert.JSONEq(t, `{"conflicts": null}`, rec.Body.String())
}

func TestContentHandler_ConflictCheckAdvancingVersion(t *testing.T) {
	store := newFakeContentStorage()
	store.states["doc-1"] = &models.SaveState{
		ContentID: "doc-1",
		Content:   models.Content{"content": "v1"},
		Version:   1,
		Checksum:  "c1",
	}
	router := newContentRouter(store)

	rec := postJSON(t, router, "/api/v1/content/doc-1/conflict-check", api.ConflictCheckRequest{
		Content:  json.RawMessage(`{"content":"v2"}`),
		Version:  2,
		Checksum: "c2",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"conflicts": null}`, rec.Body.String())
}

func TestContentHandler_ConflictCheckIdempotentResubmit(t *testing.T) {
	store := newFakeContentStorage()
	store.states["doc-1"] = &models.SaveState{
		ContentID: "doc-1",
		Content:   models.Content{"content": "v2"},
		Version:   2,
		Checksum:  "c2",
	}
	router := newContentRouter(store)

	rec := postJSON(t, router, "/api/v1/content/doc-1/conflict-check", api.ConflictCheckRequest{
		Content:  json.RawMessage(`{"content":"v2"}`),
		Version:  2,
		Checksum: "c2",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"conflicts": null}`, rec.Body.String())
}

func TestContentHandler_ConflictCheckStaleVersion(t *testing.T) {
	store := newFakeContentStorage()
	store.states["doc-1"] = &models.SaveState{
		ContentID: "doc-1",
		Content: models.Content{
			"title":    "Remote title",
			"content":  "remote body",
			"settings": map[string]any{"layout": "wide"},
			"shared":   "same",
		},
		AuthorID:  "user-remote",
		Version:   3,
		Checksum:  "c3",
		Timestamp: time.UnixMilli(1700000000000),
	}
	router := newContentRouter(store)

	rec := postJSON(t, router, "/api/v1/content/doc-1/conflict-check", api.ConflictCheckRequest{
		Content: json.RawMessage(`{
			"title":    "Local title",
			"content":  "local body",
			"settings": {"layout": "compact"},
			"shared":   "same"
		}`),
		Version:  3,
		Checksum: "c-local",
	})

	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.ConflictCheckResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Conflicts)

	assert.Equal(t, uint64(3), resp.Conflicts.RemoteVersion)
	assert.Equal(t, "c3", resp.Conflicts.RemoteChecksum)
	assert.Equal(t, "user-remote", resp.Conflicts.RemoteAuthorID)
	assert.Equal(t, int64(1700000000000), resp.Conflicts.RemoteSavedAt)

	// Совпадающее поле shared в детали не попадает
	kinds := make(map[string]string)
	for _, d := range resp.Conflicts.Details {
		kinds[d.Path] = d.Kind
	}
	assert.Equal(t, map[string]string{
		"content":  "content",
		"settings": "structure",
		"title":    "metadata",
	}, kinds)
}

func TestContentHandler_ConflictCheckInvalidBody(t *testing.T) {
	router := newContentRouter(newFakeContentStorage())

	req := httptest.NewRequest(http.MethodPost,
		"/api/v1/content/doc-1/conflict-check",
		bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestContentHandler_AutosaveSuccess(t *testing.T) {
	store := newFakeContentStorage()
	router := newContentRouter(store)

	rec := postJSON(t, router, "/api/v1/content/doc-1/autosave", api.AutosaveRequest{
		Content:   json.RawMessage(`{"content":"hello"}`),
		AuthorID:  "user-1",
		Version:   1,
		Checksum:  "c1",
		Timestamp: 1700000000000,
	})

	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.AutosaveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, uint64(1), resp.Version)

	saved := store.states["doc-1"]
	require.NotNil(t, saved)
	assert.Equal(t, "user-1", saved.AuthorID)
	assert.Equal(t, "hello", saved.Content["content"])
	assert.Equal(t, int64(1700000000000), saved.Timestamp.UnixMilli())
}

func TestContentHandler_AutosaveStaleVersionRejected(t *testing.T) {
	store := newFakeContentStorage()
	store.states["doc-1"] = &models.SaveState{
		ContentID: "doc-1",
		Content:   models.Content{"content": "newer"},
		Version:   5,
		Checksum:  "c5",
	}
	router := newContentRouter(store)

	rec := postJSON(t, router, "/api/v1/content/doc-1/autosave", api.AutosaveRequest{
		Content:  json.RawMessage(`{"content":"older"}`),
		AuthorID: "user-1",
		Version:  4,
		Checksum: "c4",
	})

	// Отказ передается в теле ответа, не статусом
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.AutosaveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)

	// Состояние не перезаписано
	assert.Equal(t, uint64(5), store.states["doc-1"].Version)
}
