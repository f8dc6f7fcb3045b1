package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/iudanet/collabsync/pkg/api"
)

// Client представляет HTTP клиент для взаимодействия с сервером сохранения
type Client struct {
	httpClient *http.Client
	baseURL    string
	authToken  string
}

// NewClient создает новый API клиент.
// baseURL — адрес сервера (uploadUrl из конфигурации сессии).
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Ограничиваем количество редиректов
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				// Копируем заголовки Authorization при редиректе
				if len(via) > 0 && via[0].Header.Get("Authorization") != "" {
					req.Header.Set("Authorization", via[0].Header.Get("Authorization"))
				}
				return nil
			},
		},
	}
}

// SetAuthToken устанавливает bearer токен для последующих запросов
func (c *Client) SetAuthToken(token string) {
	c.authToken = token
}

// ConflictCheck проверяет наличие конфликта перед сохранением.
// Каноничный ответ "конфликта нет" — {"conflicts": null}.
func (c *Client) ConflictCheck(
	ctx context.Context,
	contentID string,
	req api.ConflictCheckRequest,
) (*api.ConflictCheckResponse, error) {
	var resp api.ConflictCheckResponse
	path := fmt.Sprintf("/api/v1/content/%s/conflict-check", url.PathEscape(contentID))
	if err := c.doRequest(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, fmt.Errorf("conflict check request failed: %w", err)
	}
	return &resp, nil
}

// Autosave отправляет запрос на сохранение содержимого
func (c *Client) Autosave(
	ctx context.Context,
	contentID string,
	req api.AutosaveRequest,
) (*api.AutosaveResponse, error) {
	var resp api.AutosaveResponse
	path := fmt.Sprintf("/api/v1/content/%s/autosave", url.PathEscape(contentID))
	if err := c.doRequest(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, fmt.Errorf("autosave request failed: %w", err)
	}
	return &resp, nil
}

// doRequest выполняет HTTP запрос
func (c *Client) doRequest(ctx context.Context, method, path string, body, result any) error {
	reqURL := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	// Читаем тело ответа
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	// Проверяем статус код
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp api.ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Message != "" {
			return fmt.Errorf("server error (%d): %s", resp.StatusCode, errResp.Message)
		}
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	// Декодируем успешный ответ
	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}
