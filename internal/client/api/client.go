package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/iudanet/peersync/pkg/api"
)

// StatusError ответ API управления с кодом не 2xx
type StatusError struct {
	Message    string
	StatusCode int
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("node error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound сообщает, что узел ответил 404
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// Client представляет HTTP клиент API управления локального узла
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient создает новый API клиент. Пустой token - без заголовка Authorization.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Health проверяет, что узел отвечает
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var resp api.HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, fmt.Errorf("health request failed: %w", err)
	}
	return &resp, nil
}

// Status получает состояние движка синхронизации
func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	var resp api.StatusResponse
	if err := c.doRequest(ctx, http.MethodGet, "/status", nil, &resp); err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	return &resp, nil
}

// Pairing получает публичные ключи узла и токен сопряжения
func (c *Client) Pairing(ctx context.Context) (*api.PairingResponse, error) {
	var resp api.PairingResponse
	if err := c.doRequest(ctx, http.MethodGet, "/pairing", nil, &resp); err != nil {
		return nil, fmt.Errorf("pairing request failed: %w", err)
	}
	return &resp, nil
}

// AcceptPairing добавляет устройство по токену сопряжения
func (c *Client) AcceptPairing(ctx context.Context, token string) (*api.PeerResponse, error) {
	var resp api.PeerResponse
	if err := c.doRequest(ctx, http.MethodPost, "/peers", api.AcceptPairingRequest{Token: token}, &resp); err != nil {
		return nil, fmt.Errorf("accept pairing request failed: %w", err)
	}
	return &resp, nil
}

// Peers получает список доверенных устройств
func (c *Client) Peers(ctx context.Context) ([]api.PeerResponse, error) {
	var resp []api.PeerResponse
	if err := c.doRequest(ctx, http.MethodGet, "/peers", nil, &resp); err != nil {
		return nil, fmt.Errorf("peers request failed: %w", err)
	}
	return resp, nil
}

// Untrust удаляет устройство из доверенных
func (c *Client) Untrust(ctx context.Context, deviceID string) error {
	if err := c.doRequest(ctx, http.MethodDelete, "/peers/"+url.PathEscape(deviceID), nil, nil); err != nil {
		return fmt.Errorf("untrust request failed: %w", err)
	}
	return nil
}

// Grant выдает устройству разрешение на capability
func (c *Client) Grant(ctx context.Context, deviceID, capability string, req api.GrantRequest) (*api.PeerResponse, error) {
	var resp api.PeerResponse
	if err := c.doRequest(ctx, http.MethodPut, permissionPath(deviceID, capability), req, &resp); err != nil {
		return nil, fmt.Errorf("grant request failed: %w", err)
	}
	return &resp, nil
}

// Revoke отзывает разрешение
func (c *Client) Revoke(ctx context.Context, deviceID, capability string) (*api.PeerResponse, error) {
	var resp api.PeerResponse
	if err := c.doRequest(ctx, http.MethodDelete, permissionPath(deviceID, capability), nil, &resp); err != nil {
		return nil, fmt.Errorf("revoke request failed: %w", err)
	}
	return &resp, nil
}

// Documents получает живые документы, опционально одного типа
func (c *Client) Documents(ctx context.Context, docType string) ([]api.DocumentResponse, error) {
	path := "/documents"
	if docType != "" {
		path += "?type=" + url.QueryEscape(docType)
	}

	var resp []api.DocumentResponse
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("documents request failed: %w", err)
	}
	return resp, nil
}

// Document получает документ по id
func (c *Client) Document(ctx context.Context, id string) (*api.DocumentResponse, error) {
	var resp api.DocumentResponse
	if err := c.doRequest(ctx, http.MethodGet, documentPath(id), nil, &resp); err != nil {
		return nil, fmt.Errorf("document request failed: %w", err)
	}
	return &resp, nil
}

// PutDocument публикует create или update документа
func (c *Client) PutDocument(ctx context.Context, id string, req api.PutDocumentRequest) (*api.OperationResponse, error) {
	var resp api.OperationResponse
	if err := c.doRequest(ctx, http.MethodPut, documentPath(id), req, &resp); err != nil {
		return nil, fmt.Errorf("put document request failed: %w", err)
	}
	return &resp, nil
}

// DeleteDocument публикует удаление документа
func (c *Client) DeleteDocument(ctx context.Context, id string) (*api.OperationResponse, error) {
	var resp api.OperationResponse
	if err := c.doRequest(ctx, http.MethodDelete, documentPath(id), nil, &resp); err != nil {
		return nil, fmt.Errorf("delete document request failed: %w", err)
	}
	return &resp, nil
}

func documentPath(id string) string {
	return "/documents/" + url.PathEscape(id)
}

func permissionPath(deviceID, capability string) string {
	return "/peers/" + url.PathEscape(deviceID) + "/permissions/" + url.PathEscape(capability)
}

// doRequest выполняет HTTP запрос
func (c *Client) doRequest(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
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
		se := &StatusError{StatusCode: resp.StatusCode}
		var errResp api.ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil {
			se.Message = errResp.Message
		}
		return se
	}

	// Декодируем успешный ответ
	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
