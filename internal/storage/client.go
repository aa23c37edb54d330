package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Gammanik/model-uploader/internal/upload"
)

// Backend бэкенд, принимающий модели: регистрация метаданных и прием чанков
type Backend interface {
	upload.Transport

	// RegisterModelMeta регистрирует модель и возвращает идентификатор передачи
	RegisterModelMeta(ctx context.Context, meta ModelMeta) (string, error)
}

// ModelConfig параметры модели для бэкенда
type ModelConfig struct {
	ModelType          string `json:"model_type,omitempty"`
	EmbeddingDimension int    `json:"embedding_dimension,omitempty"`
	FrameworkType      string `json:"framework_type,omitempty"`
	AllConfig          string `json:"all_config,omitempty"`
}

// ModelMeta метаданные модели, передаются до загрузки чанков
type ModelMeta struct {
	Name         string       `json:"name"`
	Version      string       `json:"version,omitempty"`
	Description  string       `json:"description,omitempty"`
	ModelFormat  string       `json:"model_format"`
	ModelGroupID string       `json:"model_group_id,omitempty"`
	ContentHash  string       `json:"model_content_hash_value"`
	ContentSize  int64        `json:"model_content_size_in_bytes"`
	TotalChunks  int          `json:"total_chunks"`
	FunctionName string       `json:"function_name,omitempty"`
	ModelConfig  *ModelConfig `json:"model_config,omitempty"`
}

// StatusError ответ бэкенда с неуспешным кодом
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend responded %d: %s", e.StatusCode, e.Body)
}

// HTTPConfig параметры подключения к бэкенду
type HTTPConfig struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

// HTTPClient реализация Backend поверх REST API ML-плагина поискового движка
type HTTPClient struct {
	client   *http.Client
	baseURL  string
	username string
	password string
}

// New создает HTTP клиент бэкенда
func New(cfg HTTPConfig) *HTTPClient {
	return &HTTPClient{
		client:   &http.Client{Timeout: cfg.Timeout},
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
	}
}

type registerResponse struct {
	ModelID string `json:"model_id"`
	Status  string `json:"status"`
}

// RegisterModelMeta регистрирует метаданные модели вместе с дайджестом содержимого
func (c *HTTPClient) RegisterModelMeta(ctx context.Context, meta ModelMeta) (string, error) {
	body, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}

	resp, err := c.do(ctx, c.baseURL+"/_plugins/_ml/models/_register_meta", "application/json", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out registerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode register response: %w", err)
	}
	if out.ModelID == "" {
		return "", fmt.Errorf("register response has no model_id (status %q)", out.Status)
	}

	return out.ModelID, nil
}

// UploadChunk загружает один чанк модели
func (c *HTTPClient) UploadChunk(ctx context.Context, transferID, chunkIndex string, data []byte) error {
	endpoint := fmt.Sprintf("%s/_plugins/_ml/models/%s/upload_chunk/%s",
		c.baseURL, url.PathEscape(transferID), url.PathEscape(chunkIndex))

	resp, err := c.do(ctx, endpoint, "application/octet-stream", data)
	if err != nil {
		return fmt.Errorf("failed to upload chunk %s: %w", chunkIndex, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return nil
}

// do выполняет POST и возвращает ответ с кодом 2xx
func (c *HTTPClient) do(ctx context.Context, endpoint, contentType string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	return resp, nil
}
