// Package rest реализует опрашивающий адаптер поверх HTTP API шлюза.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pv/scada-bridge/internal/tag"
)

const defaultTimeout = 10 * time.Second

// tagDTO значение тега в ответе шлюза
type tagDTO struct {
	TagID     string      `json:"tagId"`
	Value     float64     `json:"value"`
	Quality   tag.Quality `json:"quality"`
	Timestamp time.Time   `json:"timestamp"`
}

type writeRequest struct {
	Value float64 `json:"value"`
}

// Client HTTP клиент шлюза тегов
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиента с фиксированным таймаутом на запрос
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	url := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", url, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s failed: %w", url, err)
	}

	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr != nil {
		return nil, fmt.Errorf("read response from %s failed: %w", url, readErr)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d (%s)", url, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return body, nil
}

// GetAllTags возвращает снимок всех тегов шлюза
func (c *Client) GetAllTags(ctx context.Context) ([]tagDTO, error) {
	data, err := c.doGet(ctx, "/tags")
	if err != nil {
		return nil, err
	}

	var result []tagDTO
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal tags failed: %w", err)
	}
	return result, nil
}

// GetTag возвращает одно значение
func (c *Client) GetTag(ctx context.Context, id string) (tagDTO, error) {
	data, err := c.doGet(ctx, "/tags/"+id)
	if err != nil {
		return tagDTO{}, err
	}

	var result tagDTO
	if err := json.Unmarshal(data, &result); err != nil {
		return tagDTO{}, fmt.Errorf("unmarshal tag %s failed: %w", id, err)
	}
	return result, nil
}

// WriteTag пишет значение; false = шлюз отказал (read-only тег)
func (c *Client) WriteTag(ctx context.Context, id string, value float64) (bool, error) {
	url := c.baseURL + "/tags/" + id

	payload, err := json.Marshal(writeRequest{Value: value})
	if err != nil {
		return false, fmt.Errorf("marshal write request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("build request %s: %w", url, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("request %s failed: %w", url, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return true, nil
	case http.StatusForbidden, http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("%s: status %d", url, resp.StatusCode)
	}
}
