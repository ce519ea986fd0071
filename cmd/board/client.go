package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"maitred/internal/kitchen"
	"maitred/internal/models"
)

// ApiClient talks to the station endpoints of the maitred API
type ApiClient struct {
	httpClient *http.Client
	BaseURL    string
	token      string
}

// NewApiClient creates a client authenticated with a staff token
func NewApiClient(baseURL, token string) *ApiClient {
	return &ApiClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		BaseURL:    baseURL,
		token:      token,
	}
}

func (c *ApiClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("%s %s failed with status code: %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CheckHealth checks if the API is up and running
func (c *ApiClient) CheckHealth(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// Board lists the active tasks of a station
func (c *ApiClient) Board(ctx context.Context, role models.StaffRole) ([]kitchen.BoardEntry, error) {
	path := "/api/v1/kitchen/board"
	if role != "" {
		path += "?role=" + url.QueryEscape(string(role))
	}
	var entries []kitchen.BoardEntry
	if err := c.do(ctx, http.MethodGet, path, nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func taskPath(id uint, action string) string {
	return "/api/v1/kitchen/tasks/" + strconv.FormatUint(uint64(id), 10) + "/" + action
}

// Advance moves a task to its next status
func (c *ApiClient) Advance(ctx context.Context, task models.KitchenTask) (*models.KitchenTask, error) {
	next, ok := kitchen.NextStatus(task.Status)
	if !ok {
		return nil, fmt.Errorf("task %d is already %s", task.ID, task.Status)
	}
	var updated models.KitchenTask
	err := c.do(ctx, http.MethodPost, taskPath(task.ID, "transition"), map[string]models.TaskStatus{"status": next}, &updated)
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Discard drops a pending task the station will not prepare
func (c *ApiClient) Discard(ctx context.Context, taskID uint) error {
	return c.do(ctx, http.MethodPost, taskPath(taskID, "discard"), nil, nil)
}
