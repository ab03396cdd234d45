package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// apiClient is the shared HTTP client with timeout.
var apiClient = &http.Client{
	Timeout: DefaultClientTimeout,
}

// apiGet performs a GET request and returns the parsed JSON body.
func apiGet(path string) (gjson.Result, error) {
	return apiDo(http.MethodGet, path, nil)
}

// apiPost performs a POST request with a JSON body.
func apiPost(path string, data any) (gjson.Result, error) {
	return apiDo(http.MethodPost, path, data)
}

// apiDelete performs a DELETE request.
func apiDelete(path string) error {
	_, err := apiDo(http.MethodDelete, path, nil)
	return err
}

func apiDo(method, path string, data any) (gjson.Result, error) {
	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return gjson.Result{}, err
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, apiAddr+path, body)
	if err != nil {
		return gjson.Result{}, err
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := apiClient.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, err
	}

	if resp.StatusCode >= 400 {
		return gjson.Result{}, &apiError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(raw))}
	}
	if len(raw) == 0 {
		return gjson.Result{}, nil
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, fmt.Errorf("API returned invalid JSON: %.80s", raw)
	}
	return gjson.ParseBytes(raw), nil
}

// apiError carries a non-2xx response.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Body)
}

// CheckHealth checks if the daemon is healthy. The parsed payload is
// returned alongside the error on non-200 responses.
func CheckHealth() (gjson.Result, error) {
	health, err := apiGet("/health")
	if err != nil {
		return health, fmt.Errorf("health check failed: %w", err)
	}
	if !health.Get("ok").Bool() {
		return health, fmt.Errorf("daemon unhealthy: db %s", health.Get("db").String())
	}
	return health, nil
}
