package tui

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/fentz26/cadence/internal/drive"
	"github.com/fentz26/cadence/internal/models"
	"github.com/fentz26/cadence/internal/scheduler"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// Client wraps HTTP calls to the cadence API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client with timeout.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

// Stats fetches the heartbeat counters.
func (c *Client) Stats() (*scheduler.Stats, error) {
	var stats scheduler.Stats
	if err := c.get("/stats", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Drive fetches the drive model state.
func (c *Client) Drive() (*drive.State, error) {
	var state drive.State
	if err := c.get("/drive", &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Jobs fetches the scheduled jobs.
func (c *Client) Jobs() ([]models.ScheduledJob, error) {
	var jobs []models.ScheduledJob
	if err := c.get("/jobs", &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// Activity fetches the newest activity entries, oldest first.
func (c *Client) Activity(limit int) ([]models.ActivityEntry, error) {
	var entries []models.ActivityEntry
	if err := c.get("/activity?limit="+strconv.Itoa(limit), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// TriggerTick asks the daemon for a tick. It reports false when one was
// already in flight.
func (c *Client) TriggerTick() (bool, error) {
	resp, err := c.httpClient.Post(c.baseURL+"/tick", "application/json", nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted:
		return true, nil
	case http.StatusConflict:
		return false, nil
	default:
		body, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}
}

// CheckHealth checks if the daemon is healthy.
func (c *Client) CheckHealth() (bool, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}

	var health struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false, err
	}

	return health.OK, nil
}

func (c *Client) get(path string, v any) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
