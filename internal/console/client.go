// Package console is the HTTP client behind colonyctl. It reads colony state
// from the public API and drives the admin endpoints.
package console

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/talgya/mars-colony/internal/agents"
	"github.com/talgya/mars-colony/internal/persistence"
	"github.com/talgya/mars-colony/internal/simtime"
)

// Status is the subset of GET /api/v1/status that colonyctl shows.
type Status struct {
	Tick           uint64          `json:"tick"`
	Time           simtime.SimTime `json:"time"`
	SimTime        string          `json:"sim_time"`
	Speed          float64         `json:"speed"`
	Paused         bool            `json:"paused"`
	People         int             `json:"people"`
	Robots         int             `json:"robots"`
	Vehicles       int             `json:"vehicles"`
	Deaths         int             `json:"deaths"`
	Settlements    int             `json:"settlements"`
	SaveInProgress bool            `json:"save_in_progress"`
}

// APIError is a non-200 response.
type APIError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s returned %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Client talks to a running colonysim.
type Client struct {
	BaseURL    string
	AdminKey   string
	HTTPClient *http.Client
}

// NewClient creates a client targeting the given API base URL. The timeout
// must outlast the server's save wait.
func NewClient(baseURL, adminKey string) *Client {
	return &Client{
		BaseURL:  baseURL,
		AdminKey: adminKey,
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Status fetches the current time, speed and population.
func (c *Client) Status() (*Status, error) {
	var st Status
	if err := c.fetchJSON("/api/v1/status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Activities fetches one sol of an agent's activity ledger.
func (c *Client) Activities(id agents.AgentID, sol uint64) ([]agents.OneActivity, error) {
	var resp struct {
		Activities []agents.OneActivity `json:"activities"`
	}
	path := fmt.Sprintf("/api/v1/agent/%d/activities?sol=%d", id, sol)
	if err := c.fetchJSON(path, &resp); err != nil {
		return nil, err
	}
	return resp.Activities, nil
}

// AllActivities fetches an agent's whole activity ledger.
func (c *Client) AllActivities(id agents.AgentID) (map[uint64][]agents.OneActivity, error) {
	var raw map[string][]agents.OneActivity
	if err := c.fetchJSON(fmt.Sprintf("/api/v1/agent/%d/activities", id), &raw); err != nil {
		return nil, err
	}
	out := make(map[uint64][]agents.OneActivity, len(raw))
	for k, v := range raw {
		sol, err := strconv.ParseUint(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad sol key %q: %w", k, err)
		}
		out[sol] = v
	}
	return out, nil
}

// Save asks the server to save and waits for its answer. dest may be empty
// for the configured save path.
func (c *Client) Save(dest string) (*persistence.SaveEvent, error) {
	var ev persistence.SaveEvent
	body := map[string]string{}
	if dest != "" {
		body["destination"] = dest
	}
	if err := c.post("/api/v1/save", body, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Pause suspends the tick loop.
func (c *Client) Pause() error { return c.post("/api/v1/pause", nil, nil) }

// Resume continues the tick loop.
func (c *Client) Resume() error { return c.post("/api/v1/resume", nil, nil) }

// SetSpeed changes the wall-clock multiplier.
func (c *Client) SetSpeed(speed float64) error {
	return c.post("/api/v1/speed", map[string]float64{"speed": speed}, nil)
}

// Interrupt overrides an agent's current task.
func (c *Client) Interrupt(id agents.AgentID, reason string) error {
	return c.post(fmt.Sprintf("/api/v1/interrupt/%d", id), map[string]string{"reason": reason}, nil)
}

// fetchJSON GETs a path and decodes the JSON response into target.
func (c *Client) fetchJSON(path string, target any) error {
	resp, err := c.HTTPClient.Get(c.BaseURL + path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &APIError{Method: http.MethodGet, Path: path, Code: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// post sends an admin request. target may be nil.
func (c *Client) post(path string, payload, target any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequest(http.MethodPost, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.AdminKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{Method: http.MethodPost, Path: path, Code: resp.StatusCode, Body: string(bytes.TrimSpace(respBody))}
	}
	if target == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
