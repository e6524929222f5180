package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"cifleet/pkg/api"
)

// FleetClient handles API calls to the cifleet controller.
type FleetClient struct {
	BaseURL    string
	Token      string
	User       string
	HTTPClient *http.Client
}

// NewFleetClient creates a new client with the given base URL, token and user.
func NewFleetClient(baseURL, token, user string) *FleetClient {
	return &FleetClient{
		BaseURL: baseURL,
		Token:   token,
		User:    user,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// do sends the request and decodes the result field of the envelope into out.
func (c *FleetClient) do(method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	endpoint := c.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	httpReq, err := http.NewRequest(method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if c.Token != "" {
		httpReq.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Token))
	}
	if c.User != "" {
		httpReq.Header.Add("X-Fleet-User", c.User)
	}
	httpReq.Header.Add("X-Request-Id", uuid.NewString())
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	var env struct {
		Error   bool            `json:"error"`
		Message string          `json:"message"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(respBody, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
		}
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || env.Error {
		return &APIError{StatusCode: resp.StatusCode, Message: env.Message}
	}

	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

func jobPath(kind string, id int64) string {
	return fmt.Sprintf("/api/%s/%d", url.PathEscape(kind), id)
}

// GetJob sends GET /api/{kind}/{id}.
func (c *FleetClient) GetJob(kind string, id int64) (*api.Job, error) {
	var job api.Job
	if err := c.do(http.MethodGet, jobPath(kind, id), nil, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// CreateJob sends POST /api/{kind}.
func (c *FleetClient) CreateJob(kind string, req api.JobRequest) (*api.Job, error) {
	var job api.Job
	if err := c.do(http.MethodPost, "/api/"+url.PathEscape(kind), nil, req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// DeleteJob sends DELETE /api/{kind}/{id}.
func (c *FleetClient) DeleteJob(kind string, id int64, cascade bool) error {
	var q url.Values
	if cascade {
		q = url.Values{"cascade": {"true"}}
	}
	return c.do(http.MethodDelete, jobPath(kind, id), q, nil, nil)
}

// Renew sends GET /api/{kind}/{id}/renew/{duration}.
func (c *FleetClient) Renew(kind string, id int64, duration string, force bool) (*api.Job, error) {
	q := url.Values{}
	if c.User != "" {
		q.Set("user", c.User)
	}
	if force {
		q.Set("force", "true")
	}
	var job api.Job
	path := jobPath(kind, id) + "/renew/" + url.PathEscape(duration)
	if err := c.do(http.MethodGet, path, q, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Reclaim sends GET /api/{kind}/{id}/reclaim.
func (c *FleetClient) Reclaim(kind string, id int64) (*api.Job, error) {
	var job api.Job
	if err := c.do(http.MethodGet, jobPath(kind, id)+"/reclaim", nil, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// TakeOffline sends PUT /api/nodes/{name}/takeOffline.
func (c *FleetClient) TakeOffline(name, message, logDir string) (*api.Node, error) {
	var node api.Node
	req := api.NodeTransitionRequest{OfflineMessage: message, LogDir: logDir}
	if err := c.do(http.MethodPut, "/api/nodes/"+url.PathEscape(name)+"/takeOffline", nil, req, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

// TakeOnline sends PUT /api/nodes/{name}/takeOnline.
func (c *FleetClient) TakeOnline(name, logDir string) (*api.Node, error) {
	var node api.Node
	req := api.NodeTransitionRequest{LogDir: logDir}
	if err := c.do(http.MethodPut, "/api/nodes/"+url.PathEscape(name)+"/takeOnline", nil, req, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

// NodeEvents sends GET /api/nodes/{name}/events.
func (c *FleetClient) NodeEvents(name string, afterID int64, limit int) ([]api.NodeEvent, error) {
	q := url.Values{
		"after_id": {strconv.FormatInt(afterID, 10)},
		"limit":    {strconv.Itoa(limit)},
	}
	var events []api.NodeEvent
	if err := c.do(http.MethodGet, "/api/nodes/"+url.PathEscape(name)+"/events", q, nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// CheckThrottle sends GET /api/users/{name}/checkThrottle.
func (c *FleetClient) CheckThrottle(user string) (*api.ThrottleResponse, error) {
	var usage api.ThrottleResponse
	if err := c.do(http.MethodGet, "/api/users/"+url.PathEscape(user)+"/checkThrottle", nil, nil, &usage); err != nil {
		return nil, err
	}
	return &usage, nil
}

// Activity sends GET /api/users/{name}/activity.
func (c *FleetClient) Activity(user string) (*api.ActivityResponse, error) {
	var activity api.ActivityResponse
	if err := c.do(http.MethodGet, "/api/users/"+url.PathEscape(user)+"/activity", nil, nil, &activity); err != nil {
		return nil, err
	}
	return &activity, nil
}

// Plan sends POST /api/plan.
func (c *FleetClient) Plan(req api.PlanRequest) (*api.PlanResponse, error) {
	var plan api.PlanResponse
	if err := c.do(http.MethodPost, "/api/plan", nil, req, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}
