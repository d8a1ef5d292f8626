package checklinesdk

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
)

// Client is a minimal Checkline HTTP API client.
type Client struct {
	BaseURL    string
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Template represents the API template model (partial).
type Template struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Mandatory bool           `json:"mandatory"`
	Items     []TemplateItem `json:"items"`
}

type TemplateItem struct {
	ID       string `json:"id"`
	Code     string `json:"code"`
	Label    string `json:"label,omitempty"`
	Required bool   `json:"required"`
	Weight   int    `json:"weight"`
	MaxScore int    `json:"max_score"`
}

// Rule is a recurrence rule.
type Rule struct {
	Kind     string `json:"kind"`
	Interval int    `json:"interval"`
}

// Schedule represents the API schedule model.
type Schedule struct {
	ID         string `json:"id"`
	TemplateID string `json:"template_id"`
	Rule       Rule   `json:"rule"`
	Active     bool   `json:"active"`
	Degraded   bool   `json:"degraded"`
	NextDueAt  string `json:"next_due_at"`
}

// Instance represents the API instance model (partial).
type Instance struct {
	ID             string  `json:"id"`
	ScheduleID     *string `json:"schedule_id,omitempty"`
	TemplateID     string  `json:"template_id"`
	TemplateName   string  `json:"template_name"`
	Status         string  `json:"status"`
	ScheduledDate  string  `json:"scheduled_date"`
	DueDate        string  `json:"due_date"`
	TotalScore     int     `json:"total_score"`
	MaxTotalScore  int     `json:"max_total_score"`
	CompletionRate int     `json:"completion_rate"`
	Compliant      bool    `json:"compliant"`
	Overdue        bool    `json:"overdue"`
}

// GenerateResult wraps a generation run.
type GenerateResult struct {
	Generated []Instance `json:"generated"`
	Count     int        `json:"count"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateTemplate creates a template from item specs.
func (c *Client) CreateTemplate(ctx context.Context, name string, items []map[string]any) (Template, error) {
	body := map[string]any{
		"name":  name,
		"items": items,
	}
	var resp Template
	err := c.do(ctx, http.MethodPost, "v0/templates", body, &resp)
	return resp, err
}

// CreateSchedule binds a template to a recurrence rule.
func (c *Client) CreateSchedule(ctx context.Context, templateID string, rule Rule, firstDueAt string) (Schedule, error) {
	body := map[string]any{
		"template_id": templateID,
		"rule":        rule,
	}
	if firstDueAt != "" {
		body["first_due_at"] = firstDueAt
	}
	var resp Schedule
	err := c.do(ctx, http.MethodPost, "v0/schedules", body, &resp)
	return resp, err
}

// Generate triggers a generation run. A non-empty now overrides the clock.
func (c *Client) Generate(ctx context.Context, now string) (GenerateResult, error) {
	body := map[string]any{}
	if now != "" {
		body["now"] = now
	}
	var resp GenerateResult
	err := c.do(ctx, http.MethodPost, "v0/generate", body, &resp)
	return resp, err
}

// GetInstance fetches an instance by id.
func (c *Client) GetInstance(ctx context.Context, id string) (Instance, error) {
	var resp Instance
	err := c.do(ctx, http.MethodGet, "v0/instances/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// StartInstance moves an instance to in_progress.
func (c *Client) StartInstance(ctx context.Context, id string) (Instance, error) {
	var resp Instance
	err := c.do(ctx, http.MethodPost, "v0/instances/"+url.PathEscape(id)+"/start", nil, &resp)
	return resp, err
}

// CheckItem updates one item; item may be its id or code.
func (c *Client) CheckItem(ctx context.Context, instanceID, item string, checked bool, score *int, findings string) (Instance, error) {
	body := map[string]any{
		"checked": checked,
	}
	if score != nil {
		body["score"] = *score
	}
	if findings != "" {
		body["findings"] = findings
	}
	var resp Instance
	endpoint := fmt.Sprintf("v0/instances/%s/items/%s/check", url.PathEscape(instanceID), url.PathEscape(item))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// CompleteInstance completes an instance.
func (c *Client) CompleteInstance(ctx context.Context, id string) (Instance, error) {
	var resp Instance
	err := c.do(ctx, http.MethodPost, "v0/instances/"+url.PathEscape(id)+"/complete", nil, &resp)
	return resp, err
}

// CancelInstance cancels an instance with a reason.
func (c *Client) CancelInstance(ctx context.Context, id, reason string) (Instance, error) {
	body := map[string]any{"reason": reason}
	var resp Instance
	err := c.do(ctx, http.MethodPost, "v0/instances/"+url.PathEscape(id)+"/cancel", body, &resp)
	return resp, err
}

// Reminders returns open instances inside their reminder window.
func (c *Client) Reminders(ctx context.Context) ([]Instance, error) {
	var resp []Instance
	err := c.do(ctx, http.MethodGet, "v0/reminders", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.ActorID != "" {
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
