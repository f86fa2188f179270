// Package scheduler registers recurring heartbeat invocations with the HAP
// model task scheduler and cleans them up when an agent disengages.
package scheduler

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/haasonsaas/hapra/internal/auth"
	"github.com/haasonsaas/hapra/internal/observability"
	"github.com/haasonsaas/hapra/internal/retry"
)

// ErrInvalidModelRef is returned for model refs not shaped org|domain|model.
var ErrInvalidModelRef = errors.New("invalid model ref")

// Options configures a scheduler client.
type Options struct {
	// Timeout bounds each request. Defaults to 300s.
	Timeout time.Duration

	// Rewrites are applied to the token's url claim.
	Rewrites []auth.Rewrite

	// InsecureSkipVerify disables TLS verification for the scheduler API.
	InsecureSkipVerify bool

	// Retry governs task listing. Deletes and creates are not retried.
	Retry retry.Config

	Logger  *slog.Logger
	Metrics *observability.Metrics

	// HTTPClient overrides the client built from Timeout and TLS settings.
	HTTPClient *http.Client
}

// DefaultRewrites map loopback in the token to the docker host alias.
func DefaultRewrites() []auth.Rewrite {
	return []auth.Rewrite{{From: "localhost", To: "host.docker.internal"}}
}

// TaskSpec describes a recurring invocation. The scheduler delivers Payload
// to CallbackURL on CronExpression.
type TaskSpec struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	CronExpression string `json:"cron_expression"`
	CallbackURL    string `json:"callback_url"`
	Payload        any    `json:"payload"`
}

// Task is a scheduled task as reported by the scheduler.
type Task struct {
	ID             TaskID `json:"id"`
	Name           string `json:"name,omitempty"`
	Description    string `json:"description,omitempty"`
	CronExpression string `json:"cron_expression,omitempty"`
}

// TaskID accepts string or numeric ids.
type TaskID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *TaskID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = TaskID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("task id: %w", err)
	}
	*id = TaskID(n.String())
	return nil
}

// DeleteSummary reports a best-effort bulk delete.
type DeleteSummary struct {
	Listed  int
	Deleted int
	Failed  int
}

// Client talks to the scheduler for one (token, model ref) pair. It
// resolves its endpoint from the token on construction.
type Client struct {
	baseURL  string
	basePath string
	token    string
	modelRef string
	http     *http.Client
	retry    retry.Config
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewClient creates a client scoped to token and modelRef.
func NewClient(token, modelRef string, opts Options) (*Client, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 300 * time.Second
	}
	if opts.Rewrites == nil {
		opts.Rewrites = DefaultRewrites()
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultConfig()
	}

	baseURL, err := auth.BaseURL(token, opts.Rewrites)
	if err != nil {
		return nil, fmt.Errorf("scheduler endpoint: %w", err)
	}
	domainID, modelID, err := SplitModelRef(modelRef)
	if err != nil {
		return nil, err
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
		if opts.InsecureSkipVerify {
			client.Transport = &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, // #nosec G402 -- operator opt-in for self-signed deployments
			}
		}
	}

	return &Client{
		baseURL:  baseURL,
		basePath: "/v1/domains/" + url.PathEscape(domainID) + "/models/" + url.PathEscape(modelID) + "/scheduling",
		token:    token,
		modelRef: modelRef,
		http:     client,
		retry:    opts.Retry,
		logger:   opts.Logger.With("component", "scheduler", "model_ref", modelRef),
		metrics:  opts.Metrics,
	}, nil
}

// SplitModelRef splits org|domain|model into its domain and model ids.
func SplitModelRef(modelRef string) (domainID, modelID string, err error) {
	parts := strings.Split(modelRef, "|")
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidModelRef, modelRef)
	}
	return parts[1], parts[2], nil
}

// BaseURL returns the resolved scheduler endpoint.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CreateTask registers a recurring task. The cron expression is validated
// before any request is made.
func (c *Client) CreateTask(ctx context.Context, spec TaskSpec) (*Task, error) {
	if _, err := ValidateCron(spec.CronExpression); err != nil {
		return nil, err
	}
	if strings.TrimSpace(spec.CallbackURL) == "" {
		return nil, errors.New("callback url is required")
	}
	body, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}

	code, data, err := c.do(ctx, http.MethodPost, c.basePath, body)
	if err != nil {
		c.metrics.SchedulerRequest("create_task", "error")
		return nil, err
	}
	if err := retry.CheckStatus(code, data); err != nil {
		c.metrics.SchedulerRequest("create_task", "failed")
		return nil, fmt.Errorf("create task %q: %w", spec.Name, err)
	}

	var task Task
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &task); err != nil {
			c.logger.Warn("could not decode created task", "error", err)
		}
	}
	c.metrics.SchedulerRequest("create_task", "ok")
	c.logger.Info("created task", "name", spec.Name, "task_id", task.ID, "cron", spec.CronExpression)
	return &task, nil
}

// ListTasks lists every task for the model. Transport and 5xx failures are
// retried.
func (c *Client) ListTasks(ctx context.Context) ([]Task, error) {
	tasks, result := retry.DoWithValue(ctx, c.retry, func() ([]Task, error) {
		code, data, err := c.do(ctx, http.MethodGet, c.basePath, nil)
		if err != nil {
			return nil, err
		}
		if err := retry.CheckStatus(code, data); err != nil {
			return nil, err
		}
		var tasks []Task
		if err := json.Unmarshal(data, &tasks); err != nil {
			return nil, retry.Permanent(fmt.Errorf("decode tasks: %w", err))
		}
		return tasks, nil
	})
	if result.Err != nil {
		c.metrics.SchedulerRequest("list_tasks", "failed")
		return nil, fmt.Errorf("list tasks: %w", result.Err)
	}
	c.metrics.SchedulerRequest("list_tasks", "ok")
	return tasks, nil
}

// DeleteTask deletes one task.
func (c *Client) DeleteTask(ctx context.Context, id TaskID) error {
	code, data, err := c.do(ctx, http.MethodDelete, c.basePath+"/"+url.PathEscape(string(id)), nil)
	if err != nil {
		c.metrics.SchedulerRequest("delete_task", "error")
		return err
	}
	if err := retry.CheckStatus(code, data); err != nil {
		c.metrics.SchedulerRequest("delete_task", "failed")
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	c.metrics.SchedulerRequest("delete_task", "ok")
	return nil
}

// DeleteAllTasks deletes every task for the model. Individual delete
// failures are logged and counted; only a failed listing is an error.
func (c *Client) DeleteAllTasks(ctx context.Context) (DeleteSummary, error) {
	tasks, err := c.ListTasks(ctx)
	if err != nil {
		return DeleteSummary{}, err
	}

	summary := DeleteSummary{Listed: len(tasks)}
	for _, task := range tasks {
		if err := c.DeleteTask(ctx, task.ID); err != nil {
			summary.Failed++
			c.logger.Warn("failed to delete task", "task_id", task.ID, "error", err)
			continue
		}
		summary.Deleted++
	}
	c.logger.Info("deleted tasks", "listed", summary.Listed, "deleted", summary.Deleted, "failed", summary.Failed)
	return summary, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, nil
}
