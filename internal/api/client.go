package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"narrate/internal/statusbus"
)

// Error is a non-2xx daemon response.
type Error struct {
	StatusCode int
	Message    string
	Kind       string
	Hint       string
}

func (e *Error) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Hint != "" {
		return fmt.Sprintf("%s (hint: %s)", msg, e.Hint)
	}
	return msg
}

// IsStatus reports whether err is an *Error with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// BaseURLFromBind turns a listen address into a loopback-friendly URL.
func BaseURLFromBind(bind string) string {
	bind = strings.TrimSpace(bind)
	if strings.HasPrefix(bind, "http://") || strings.HasPrefix(bind, "https://") {
		return strings.TrimRight(bind, "/")
	}
	host, port, err := net.SplitHostPort(bind)
	if err != nil {
		return "http://" + bind
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// Client talks to the daemon HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a client for baseURL. token may be empty when the daemon
// runs without authentication.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: 0},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.http = hc
	}
	return c
}

// BaseURL returns the daemon base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) authHeader() http.Header {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	return header
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	for key, values := range c.authHeader() {
		req.Header[key] = values
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) (int, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode %s %s response: %w", req.Method, req.URL.Path, err)
	}
	return resp.StatusCode, nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &Error{StatusCode: resp.StatusCode}
	var body ErrorResponse
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Kind = body.Kind
		apiErr.Hint = body.Hint
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	_, err = c.do(req, out)
	return err
}

func (c *Client) sendJSON(ctx context.Context, method, path string, payload, out any) (int, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return 0, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func projectPath(id int64) string {
	return "/api/projects/" + strconv.FormatInt(id, 10)
}

func itemPath(projectID, itemID int64) string {
	return projectPath(projectID) + "/items/" + strconv.FormatInt(itemID, 10)
}

// Status returns daemon status.
func (c *Client) Status(ctx context.Context) (*DaemonStatus, error) {
	var out DaemonStatus
	if err := c.getJSON(ctx, "/api/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Doctor runs the daemon-side preflight checks.
func (c *Client) Doctor(ctx context.Context) (*DoctorReport, error) {
	var out DoctorReport
	if err := c.getJSON(ctx, "/api/doctor", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StopDaemon asks the daemon to shut down.
func (c *Client) StopDaemon(ctx context.Context) (*ActionResponse, error) {
	var out ActionResponse
	if _, err := c.sendJSON(ctx, http.MethodPost, "/api/daemon/stop", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TestNotification sends a test push notification through the daemon.
func (c *Client) TestNotification(ctx context.Context) (*ActionResponse, error) {
	var out ActionResponse
	if _, err := c.sendJSON(ctx, http.MethodPost, "/api/notifications/test", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WorkerStatus returns the synthesis worker state.
func (c *Client) WorkerStatus(ctx context.Context) (*WorkerStatus, error) {
	var out WorkerStatus
	if err := c.getJSON(ctx, "/api/worker", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartWorker launches the synthesis worker if needed and waits for it to
// report ready.
func (c *Client) StartWorker(ctx context.Context) (*WorkerStatus, error) {
	var out WorkerStatus
	if _, err := c.sendJSON(ctx, http.MethodPost, "/api/worker/start", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StopWorker terminates the synthesis worker.
func (c *Client) StopWorker(ctx context.Context) (*ActionResponse, error) {
	var out ActionResponse
	if _, err := c.sendJSON(ctx, http.MethodPost, "/api/worker/stop", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListProjects returns every project.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var out ProjectListResponse
	if err := c.getJSON(ctx, "/api/projects", &out); err != nil {
		return nil, err
	}
	return out.Projects, nil
}

// CreateProject creates a project.
func (c *Client) CreateProject(ctx context.Context, title string) (*ProjectResponse, error) {
	var out ProjectResponse
	if _, err := c.sendJSON(ctx, http.MethodPost, "/api/projects", CreateProjectRequest{Title: title}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetProject returns a project with its items.
func (c *Client) GetProject(ctx context.Context, id int64) (*ProjectResponse, error) {
	var out ProjectResponse
	if err := c.getJSON(ctx, projectPath(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RenameProject changes a project title.
func (c *Client) RenameProject(ctx context.Context, id int64, title string) (*ProjectResponse, error) {
	var out ProjectResponse
	if _, err := c.sendJSON(ctx, http.MethodPatch, projectPath(id), RenameProjectRequest{Title: title}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteProject removes a project with its media and video.
func (c *Client) DeleteProject(ctx context.Context, id int64) error {
	_, err := c.sendJSON(ctx, http.MethodDelete, projectPath(id), nil, nil)
	return err
}

// ListItems returns a project's items in position order.
func (c *Client) ListItems(ctx context.Context, projectID int64) ([]Item, error) {
	var out ItemListResponse
	if err := c.getJSON(ctx, projectPath(projectID)+"/items", &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// AddItem appends an item to a project.
func (c *Client) AddItem(ctx context.Context, projectID int64, content, instruct string) (*Item, error) {
	var out ItemResponse
	payload := ItemRequest{Content: &content, Instruct: &instruct}
	if _, err := c.sendJSON(ctx, http.MethodPost, projectPath(projectID)+"/items", payload, &out); err != nil {
		return nil, err
	}
	return &out.Item, nil
}

// UpdateItem changes an item's text or instruct. Nil fields are unchanged.
func (c *Client) UpdateItem(ctx context.Context, projectID, itemID int64, req ItemRequest) (*Item, error) {
	var out ItemResponse
	if _, err := c.sendJSON(ctx, http.MethodPatch, itemPath(projectID, itemID), req, &out); err != nil {
		return nil, err
	}
	return &out.Item, nil
}

// DeleteItem removes an item.
func (c *Client) DeleteItem(ctx context.Context, projectID, itemID int64) error {
	_, err := c.sendJSON(ctx, http.MethodDelete, itemPath(projectID, itemID), nil, nil)
	return err
}

// MoveItem swaps an item with its neighbour. direction is "up" or "down".
func (c *Client) MoveItem(ctx context.Context, projectID, itemID int64, direction string) ([]Item, error) {
	var out ItemListResponse
	if _, err := c.sendJSON(ctx, http.MethodPost, itemPath(projectID, itemID)+"/move", MoveItemRequest{Direction: direction}, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// UploadImage stores an image for an item.
func (c *Client) UploadImage(ctx context.Context, projectID, itemID int64, filename string, image io.Reader) (*Item, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("image", filepath.Base(filename))
	if err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if _, err := io.Copy(part, image); err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPut, itemPath(projectID, itemID)+"/image", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	var out ItemResponse
	if _, err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out.Item, nil
}

// Synthesize generates speech for an item. With wait false the daemon
// queues the task and returns immediately.
func (c *Client) Synthesize(ctx context.Context, projectID, itemID int64, wait bool) (*SynthesisResponse, error) {
	path := itemPath(projectID, itemID) + "/synthesize"
	if !wait {
		path += "?wait=false"
	}
	var out SynthesisResponse
	if _, err := c.sendJSON(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) jobAction(ctx context.Context, projectID int64, action string) (*StatusResponse, error) {
	var out StatusResponse
	if _, err := c.sendJSON(ctx, http.MethodPost, projectPath(projectID)+"/"+action, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Generate starts video assembly. The daemon answers once the run is claimed.
func (c *Client) Generate(ctx context.Context, projectID int64) (*StatusResponse, error) {
	return c.jobAction(ctx, projectID, "generate")
}

// Cancel cancels the project's running job.
func (c *Client) Cancel(ctx context.Context, projectID int64) (*StatusResponse, error) {
	return c.jobAction(ctx, projectID, "cancel")
}

// Reset returns a finished job to not_started.
func (c *Client) Reset(ctx context.Context, projectID int64) (*StatusResponse, error) {
	return c.jobAction(ctx, projectID, "reset")
}

// JobStatus returns the project's job status.
func (c *Client) JobStatus(ctx context.Context, projectID int64) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.getJSON(ctx, projectPath(projectID)+"/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WatchStatus streams status changes for a project until fn returns false
// or ctx ends.
func (c *Client) WatchStatus(ctx context.Context, projectID int64, fn func(JobStatus) bool) error {
	return statusbus.Subscribe(ctx, c.baseURL+projectPath(projectID)+"/events", c.authHeader(), func(evt statusbus.Event) bool {
		return fn(FromJobStatus(evt.Status))
	})
}

// PollStatus polls the status endpoint every interval until fn returns
// false. It serves clients that cannot hold a WebSocket open.
func (c *Client) PollStatus(ctx context.Context, projectID int64, interval time.Duration, fn func(JobStatus) bool) error {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		resp, err := c.JobStatus(ctx, projectID)
		if err != nil {
			return err
		}
		if !fn(resp.Status) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DownloadVideo writes the project's video to w. Redirects to object
// storage are followed.
func (c *Client) DownloadVideo(ctx context.Context, projectID int64, w io.Writer) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, projectPath(projectID)+"/video", nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, decodeError(resp)
	}
	return io.Copy(w, resp.Body)
}

// VideoURL returns the download route for a project video.
func (c *Client) VideoURL(projectID int64) string {
	return c.baseURL + projectPath(projectID) + "/video"
}
