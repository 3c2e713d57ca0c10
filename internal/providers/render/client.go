// Package render is the adapter for the external GPU rendering provider. The
// client is stateless between calls: it uploads resources, submits workflow
// runs, polls their status and fetches outputs.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"videoswap/internal/infra"
)

const (
	pathUpload         = "/task/openapi/upload"
	pathCreate         = "/task/openapi/create"
	pathStatus         = "/task/openapi/status"
	pathOutputs        = "/task/openapi/outputs"
	pathCancel         = "/task/openapi/cancel"
	pathAccountStatus  = "/uc/openapi/accountStatus"
	pathWorkflowFormat = "/api/openapi/getJsonApiFormat"
)

// Remote status values reported by the provider.
const (
	StatusQueued  = "QUEUED"
	StatusRunning = "RUNNING"
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// Options configures the rendering client.
type Options struct {
	APIKey         string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
	// RateLimit caps outbound requests per second. Zero disables throttling.
	RateLimit float64
	Burst     int
}

// Client performs HTTP calls to the rendering provider's open API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
	limiter    *rate.Limiter
}

// NodeOverride injects a value into one field of one workflow node.
type NodeOverride struct {
	NodeID     string `json:"nodeId"`
	FieldName  string `json:"fieldName"`
	FieldValue string `json:"fieldValue"`
}

// UploadResult identifies an uploaded resource on the provider side.
type UploadResult struct {
	Handle string
	Kind   string
}

// SubmitResult is the provider's acknowledgement of a workflow run.
type SubmitResult struct {
	RemoteJobID  string
	RemoteStatus string
}

// Output is one file produced by a finished remote job.
type Output struct {
	URL         string
	Kind        string
	CostSeconds int
	NodeID      string
}

// AccountInfo is the provider's view of the credential's balance and load.
type AccountInfo struct {
	RemainCoins       string
	RemainMoney       string
	CurrentTaskCounts int
	APIType           string
}

// WorkflowDefinition is the node graph of a provider workflow.
type WorkflowDefinition struct {
	WorkflowRef string
	Nodes       map[string]WorkflowNode
	Raw         json.RawMessage
}

// WorkflowNode is one node of a workflow graph.
type WorkflowNode struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type createRequest struct {
	APIKey       string         `json:"apiKey"`
	WorkflowID   string         `json:"workflowId"`
	NodeInfoList []NodeOverride `json:"nodeInfoList,omitempty"`
}

type createResponse struct {
	TaskID     flexString `json:"taskId"`
	TaskStatus string     `json:"taskStatus"`
}

type taskRequest struct {
	APIKey string `json:"apiKey"`
	TaskID string `json:"taskId"`
}

type uploadResponse struct {
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
}

type outputItem struct {
	FileURL      string     `json:"fileUrl"`
	FileType     string     `json:"fileType"`
	TaskCostTime flexString `json:"taskCostTime"`
	NodeID       flexString `json:"nodeId"`
}

type accountResponse struct {
	RemainCoins       flexString `json:"remainCoins"`
	RemainMoney       flexString `json:"remainMoney"`
	CurrentTaskCounts flexString `json:"currentTaskCounts"`
	APIType           string     `json:"apiType"`
}

type workflowRequest struct {
	APIKey     string `json:"apiKey"`
	WorkflowID string `json:"workflowId"`
}

type workflowResponse struct {
	Prompt string `json:"prompt"`
}

// NewClient constructs a client with defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://www.runninghub.ai"
	}
	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = int(opts.RateLimit) + 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     infra.LoggerOrDiscard(opts.Logger),
		limiter:    limiter,
	}, nil
}

type apiKeyContextKey struct{}

// WithAPIKey overrides the configured credential for calls made with ctx.
func WithAPIKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, apiKeyContextKey{}, strings.TrimSpace(key))
}

func (c *Client) credential(ctx context.Context) (string, error) {
	if key, ok := ctx.Value(apiKeyContextKey{}).(string); ok && key != "" {
		return key, nil
	}
	if c.apiKey == "" {
		return "", ErrMissingAPIKey
	}
	return c.apiKey, nil
}

// HasCredentials reports whether the client has a default credential.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// UploadResource uploads data as a multipart file and returns its provider handle.
// Size limits are the caller's concern; the provider may still reject large payloads.
func (c *Client) UploadResource(ctx context.Context, data []byte, fileName string) (*UploadResult, error) {
	key, err := c.credential(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpload, err)
	}
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		fileName = "upload.bin"
	}
	contentType := ContentTypeFor(fileName)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("apiKey", key); err != nil {
		return nil, fmt.Errorf("%w: encode form: %w", ErrUpload, err)
	}
	if err := writer.WriteField("fileType", resourceKind(contentType)); err != nil {
		return nil, fmt.Errorf("%w: encode form: %w", ErrUpload, err)
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, fileName))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("%w: encode form: %w", ErrUpload, err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("%w: encode form: %w", ErrUpload, err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("%w: encode form: %w", ErrUpload, err)
	}

	var decoded uploadResponse
	if err := c.do(ctx, pathUpload, writer.FormDataContentType(), &body, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpload, err)
	}
	if decoded.FileName == "" {
		return nil, fmt.Errorf("%w: empty file handle", ErrUpload)
	}
	c.logger.Debug().
		Str("file", fileName).
		Str("handle", decoded.FileName).
		Int("bytes", len(data)).
		Msg("render: uploaded resource")
	kind := decoded.FileType
	if kind == "" {
		kind = resourceKind(contentType)
	}
	return &UploadResult{Handle: decoded.FileName, Kind: kind}, nil
}

// SubmitJob starts a run of workflowRef. An empty overrides list runs the workflow unmodified.
func (c *Client) SubmitJob(ctx context.Context, workflowRef string, overrides []NodeOverride) (*SubmitResult, error) {
	key, err := c.credential(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubmit, err)
	}
	workflowRef = strings.TrimSpace(workflowRef)
	if workflowRef == "" {
		return nil, fmt.Errorf("%w: workflow ref is required", ErrSubmit)
	}
	var decoded createResponse
	req := createRequest{APIKey: key, WorkflowID: workflowRef, NodeInfoList: overrides}
	if err := c.postJSON(ctx, pathCreate, req, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubmit, err)
	}
	if decoded.TaskID == "" {
		return nil, fmt.Errorf("%w: empty task id", ErrSubmit)
	}
	status := strings.ToUpper(strings.TrimSpace(decoded.TaskStatus))
	if status == "" {
		status = StatusQueued
	}
	c.logger.Info().
		Str("workflow", workflowRef).
		Str("remote_job_id", string(decoded.TaskID)).
		Int("overrides", len(overrides)).
		Msg("render: submitted job")
	return &SubmitResult{RemoteJobID: string(decoded.TaskID), RemoteStatus: status}, nil
}

// QueryStatus returns the raw provider status string for a remote job.
func (c *Client) QueryStatus(ctx context.Context, remoteJobID string) (string, error) {
	key, err := c.credential(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrQuery, err)
	}
	var status string
	if err := c.postJSON(ctx, pathStatus, taskRequest{APIKey: key, TaskID: remoteJobID}, &status); err != nil {
		return "", fmt.Errorf("%w: %w", ErrQuery, err)
	}
	return strings.TrimSpace(status), nil
}

// FetchOutputs lists the files produced by a remote job. Only meaningful after SUCCESS.
func (c *Client) FetchOutputs(ctx context.Context, remoteJobID string) ([]Output, error) {
	key, err := c.credential(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	var items []outputItem
	if err := c.postJSON(ctx, pathOutputs, taskRequest{APIKey: key, TaskID: remoteJobID}, &items); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	outputs := make([]Output, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item.FileURL) == "" {
			continue
		}
		cost, _ := strconv.ParseFloat(string(item.TaskCostTime), 64)
		outputs = append(outputs, Output{
			URL:         strings.TrimSpace(item.FileURL),
			Kind:        item.FileType,
			CostSeconds: int(cost),
			NodeID:      string(item.NodeID),
		})
	}
	return outputs, nil
}

// CancelRemoteJob asks the provider to stop a remote job.
func (c *Client) CancelRemoteJob(ctx context.Context, remoteJobID string) (bool, error) {
	key, err := c.credential(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrCancel, err)
	}
	if err := c.postJSON(ctx, pathCancel, taskRequest{APIKey: key, TaskID: remoteJobID}, nil); err != nil {
		return false, fmt.Errorf("%w: %w", ErrCancel, err)
	}
	return true, nil
}

// AccountInfo reports the credential's balance and running task count.
func (c *Client) AccountInfo(ctx context.Context) (*AccountInfo, error) {
	key, err := c.credential(ctx)
	if err != nil {
		return nil, err
	}
	var decoded accountResponse
	if err := c.postJSON(ctx, pathAccountStatus, map[string]string{"apikey": key}, &decoded); err != nil {
		return nil, err
	}
	running, _ := strconv.Atoi(string(decoded.CurrentTaskCounts))
	return &AccountInfo{
		RemainCoins:       string(decoded.RemainCoins),
		RemainMoney:       string(decoded.RemainMoney),
		CurrentTaskCounts: running,
		APIType:           decoded.APIType,
	}, nil
}

// WorkflowDefinition fetches the node graph of workflowRef.
func (c *Client) WorkflowDefinition(ctx context.Context, workflowRef string) (*WorkflowDefinition, error) {
	key, err := c.credential(ctx)
	if err != nil {
		return nil, err
	}
	var decoded workflowResponse
	if err := c.postJSON(ctx, pathWorkflowFormat, workflowRequest{APIKey: key, WorkflowID: workflowRef}, &decoded); err != nil {
		return nil, err
	}
	def := &WorkflowDefinition{WorkflowRef: workflowRef, Raw: json.RawMessage(decoded.Prompt)}
	if strings.TrimSpace(decoded.Prompt) != "" {
		if err := json.Unmarshal([]byte(decoded.Prompt), &def.Nodes); err != nil {
			return nil, fmt.Errorf("render: decode workflow graph: %w", err)
		}
	}
	return def, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.do(ctx, path, "application/json", bytes.NewReader(body), out)
}

// do sends one request and unwraps the {code,msg,data} envelope into out.
// A non-zero code is a failure regardless of the HTTP status.
func (c *Client) do(ctx context.Context, path, contentType string, body io.Reader, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug().
		Str("path", path).
		Int("http_status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("render: response")

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 300 {
			return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		return fmt.Errorf("decode response: %w", err)
	}
	if env.Code != 0 {
		return &APIError{Endpoint: path, HTTPStatus: resp.StatusCode, Code: env.Code, Msg: env.Msg}
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(env.Msg))
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

// flexString accepts JSON strings and numbers. The provider is inconsistent
// about quoting ids and counters.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(v))
		return nil
	}
	*f = flexString(s)
	return nil
}
