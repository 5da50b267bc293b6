package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chatbi/internal/logging"
)

const (
	DefaultEndpoint = "http://127.0.0.1:8123"
	DefaultAgent    = "sample_agent"

	healthTimeout = 5 * time.Second
)

// Client talks to one AG-UI agent mounted at {endpoint}/agents/{agent}.
type Client struct {
	baseURL     string
	agent       string
	http        *http.Client
	logger      logging.Logger
	streamDebug bool
}

type Option func(*Client)

// WithHTTPClient sets the client used for runs. Its Timeout bounds the whole
// stream, so it is usually zero.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.http = httpClient
		}
	}
}

func WithLogger(logger logging.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithStreamDebug(enabled bool) Option {
	return func(c *Client) {
		c.streamDebug = enabled
	}
}

func New(baseURL, agent string, opts ...Option) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultEndpoint
	}
	agent = strings.TrimSpace(agent)
	if agent == "" {
		agent = DefaultAgent
	}
	c := &Client{
		baseURL:     baseURL,
		agent:       agent,
		http:        &http.Client{},
		logger:      logging.Nop(),
		streamDebug: streamDebugEnabled(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) AgentURL() string {
	return c.baseURL + "/agents/" + url.PathEscape(c.agent)
}

func (c *Client) Agent() string {
	return c.agent
}

func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	httpClient := &http.Client{Timeout: healthTimeout, Transport: c.http.Transport}
	if err := c.doJSONWithClient(ctx, http.MethodGet, c.AgentURL()+"/health", nil, &resp, httpClient); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) doJSONWithClient(ctx context.Context, method, target string, body any, out any, httpClient *http.Client) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// decodeAPIError accepts {"error": "..."} and FastAPI's {"detail": ...}.
func decodeAPIError(resp *http.Response) error {
	type errorPayload struct {
		Error  string          `json:"error"`
		Detail json.RawMessage `json:"detail"`
	}
	var payload errorPayload
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	if payload.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: payload.Error}
	}
	if len(payload.Detail) > 0 {
		var detail string
		if err := json.Unmarshal(payload.Detail, &detail); err != nil {
			detail = string(payload.Detail)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: detail}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
}

type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("api error (%d): %s", e.StatusCode, e.Message)
}

func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return nil
}
