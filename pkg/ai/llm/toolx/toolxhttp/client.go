// Package toolxhttp implements the toolx.ToolServer interface over plain
// HTTP. The server exposes GET /tools for discovery and POST /tools/call for
// invocation.
package toolxhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Abraxas-365/copiloto/pkg/ai/llm/toolx"
	"github.com/Abraxas-365/copiloto/pkg/errx"
)

const (
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 10 << 20
)

var errorRegistry = errx.NewRegistry("TOOLHTTP")

var (
	// ErrRequestFailed indicates the tool server was unreachable or the
	// request could not be built.
	ErrRequestFailed = errorRegistry.Register("REQUEST_FAILED", errx.TypeExternal, http.StatusBadGateway, "Tool server request failed")
	// ErrBadResponse indicates the tool server answered with an unexpected
	// status or an unparseable body.
	ErrBadResponse = errorRegistry.Register("BAD_RESPONSE", errx.TypeExternal, http.StatusBadGateway, "Tool server returned an invalid response")
)

// Client talks to one tool server over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a tool server client for the given base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type listToolsResponse struct {
	Tools []toolx.RegistryEntry `json:"tools"`
}

type callToolRequest struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type callToolResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"is_error"`
}

// ListTools fetches the server's tool catalog.
func (c *Client) ListTools(ctx context.Context) ([]toolx.RegistryEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tools", nil)
	if err != nil {
		return nil, errorRegistry.NewWithCause(ErrRequestFailed, err)
	}

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var parsed listToolsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errorRegistry.NewWithCause(ErrBadResponse, err)
	}
	return parsed.Tools, nil
}

// CallTool invokes a tool by name. Error payloads from the server come back
// as an error-flagged result rather than a Go error.
func (c *Client) CallTool(ctx context.Context, toolName string, args map[string]any) (toolx.Result, error) {
	payload, err := json.Marshal(callToolRequest{Name: toolName, Arguments: args})
	if err != nil {
		return toolx.Result{}, errorRegistry.NewWithCause(ErrRequestFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tools/call", bytes.NewReader(payload))
	if err != nil {
		return toolx.Result{}, errorRegistry.NewWithCause(ErrRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return toolx.Result{}, err
	}

	var parsed callToolResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return toolx.Result{}, errorRegistry.NewWithCause(ErrBadResponse, err)
	}

	var texts []string
	for _, part := range parsed.Content {
		if part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	return toolx.Result{Text: strings.Join(texts, "\n"), IsError: parsed.IsError}, nil
}

// do executes the request and returns the body, capped at maxBodyBytes so a
// misbehaving server cannot exhaust memory.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errorRegistry.NewWithCause(ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, errorRegistry.NewWithCause(ErrBadResponse, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errorRegistry.New(ErrBadResponse).
			WithDetail("status", resp.StatusCode).
			WithDetail("body", fmt.Sprintf("%.200s", string(body)))
	}
	return body, nil
}
