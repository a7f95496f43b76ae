package mcpclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/vikashloomba/mcp-host-go/pkg/jsonrpc"
)

const defaultTimeout = 15 * time.Second

// HTTPOptions tune an HTTPClient. The zero value is usable.
type HTTPOptions struct {
	// Timeout bounds each request. Defaults to 15s.
	Timeout time.Duration
	// Headers are merged over the config entry's headers.
	Headers map[string]string
	// PingTool names a cheap tool to invoke for health probes. When empty,
	// Ping degrades to a tools/list round-trip.
	PingTool string
	// PingArgs are the arguments passed to PingTool.
	PingArgs map[string]any
	// HTTPClient overrides the underlying client, mainly for tests.
	HTTPClient *http.Client
	// Logger receives degraded-call diagnostics. Defaults to a nop logger.
	Logger *zap.Logger
}

// HTTPClient issues one JSON-RPC request per operation over HTTP POST. It is
// stateless per call and safe for concurrent use.
type HTTPClient struct {
	server   string
	url      string
	headers  map[string]string
	hc       *http.Client
	timeout  time.Duration
	pingTool string
	pingArgs map[string]any
	logger   *zap.Logger
}

var _ ToolClient = (*HTTPClient)(nil)

// NewHTTPClient resolves the endpoint URL and headers for the named server
// from the document, falling back to the first configured entry and then to
// the MCP_CONNECTION_URL / MCP_SERVER_URL environment overrides. When no URL
// can be resolved the constructor fails with a *ConfigError.
func NewHTTPClient(doc *Document, serverName string, opts *HTTPOptions) (*HTTPClient, error) {
	if opts == nil {
		opts = &HTTPOptions{}
	}
	headers := map[string]string{"Accept": "application/json, text/event-stream"}

	resolved := serverName
	var url string
	if doc != nil {
		if name, entry, ok := doc.ResolveEntry(serverName); ok {
			resolved = name
			url = entry.URL
			for k, v := range entry.Headers {
				headers[k] = v
			}
		}
	}
	if url == "" {
		if v := os.Getenv(EnvConnectionURL); v != "" {
			url = v
		} else if v := os.Getenv(EnvServerURL); v != "" {
			url = v
		}
	}
	if url == "" {
		return nil, configErrorf(resolved, "no MCP server URL configured; set %s or provide an mcpServers entry", EnvConnectionURL)
	}
	for k, v := range opts.Headers {
		headers[k] = v
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		server:   resolved,
		url:      url,
		headers:  headers,
		hc:       hc,
		timeout:  timeout,
		pingTool: opts.PingTool,
		pingArgs: opts.PingArgs,
		logger:   logger.With(zap.String("server", resolved)),
	}, nil
}

// URL returns the resolved endpoint, mainly for logging and summaries.
func (c *HTTPClient) URL() string { return c.url }

// rpc performs one JSON-RPC POST and returns the result payload. Any
// transport failure, non-200 status, or undecodable body degrades to a nil
// result carrying the diagnostic; nothing is raised past this boundary.
func (c *HTTPClient) rpc(ctx context.Context, method string, params any) (json.RawMessage, string) {
	req := jsonrpc.NewRequest(method, params)
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Sprintf("encode request: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Sprintf("build request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		c.logger.Debug("remote MCP request failed", zap.String("method", method), zap.Error(err))
		return nil, fmt.Sprintf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("remote MCP call non-200", zap.String("method", method), zap.Int("status", resp.StatusCode))
		return nil, fmt.Sprintf("http status %d", resp.StatusCode)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Sprintf("read response: %v", err)
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		c.logger.Debug("remote MCP response not JSON decodable", zap.String("method", method))
		return nil, "response not JSON decodable"
	}
	if envelope.Result != nil {
		return envelope.Result, ""
	}
	// Some servers return the payload without a result wrapper.
	return raw, ""
}

// ListTools fetches the server's tool catalog.
func (c *HTTPClient) ListTools(ctx context.Context) ToolListPage {
	page := ToolListPage{Tools: []ToolDescriptor{}, RemoteEnabled: true}
	result, diag := c.rpc(ctx, jsonrpc.MethodListTools, nil)
	if diag != "" {
		page.Diagnostic = diag
		return page
	}
	var res struct {
		Tools []ToolDescriptor `json:"tools"`
	}
	if err := json.Unmarshal(result, &res); err != nil {
		page.Diagnostic = fmt.Sprintf("decode tools: %v", err)
		return page
	}
	if res.Tools != nil {
		page.Tools = res.Tools
	}
	return page
}

// ListPrompts fetches the server's prompt catalog.
func (c *HTTPClient) ListPrompts(ctx context.Context) PromptListPage {
	page := PromptListPage{Prompts: []Prompt{}, RemoteEnabled: true}
	result, diag := c.rpc(ctx, jsonrpc.MethodListPrompts, nil)
	if diag != "" {
		page.Diagnostic = diag
		return page
	}
	var res struct {
		Prompts []Prompt `json:"prompts"`
	}
	if err := json.Unmarshal(result, &res); err != nil {
		page.Diagnostic = fmt.Sprintf("decode prompts: %v", err)
		return page
	}
	if res.Prompts != nil {
		page.Prompts = res.Prompts
	}
	return page
}

// ListResources fetches the server's resource catalog.
func (c *HTTPClient) ListResources(ctx context.Context) ResourceListPage {
	page := ResourceListPage{Resources: []Resource{}, RemoteEnabled: true}
	result, diag := c.rpc(ctx, jsonrpc.MethodListResources, nil)
	if diag != "" {
		page.Diagnostic = diag
		return page
	}
	var res struct {
		Resources []Resource `json:"resources"`
	}
	if err := json.Unmarshal(result, &res); err != nil {
		page.Diagnostic = fmt.Sprintf("decode resources: %v", err)
		return page
	}
	if res.Resources != nil {
		page.Resources = res.Resources
	}
	return page
}

// CallTool invokes the named tool. The result falls back to the inner "data"
// field when the server wraps its payload; failures yield a nil result.
func (c *HTTPClient) CallTool(ctx context.Context, name string, args map[string]any) CallOutcome {
	if args == nil {
		args = map[string]any{}
	}
	result, diag := c.rpc(ctx, jsonrpc.MethodCallTool, jsonrpc.CallParams{Name: name, Arguments: args})
	if diag != "" {
		c.logger.Error("MCP call failed", zap.String("tool", name), zap.String("diagnostic", diag))
		return CallOutcome{Diagnostic: diag}
	}
	unwrapped := unwrapCallResult(result)
	if unwrapped == nil {
		c.logger.Error("MCP call returned no result", zap.String("tool", name))
		return CallOutcome{Diagnostic: "empty result"}
	}
	return CallOutcome{Result: unwrapped}
}

// Ping probes the server. With a configured PingTool it invokes that tool
// and reports whether a result came back; otherwise it falls back to a
// tools/list round-trip.
func (c *HTTPClient) Ping(ctx context.Context) bool {
	if c.pingTool != "" {
		return c.CallTool(ctx, c.pingTool, c.pingArgs).OK()
	}
	return c.ListTools(ctx).Diagnostic == ""
}

// Close is a no-op for the HTTP transport.
func (c *HTTPClient) Close() error { return nil }

// CallToolStream performs a tools/call with a streaming accept header and
// yields the response's raw text lines on the returned channel. The sequence
// is unbounded and non-restartable; empty lines are delivered as "" and
// consumers must handle partial lines defensively. The channel closes when
// the stream ends. Unlike the other operations, a failure to even start the
// stream is an error.
func (c *HTTPClient) CallToolStream(ctx context.Context, name string, args map[string]any) (<-chan string, error) {
	if args == nil {
		args = map[string]any{}
	}
	req := jsonrpc.NewRequest(jsonrpc.MethodCallTool, jsonrpc.CallParams{Name: name, Arguments: args})
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: encode stream request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("mcpclient: build stream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: stream request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("mcpclient: stream http status %d", resp.StatusCode)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines, nil
}
