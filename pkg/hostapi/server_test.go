package hostapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikashloomba/mcp-host-go/pkg/mcpclient"
	"github.com/vikashloomba/mcp-host-go/pkg/mcphost"
)

type stubClient struct {
	tools  []mcpclient.ToolDescriptor
	result json.RawMessage
}

func (c *stubClient) ListTools(ctx context.Context) mcpclient.ToolListPage {
	return mcpclient.ToolListPage{Tools: c.tools, RemoteEnabled: true}
}

func (c *stubClient) ListPrompts(ctx context.Context) mcpclient.PromptListPage {
	return mcpclient.PromptListPage{Prompts: []mcpclient.Prompt{{Name: "greeting"}}, RemoteEnabled: true}
}

func (c *stubClient) ListResources(ctx context.Context) mcpclient.ResourceListPage {
	return mcpclient.ResourceListPage{Resources: []mcpclient.Resource{}, RemoteEnabled: true}
}

func (c *stubClient) CallTool(ctx context.Context, name string, args map[string]any) mcpclient.CallOutcome {
	if c.result == nil {
		return mcpclient.CallOutcome{Diagnostic: "no result"}
	}
	return mcpclient.CallOutcome{Result: c.result}
}

func (c *stubClient) Ping(ctx context.Context) bool { return true }
func (c *stubClient) Close() error                  { return nil }

func newTestAPI(t *testing.T) (*Server, *mcphost.Host, string) {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "mcp_server_config.json")
	doc := mcpclient.Document{Servers: map[string]*mcpclient.ServerEntry{
		"weather": {Type: "stdio", Command: "weather-srv", Note: "city forecasts"},
	}}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(configPath, raw, 0o644))

	stub := &stubClient{
		tools:  []mcpclient.ToolDescriptor{{Name: "get_forecast", Description: "Forecast for a city"}},
		result: json.RawMessage(`{"temp":21}`),
	}
	host := mcphost.NewHost(&mcphost.Options{
		ConfigPath: configPath,
		StatePath:  filepath.Join(dir, "tool_states.json"),
		Factory: func(doc *mcpclient.Document, name string, entry *mcpclient.ServerEntry) (mcpclient.ToolClient, error) {
			return stub, nil
		},
	})
	t.Cleanup(host.Close)

	api, err := NewServer(host, nil)
	require.NoError(t, err)
	return api, host, configPath
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), "body: %s", rec.Body.String())
	}
	return rec, decoded
}

func TestListServersEndpoint(t *testing.T) {
	t.Parallel()
	api, _, _ := newTestAPI(t)

	rec, body := doJSON(t, api.Handler(), http.MethodGet, "/api/servers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	servers := body["servers"].([]any)
	require.Len(t, servers, 1)
	entry := servers[0].(map[string]any)
	assert.Equal(t, "weather", entry["name"])
	assert.Equal(t, true, entry["enabled"])
	assert.Equal(t, "city forecasts", entry["note"])
}

func TestServerToolsEndpointShowsOverrides(t *testing.T) {
	t.Parallel()
	api, host, _ := newTestAPI(t)

	off := false
	require.NoError(t, host.States().SetToolOverride("weather", "get_forecast", &off, nil))

	rec, body := doJSON(t, api.Handler(), http.MethodGet, "/api/server/weather/tools", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tools := body["tools"].([]any)
	require.Len(t, tools, 1)
	tool := tools[0].(map[string]any)
	assert.Equal(t, "get_forecast", tool["name"])
	// The admin view surfaces disabled tools instead of hiding them.
	assert.Equal(t, false, tool["enabled"])
}

func TestToolToggleAndAggregate(t *testing.T) {
	t.Parallel()
	api, host, _ := newTestAPI(t)

	rec, _ := doJSON(t, api.Handler(), http.MethodPost, "/api/server/weather/tools/toggle",
		map[string]any{"tool": "get_forecast", "enabled": false})
	require.Equal(t, http.StatusOK, rec.Code)

	registry := host.ListAllTools(context.Background())
	assert.NotContains(t, registry, "get_forecast")

	rec, _ = doJSON(t, api.Handler(), http.MethodPost, "/api/server/weather/tools/toggle",
		map[string]any{"tool": "get_forecast", "enabled": true})
	require.Equal(t, http.StatusOK, rec.Code)
	registry = host.ListAllTools(context.Background())
	assert.Contains(t, registry, "get_forecast")
}

func TestToolCallEndpoint(t *testing.T) {
	t.Parallel()
	api, _, _ := newTestAPI(t)

	rec, body := doJSON(t, api.Handler(), http.MethodPost, "/api/tool/call",
		map[string]any{"name": "get_forecast", "parameters": map[string]any{"city": "Oslo"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "weather", body["server"])
	assert.Equal(t, map[string]any{"temp": float64(21)}, body["result"])

	rec, body = doJSON(t, api.Handler(), http.MethodPost, "/api/tool/call",
		map[string]any{"name": "missing_tool"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tool not found", body["error"])

	rec, _ = doJSON(t, api.Handler(), http.MethodPost, "/api/tool/call", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServerCallEndpoint(t *testing.T) {
	t.Parallel()
	api, _, _ := newTestAPI(t)

	rec, body := doJSON(t, api.Handler(), http.MethodPost, "/api/server/weather/call",
		map[string]any{"tool": "get_forecast", "arguments": map[string]any{"city": "Oslo"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"temp": float64(21)}, body["result"])

	rec, _ = doJSON(t, api.Handler(), http.MethodPost, "/api/server/ghost/call",
		map[string]any{"tool": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerToggleEndpoint(t *testing.T) {
	t.Parallel()
	api, host, configPath := newTestAPI(t)

	rec, _ := doJSON(t, api.Handler(), http.MethodPost, "/api/server/toggle",
		map[string]any{"name": "weather", "enabled": false})
	require.Equal(t, http.StatusOK, rec.Code)

	// Persisted in the config document.
	doc, err := mcpclient.LoadDocument(configPath)
	require.NoError(t, err)
	assert.False(t, doc.Servers["weather"].IsEnabled())
	// Applied to the live host.
	assert.Empty(t, host.ListServers())

	rec, _ = doJSON(t, api.Handler(), http.MethodPost, "/api/server/toggle",
		map[string]any{"name": "weather", "enabled": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, host.ListServers(), 1)
}

func TestConfigRoundTrip(t *testing.T) {
	t.Parallel()
	api, host, _ := newTestAPI(t)

	rec, body := doJSON(t, api.Handler(), http.MethodGet, "/api/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body["text"], "weather")

	next := `{"mcpServers":{"news":{"type":"http","url":"http://news.local"}}}`
	rec, _ = doJSON(t, api.Handler(), http.MethodPost, "/api/config", map[string]any{"text": next})
	require.Equal(t, http.StatusOK, rec.Code)

	summaries := host.ListServers()
	require.Len(t, summaries, 1)
	assert.Equal(t, "news", summaries[0].Name)

	rec, _ = doJSON(t, api.Handler(), http.MethodPost, "/api/config", map[string]any{"text": "{bad"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetConfigRejectsInvalidEntries(t *testing.T) {
	t.Parallel()
	api, host, configPath := newTestAPI(t)

	// A stdio entry without a command never reaches disk.
	bad := `{"mcpServers":{"bad":{"type":"stdio"}}}`
	rec, _ := doJSON(t, api.Handler(), http.MethodPost, "/api/config", map[string]any{"text": bad})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	doc, err := mcpclient.LoadDocument(configPath)
	require.NoError(t, err)
	assert.NotContains(t, doc.Servers, "bad")
	require.Len(t, host.ListServers(), 1)
}

func TestServerConfigMergesPatchAndValidates(t *testing.T) {
	t.Parallel()
	api, _, configPath := newTestAPI(t)

	// A partial patch keeps the untouched fields of the existing entry.
	rec, body := doJSON(t, api.Handler(), http.MethodPost, "/api/server/weather/config",
		map[string]any{"entry": map[string]any{"note": "updated note"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])

	doc, err := mcpclient.LoadDocument(configPath)
	require.NoError(t, err)
	entry := doc.Servers["weather"]
	require.NotNil(t, entry)
	assert.Equal(t, "weather-srv", entry.Command)
	assert.Equal(t, "updated note", entry.Note)

	// A patch that leaves the entry invalid is rejected before persisting.
	rec, _ = doJSON(t, api.Handler(), http.MethodPost, "/api/server/weather/config",
		map[string]any{"entry": map[string]any{"command": ""}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	doc, err = mcpclient.LoadDocument(configPath)
	require.NoError(t, err)
	assert.Equal(t, "weather-srv", doc.Servers["weather"].Command)
}

func TestAddAndDeleteServer(t *testing.T) {
	t.Parallel()
	api, host, configPath := newTestAPI(t)

	rec, _ := doJSON(t, api.Handler(), http.MethodPost, "/api/server/add",
		map[string]any{"name": "news", "url": "http://news.local"})
	require.Equal(t, http.StatusOK, rec.Code)
	doc, err := mcpclient.LoadDocument(configPath)
	require.NoError(t, err)
	require.Contains(t, doc.Servers, "news")
	assert.Equal(t, "streamable-http", doc.Servers["news"].Type)

	// Seed override state for weather, then delete it; the state is pruned.
	off := false
	require.NoError(t, host.States().SetToolOverride("weather", "get_forecast", &off, nil))

	rec, _ = doJSON(t, api.Handler(), http.MethodDelete, "/api/server/weather", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	doc, err = mcpclient.LoadDocument(configPath)
	require.NoError(t, err)
	assert.NotContains(t, doc.Servers, "weather")
	assert.NotContains(t, host.States().Load(), "weather")
}

func TestValidateAndHealthEndpoints(t *testing.T) {
	t.Parallel()
	api, _, _ := newTestAPI(t)

	rec, body := doJSON(t, api.Handler(), http.MethodPost, "/api/server/weather/validate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, float64(1), body["tools_count"])

	rec, body = doJSON(t, api.Handler(), http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	weather := body["weather"].(map[string]any)
	assert.Equal(t, "running", weather["status"])
}

func TestToolsGuideEndpoint(t *testing.T) {
	t.Parallel()
	api, _, _ := newTestAPI(t)

	rec, body := doJSON(t, api.Handler(), http.MethodGet, "/api/tools/guide", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body["guide"], "get_forecast")
}
