package mcpclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func statefulServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Document) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	doc := &Document{Servers: map[string]*ServerEntry{
		"test": {URL: srv.URL, Headers: map[string]string{"X-Api-Key": "k1"}},
	}}
	return srv, doc
}

func decodeRequest(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatalf("read request body: %v", err)
	}
	var req map[string]any
	if err := json.Unmarshal(raw, &req); err != nil {
		t.Fatalf("request body not JSON: %s", raw)
	}
	return req
}

func TestHTTPClientRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := NewHTTPClient(&Document{Servers: map[string]*ServerEntry{}}, "missing", nil)
	if err == nil {
		t.Fatalf("expected construction error with no URL configured")
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %T: %v", err, err)
	}
}

func TestHTTPClientListTools(t *testing.T) {
	t.Parallel()

	_, doc := statefulServer(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		if req["method"] != "tools/list" {
			t.Errorf("method = %v, expected tools/list", req["method"])
		}
		if r.Header.Get("X-Api-Key") != "k1" {
			t.Errorf("configured header not sent")
		}
		io.WriteString(w, `{"jsonrpc":"2.0","id":"1","result":{"tools":[{"name":"get_forecast","description":"Forecast for a city"}]}}`)
	})

	client, err := NewHTTPClient(doc, "test", nil)
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	page := client.ListTools(context.Background())
	if page.Diagnostic != "" {
		t.Fatalf("unexpected diagnostic: %s", page.Diagnostic)
	}
	if len(page.Tools) != 1 || page.Tools[0].Name != "get_forecast" {
		t.Fatalf("tools = %#v", page.Tools)
	}
	if !page.RemoteEnabled {
		t.Fatalf("remote_enabled should be true")
	}
}

func TestHTTPClientDegradesOnServerError(t *testing.T) {
	t.Parallel()

	_, doc := statefulServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	client, err := NewHTTPClient(doc, "test", nil)
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}

	page := client.ListTools(context.Background())
	if len(page.Tools) != 0 || page.Diagnostic == "" {
		t.Fatalf("expected empty page with diagnostic, got %#v", page)
	}
	outcome := client.CallTool(context.Background(), "anything", nil)
	if outcome.OK() || outcome.Diagnostic == "" {
		t.Fatalf("expected degraded call outcome, got %#v", outcome)
	}
}

func TestHTTPClientDegradesOnGarbageBody(t *testing.T) {
	t.Parallel()

	_, doc := statefulServer(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "<html>not json</html>")
	})
	client, err := NewHTTPClient(doc, "test", nil)
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}

	page := client.ListPrompts(context.Background())
	if len(page.Prompts) != 0 || page.Diagnostic == "" {
		t.Fatalf("expected empty prompts page with diagnostic, got %#v", page)
	}
}

func TestHTTPClientCallToolDataFallback(t *testing.T) {
	t.Parallel()

	_, doc := statefulServer(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"jsonrpc":"2.0","id":"1","result":{"data":{"temp":21}}}`)
	})
	client, err := NewHTTPClient(doc, "test", nil)
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}

	outcome := client.CallTool(context.Background(), "get_forecast", map[string]any{"city": "Oslo"})
	if !outcome.OK() {
		t.Fatalf("expected result, got diagnostic %q", outcome.Diagnostic)
	}
	var payload map[string]any
	if err := json.Unmarshal(outcome.Result, &payload); err != nil {
		t.Fatalf("result not JSON: %v", err)
	}
	if payload["temp"] != float64(21) {
		t.Fatalf("inner data field not unwrapped: %#v", payload)
	}
}

func TestHTTPClientCallToolEmptyResultDegrades(t *testing.T) {
	t.Parallel()

	_, doc := statefulServer(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"jsonrpc":"2.0","id":"1","result":{}}`)
	})
	client, err := NewHTTPClient(doc, "test", nil)
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}

	outcome := client.CallTool(context.Background(), "get_forecast", nil)
	if outcome.OK() {
		t.Fatalf("empty-object result should not be usable, got %s", outcome.Result)
	}
	if outcome.Diagnostic != "empty result" {
		t.Fatalf("diagnostic = %q", outcome.Diagnostic)
	}
}

func TestUnwrapCallResult(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw      string
		expected string
	}{
		{`null`, ""},
		{`{}`, ""},
		{`[]`, ""},
		{`""`, ""},
		{`0`, `0`},
		{`false`, `false`},
		{`{"data":{"temp":21}}`, `{"temp":21}`},
		{`{"data":{}}`, `{"data":{}}`},
		{`{"temp":21}`, `{"temp":21}`},
	}
	for _, tc := range cases {
		got := unwrapCallResult(json.RawMessage(tc.raw))
		if tc.expected == "" {
			if got != nil {
				t.Fatalf("unwrapCallResult(%s) = %s, expected nil", tc.raw, got)
			}
			continue
		}
		if string(got) != tc.expected {
			t.Fatalf("unwrapCallResult(%s) = %s, expected %s", tc.raw, got, tc.expected)
		}
	}
}

func TestHTTPClientResultWithoutWrapper(t *testing.T) {
	t.Parallel()

	// Some servers answer with the payload directly, no jsonrpc envelope.
	_, doc := statefulServer(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"tools":[{"name":"bare"}]}`)
	})
	client, err := NewHTTPClient(doc, "test", nil)
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}

	page := client.ListTools(context.Background())
	if page.Diagnostic != "" || len(page.Tools) != 1 || page.Tools[0].Name != "bare" {
		t.Fatalf("bare payload not accepted: %#v", page)
	}
}

func TestHTTPClientPing(t *testing.T) {
	t.Parallel()

	calls := make(chan string, 4)
	_, doc := statefulServer(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		method, _ := req["method"].(string)
		calls <- method
		if method == "tools/call" {
			io.WriteString(w, `{"jsonrpc":"2.0","id":"1","result":{"ok":true}}`)
			return
		}
		io.WriteString(w, `{"jsonrpc":"2.0","id":"1","result":{"tools":[]}}`)
	})

	client, err := NewHTTPClient(doc, "test", nil)
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	if !client.Ping(context.Background()) {
		t.Fatalf("default ping should succeed via tools/list")
	}
	if got := <-calls; got != "tools/list" {
		t.Fatalf("default ping used %s", got)
	}

	probing, err := NewHTTPClient(doc, "test", &HTTPOptions{PingTool: "echo", PingArgs: map[string]any{"v": 1}})
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	if !probing.Ping(context.Background()) {
		t.Fatalf("probe-tool ping should succeed")
	}
	if got := <-calls; got != "tools/call" {
		t.Fatalf("probe ping used %s", got)
	}
}

func TestHTTPClientCallToolStream(t *testing.T) {
	t.Parallel()

	_, doc := statefulServer(t, func(w http.ResponseWriter, r *http.Request) {
		if accept := r.Header.Get("Accept"); !strings.Contains(accept, "text/event-stream") {
			t.Errorf("stream accept header missing, got %q", accept)
		}
		io.WriteString(w, "data: chunk-1\n\ndata: chunk-2\n")
	})
	client, err := NewHTTPClient(doc, "test", nil)
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}

	lines, err := client.CallToolStream(context.Background(), "long_task", nil)
	if err != nil {
		t.Fatalf("CallToolStream: %v", err)
	}
	var got []string
	for line := range lines {
		got = append(got, line)
	}
	expected := []string{"data: chunk-1", "", "data: chunk-2"}
	if len(got) != len(expected) {
		t.Fatalf("lines = %#v, expected %#v", got, expected)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Fatalf("line %d = %q, expected %q", i, got[i], expected[i])
		}
	}
}

func TestHTTPClientStreamFailsToStart(t *testing.T) {
	t.Parallel()

	_, doc := statefulServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	client, err := NewHTTPClient(doc, "test", nil)
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	if _, err := client.CallToolStream(context.Background(), "long_task", nil); err == nil {
		t.Fatalf("stream against failing endpoint should error")
	}
}
