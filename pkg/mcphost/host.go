package mcphost

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vikashloomba/mcp-host-go/pkg/mcpclient"
)

// Status is the runtime state of one configured server.
type Status string

const (
	StatusUnknown  Status = "unknown"
	StatusRunning  Status = "running"
	StatusDown     Status = "down"
	StatusDisabled Status = "disabled"
)

// ClientFactory constructs the transport-appropriate client for one server
// entry. Injected mainly so tests can substitute fakes for real transports.
type ClientFactory func(doc *mcpclient.Document, name string, entry *mcpclient.ServerEntry) (mcpclient.ToolClient, error)

// Options configure a Host.
type Options struct {
	// ConfigPath locates the mcpServers document.
	ConfigPath string
	// StatePath locates the tool override document. Defaults to
	// tool_states.json beside the config file.
	StatePath string
	// Timeout is passed through to transport clients.
	Timeout time.Duration
	// Correlated enables per-request response correlation on stdio clients
	// instead of the default single-flight discipline.
	Correlated bool
	// Factory overrides client construction.
	Factory ClientFactory
	// Logger defaults to a nop logger.
	Logger *zap.Logger
}

func (o *Options) withDefaults() *Options {
	out := &Options{}
	if o != nil {
		*out = *o
	}
	if out.StatePath == "" {
		out.StatePath = "tool_states.json"
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	return out
}

type serverMeta struct {
	entry   *mcpclient.ServerEntry
	enabled bool
	status  Status
}

// ServerSummary is the externally visible view of one server.
type ServerSummary struct {
	Name      string              `json:"name"`
	Enabled   bool                `json:"enabled"`
	Status    Status              `json:"status"`
	Transport mcpclient.Transport `json:"transport"`
	Note      string              `json:"note,omitempty"`
}

// HealthStatus is one server's health check verdict.
type HealthStatus struct {
	Enabled bool   `json:"enabled"`
	Status  string `json:"status"`
}

// Host owns the configured server registry and all live client handles.
// Every mutation of the client table happens under the internal mutex; at
// most one live client exists per server name.
type Host struct {
	configPath string
	states     *StateStore
	factory    ClientFactory
	logger     *zap.Logger
	timeout    time.Duration
	correlated bool

	mu         sync.Mutex
	doc        *mcpclient.Document
	servers    map[string]*serverMeta
	clients    map[string]mcpclient.ToolClient
	connecting map[string]chan struct{}
}

// NewHost loads the configuration document and builds the server registry.
// A missing or corrupt config degrades to an empty registry with a log
// entry; construction itself never fails.
func NewHost(opts *Options) *Host {
	opts = opts.withDefaults()
	h := &Host{
		configPath: opts.ConfigPath,
		states:     NewStateStore(opts.StatePath, opts.Logger),
		factory:    opts.Factory,
		logger:     opts.Logger,
		timeout:    opts.Timeout,
		correlated: opts.Correlated,
		servers:    map[string]*serverMeta{},
		clients:    map[string]mcpclient.ToolClient{},
		connecting: map[string]chan struct{}{},
	}
	if h.factory == nil {
		h.factory = h.defaultFactory
	}
	h.mu.Lock()
	h.loadConfigLocked(h.configPath)
	h.mu.Unlock()
	return h
}

func (h *Host) defaultFactory(doc *mcpclient.Document, name string, entry *mcpclient.ServerEntry) (mcpclient.ToolClient, error) {
	if entry.Transport() == mcpclient.TransportStdio {
		return mcpclient.NewStdioClient(doc, name, &mcpclient.StdioOptions{
			Timeout:    h.timeout,
			Correlated: h.correlated,
			Logger:     h.logger,
		})
	}
	return mcpclient.NewHTTPClient(doc, name, &mcpclient.HTTPOptions{
		Timeout: h.timeout,
		Logger:  h.logger,
	})
}

// loadConfigLocked re-reads the config document into the registry, keeping
// the runtime status of servers that survive the reload.
func (h *Host) loadConfigLocked(path string) {
	doc, err := mcpclient.LoadDocument(path)
	if err != nil {
		h.logger.Warn("config load degraded to empty", zap.String("path", path), zap.Error(err))
	}
	h.doc = doc
	next := map[string]*serverMeta{}
	for name, entry := range doc.Servers {
		meta := &serverMeta{entry: entry, enabled: entry.IsEnabled(), status: StatusUnknown}
		if err := entry.Validate(name); err != nil {
			h.logger.Warn("invalid server entry", zap.String("server", name), zap.Error(err))
			meta.enabled = false
			meta.status = StatusDown
		}
		if prev, ok := h.servers[name]; ok && meta.enabled {
			meta.status = prev.status
		}
		next[name] = meta
	}
	h.servers = next
}

// States exposes the override store to the admin surface.
func (h *Host) States() *StateStore { return h.states }

// ConfigPath returns the bound configuration document location.
func (h *Host) ConfigPath() string { return h.configPath }

// connect returns the live client for an enabled server, constructing one
// when absent. Construction runs outside h.mu, so a slow subprocess spawn or
// handshake never stalls unrelated host operations; concurrent callers for
// the same server share a single attempt. A nil return means the server is
// unknown, disabled, or failed to come up.
func (h *Host) connect(name string) mcpclient.ToolClient {
	for {
		h.mu.Lock()
		meta := h.servers[name]
		if meta == nil || !meta.enabled {
			h.mu.Unlock()
			return nil
		}
		if c := h.clients[name]; c != nil {
			h.mu.Unlock()
			return c
		}
		if inflight, ok := h.connecting[name]; ok {
			h.mu.Unlock()
			<-inflight
			continue
		}
		inflight := make(chan struct{})
		h.connecting[name] = inflight
		doc, entry := h.doc, meta.entry
		h.mu.Unlock()

		client, err := h.factory(doc, name, entry)

		h.mu.Lock()
		delete(h.connecting, name)
		close(inflight)
		if err != nil {
			h.logger.Warn("server client construction failed", zap.String("server", name), zap.Error(err))
			if meta := h.servers[name]; meta != nil {
				meta.status = StatusDown
			}
			h.mu.Unlock()
			return nil
		}
		if meta := h.servers[name]; meta == nil || !meta.enabled {
			// Disabled or removed while connecting; discard the fresh client.
			h.mu.Unlock()
			_ = client.Close()
			return nil
		}
		h.clients[name] = client
		h.servers[name].status = StatusRunning
		h.mu.Unlock()
		return client
	}
}

// Start constructs a client for every enabled server that lacks one. With
// prewarm, each stdio server additionally answers one tools/list so the
// subprocess is warm before the first real call; HTTP servers are skipped
// because their connection cost is per-call.
func (h *Host) Start(ctx context.Context, prewarm bool) {
	type target struct {
		name  string
		stdio bool
	}
	h.mu.Lock()
	var targets []target
	for _, name := range h.serverNamesLocked() {
		meta := h.servers[name]
		if meta.enabled {
			targets = append(targets, target{name, meta.entry.Transport() == mcpclient.TransportStdio})
		}
	}
	h.mu.Unlock()

	for _, tgt := range targets {
		client := h.connect(tgt.name)
		if client == nil || !prewarm || !tgt.stdio {
			continue
		}
		started := time.Now()
		page := client.ListTools(ctx)
		h.logger.Info("prewarmed stdio server",
			zap.String("server", tgt.name),
			zap.Duration("took", time.Since(started)),
			zap.Int("tools", len(page.Tools)))
	}
}

func (h *Host) serverNamesLocked() []string {
	names := make([]string, 0, len(h.servers))
	for name := range h.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EnableServer marks the server enabled and ensures a live client exists.
// It reports false for unknown names or when construction fails; an
// existing client makes the call an idempotent success.
func (h *Host) EnableServer(ctx context.Context, name string) bool {
	h.mu.Lock()
	meta := h.servers[name]
	if meta == nil {
		h.mu.Unlock()
		return false
	}
	meta.enabled = true
	h.mu.Unlock()
	return h.connect(name) != nil
}

// DisableServer marks the server disabled and drops its client handle,
// closing it best-effort. It reports false only for unknown names.
func (h *Host) DisableServer(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	meta := h.servers[name]
	if meta == nil {
		return false
	}
	meta.enabled = false
	if client := h.clients[name]; client != nil {
		_ = client.Close()
		delete(h.clients, name)
	}
	meta.status = StatusDisabled
	return true
}

// ListServers returns summaries for the enabled servers in sorted order.
func (h *Host) ListServers() []ServerSummary {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []ServerSummary
	for _, name := range h.serverNamesLocked() {
		meta := h.servers[name]
		if !meta.enabled {
			continue
		}
		out = append(out, ServerSummary{
			Name:      name,
			Enabled:   true,
			Status:    meta.status,
			Transport: meta.entry.Transport(),
			Note:      meta.entry.Note,
		})
	}
	return out
}

// client fetches the live client for an enabled server, lazily constructing
// one when absent.
func (h *Host) client(name string) mcpclient.ToolClient {
	return h.connect(name)
}

// Client exposes the underlying transport client for one server, mainly for
// debugging. It does not lazily construct.
func (h *Host) Client(name string) mcpclient.ToolClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clients[name]
}

// ListTools returns the server's live catalog. Unknown, disabled, or
// unreachable servers yield an empty catalog with RemoteEnabled false.
func (h *Host) ListTools(ctx context.Context, name string) mcpclient.ToolListPage {
	client := h.client(name)
	if client == nil {
		return mcpclient.ToolListPage{Tools: []mcpclient.ToolDescriptor{}, RemoteEnabled: false}
	}
	return client.ListTools(ctx)
}

// CallServerTool invokes the named tool on a specific server with the same
// lazy-enable contract as ListTools. A nil result means "no usable result";
// timeouts and remote errors are not distinguished here.
func (h *Host) CallServerTool(ctx context.Context, server, tool string, args map[string]any) mcpclient.CallOutcome {
	client := h.client(server)
	if client == nil {
		return mcpclient.CallOutcome{Diagnostic: "server unavailable"}
	}
	return client.CallTool(ctx, tool, args)
}

// ReloadConfig re-reads the configuration document. Servers that vanished
// or became disabled lose their clients; enabled servers without a client
// get one constructed. Untouched live clients stay connected.
func (h *Host) ReloadConfig(ctx context.Context, path string) {
	if path == "" {
		path = h.configPath
	}
	h.mu.Lock()
	h.loadConfigLocked(path)
	for name, client := range h.clients {
		meta := h.servers[name]
		if meta != nil && meta.enabled {
			continue
		}
		_ = client.Close()
		delete(h.clients, name)
		if meta != nil {
			meta.status = StatusDisabled
		}
	}
	var pending []string
	for _, name := range h.serverNamesLocked() {
		meta := h.servers[name]
		if meta.enabled && h.clients[name] == nil {
			pending = append(pending, name)
		}
	}
	h.mu.Unlock()

	for _, name := range pending {
		h.connect(name)
	}
}

// HealthCheck pings the named server, or every known server when name is
// empty. Disabled servers are reported without a connection attempt;
// unknown names report status "missing".
func (h *Host) HealthCheck(ctx context.Context, name string) map[string]HealthStatus {
	targets := []string{name}
	if name == "" {
		h.mu.Lock()
		targets = h.serverNamesLocked()
		h.mu.Unlock()
	}

	out := map[string]HealthStatus{}
	for _, target := range targets {
		h.mu.Lock()
		meta := h.servers[target]
		if meta == nil {
			h.mu.Unlock()
			out[target] = HealthStatus{Enabled: false, Status: "missing"}
			continue
		}
		if !meta.enabled {
			h.mu.Unlock()
			out[target] = HealthStatus{Enabled: false, Status: string(StatusDisabled)}
			continue
		}
		h.mu.Unlock()
		client := h.connect(target)
		if client == nil {
			out[target] = HealthStatus{Enabled: true, Status: string(StatusDown)}
			continue
		}

		status := StatusDown
		if client.Ping(ctx) {
			status = StatusRunning
		}
		h.mu.Lock()
		if meta := h.servers[target]; meta != nil {
			meta.status = status
		}
		h.mu.Unlock()
		out[target] = HealthStatus{Enabled: true, Status: string(status)}
	}
	return out
}

// Close drops every client handle, closing each best-effort.
func (h *Host) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name, client := range h.clients {
		_ = client.Close()
		delete(h.clients, name)
	}
}
