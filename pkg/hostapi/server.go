// Package hostapi exposes the host's lifecycle, catalog, and override
// operations over an administrative HTTP API. It is a thin CRUD layer over
// the configuration and override documents plus synchronous calls into
// mcphost; it carries no authentication and is meant for a trusted local
// operator surface.
package hostapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/vikashloomba/mcp-host-go/pkg/mcpclient"
	"github.com/vikashloomba/mcp-host-go/pkg/mcphost"
)

// Server is the admin API front for one Host.
type Server struct {
	host    *mcphost.Host
	opts    Options
	handler http.Handler

	httpServerMu sync.Mutex
	httpServer   *http.Server
}

// NewServer builds the admin API around an existing host.
func NewServer(host *mcphost.Host, opts *Options) (*Server, error) {
	if host == nil {
		return nil, fmt.Errorf("hostapi: host is required")
	}
	s := &Server{host: host, opts: opts.withDefaults()}
	s.handler = cors.AllowAll().Handler(s.routes())
	return s, nil
}

// Handler exposes the routed handler, mainly for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe runs the API until the context is cancelled or the server
// stops on its own.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpServerMu.Lock()
	if s.httpServer != nil {
		serv := s.httpServer
		s.httpServerMu.Unlock()
		return fmt.Errorf("hostapi: server already running on %s", serv.Addr)
	}
	srv := &http.Server{Addr: s.opts.Addr, Handler: s.handler}
	s.httpServer = srv
	s.httpServerMu.Unlock()
	defer func() {
		s.httpServerMu.Lock()
		if s.httpServer == srv {
			s.httpServer = nil
		}
		s.httpServerMu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the embedded HTTP server if it is running.
func (s *Server) Shutdown(ctx context.Context) error {
	s.httpServerMu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.httpServerMu.Unlock()
	if srv == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return srv.Shutdown(ctx)
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /api/servers", s.handleListServers)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/tools", s.handleAllTools)
	mux.HandleFunc("GET /api/tools/guide", s.handleToolsGuide)
	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("POST /api/config", s.handleSetConfig)
	mux.HandleFunc("POST /api/tool/call", s.handleToolCall)
	mux.HandleFunc("POST /api/server/add", s.handleAddServer)
	mux.HandleFunc("POST /api/server/toggle", s.handleToggleServer)
	mux.HandleFunc("GET /api/server/{name}/tools", s.handleServerTools)
	mux.HandleFunc("GET /api/server/{name}/prompts", s.handleServerPrompts)
	mux.HandleFunc("GET /api/server/{name}/resources", s.handleServerResources)
	mux.HandleFunc("GET /api/server/{name}/tool-schema", s.handleToolSchema)
	mux.HandleFunc("GET /api/server/{name}/config", s.handleGetServerConfig)
	mux.HandleFunc("POST /api/server/{name}/config", s.handleSetServerConfig)
	mux.HandleFunc("POST /api/server/{name}/call", s.handleServerCall)
	mux.HandleFunc("POST /api/server/{name}/validate", s.handleValidateServer)
	mux.HandleFunc("POST /api/server/{name}/tools/toggle", s.handleToggleTool)
	mux.HandleFunc("POST /api/server/{name}/tools/note", s.handleToolNote)
	mux.HandleFunc("DELETE /api/server/{name}", s.handleDeleteServer)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.opts.Logger.Warn("response encode failed", zap.Error(err))
	}
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func decodeBody(r *http.Request, into any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(into)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "Host is running"})
}

type serverListing struct {
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	URL         string `json:"url,omitempty"`
	Enabled     bool   `json:"enabled"`
	Note        string `json:"note,omitempty"`
	Description string `json:"description"`
}

// handleListServers reports every configured server with the override
// document's server-level enabled flag layered over the config entry's.
func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	doc := loadConfig(s.host.ConfigPath())
	states := s.host.States().Load()
	out := []serverListing{}
	for _, name := range doc.Names() {
		entry := doc.Servers[name]
		enabled := entry.IsEnabled()
		if sstate, ok := states[name]; ok && sstate.Enabled != nil {
			enabled = *sstate.Enabled
		}
		out = append(out, serverListing{
			Name:        name,
			Type:        entry.Type,
			URL:         entry.URL,
			Enabled:     enabled,
			Note:        entry.Note,
			Description: entry.Note,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"servers": out,
		"meta": map[string]any{
			"config_path":      s.host.ConfigPath(),
			"mcpServers_count": len(doc.Servers),
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	s.writeJSON(w, http.StatusOK, s.host.HealthCheck(r.Context(), name))
}

func (s *Server) handleAllTools(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"tools": s.host.ListAllTools(r.Context())})
}

func (s *Server) handleToolsGuide(w http.ResponseWriter, r *http.Request) {
	registry := s.host.ListAllTools(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]any{"guide": s.host.ToolsGuide(registry)})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	path := s.host.ConfigPath()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.writeJSON(w, http.StatusOK, map[string]string{"path": path, "text": "{\n  \"mcpServers\": {}\n}"})
			return
		}
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"path": path, "text": string(raw)})
}

// handleSetConfig replaces the whole config document from raw text, then
// reloads the host so dropped servers lose their clients.
func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := decodeBody(r, &payload); err != nil || payload.Text == "" {
		s.badRequest(w, "text required")
		return
	}
	var doc mcpclient.Document
	if err := json.Unmarshal([]byte(payload.Text), &doc); err != nil {
		s.badRequest(w, "invalid json")
		return
	}
	for name, entry := range doc.Servers {
		if err := entry.Validate(name); err != nil {
			s.badRequest(w, err.Error())
			return
		}
	}
	if err := saveConfig(s.host.ConfigPath(), &doc); err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.host.ReloadConfig(r.Context(), "")
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type toolListing struct {
	mcpclient.ToolDescriptor
	Enabled   bool   `json:"enabled"`
	StateNote string `json:"state_note,omitempty"`
}

// handleServerTools returns one server's live catalog augmented with the
// per-tool override flags, so the operator sees disabled tools too.
func (s *Server) handleServerTools(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	doc := loadConfig(s.host.ConfigPath())
	if entry, ok := doc.Servers[name]; ok && !entry.IsEnabled() {
		s.badRequest(w, "Server disabled")
		return
	}
	page := s.host.ListTools(r.Context(), name)
	states := s.host.States().Load()
	out := make([]toolListing, 0, len(page.Tools))
	for _, tool := range page.Tools {
		if tool.Name == "" {
			continue
		}
		out = append(out, toolListing{
			ToolDescriptor: tool,
			Enabled:        mcphost.ToolEnabled(states, name, tool.Name),
			StateNote:      mcphost.ToolNote(states, name, tool.Name),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"tools":          out,
		"remote_enabled": page.RemoteEnabled,
	})
}

func (s *Server) handleServerPrompts(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	client := s.host.Client(name)
	if client == nil {
		if !s.host.EnableServer(r.Context(), name) {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "Server not found"})
			return
		}
		client = s.host.Client(name)
	}
	s.writeJSON(w, http.StatusOK, client.ListPrompts(r.Context()))
}

func (s *Server) handleServerResources(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	client := s.host.Client(name)
	if client == nil {
		if !s.host.EnableServer(r.Context(), name) {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "Server not found"})
			return
		}
		client = s.host.Client(name)
	}
	s.writeJSON(w, http.StatusOK, client.ListResources(r.Context()))
}

func (s *Server) handleToolSchema(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	toolName := r.URL.Query().Get("name")
	if toolName == "" {
		s.badRequest(w, "Missing tool name")
		return
	}
	page := s.host.ListTools(r.Context(), name)
	for _, tool := range page.Tools {
		if tool.Name == toolName {
			s.writeJSON(w, http.StatusOK, tool)
			return
		}
	}
	s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "Tool not found"})
}

func (s *Server) handleGetServerConfig(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	doc := loadConfig(s.host.ConfigPath())
	entry, ok := doc.Servers[name]
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "Server not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"name":  name,
		"entry": entry,
		"meta":  map[string]string{"config_path": s.host.ConfigPath()},
	})
}

// handleSetServerConfig patches one entry, merging the supplied keys over
// the existing definition, optionally renaming it. The merged entry must
// pass validation before anything is persisted; the affected client is
// dropped so the next use reconnects with the new settings.
func (s *Server) handleSetServerConfig(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var payload struct {
		Name  string          `json:"name"`
		Entry json.RawMessage `json:"entry"`
	}
	if err := decodeBody(r, &payload); err != nil || len(payload.Entry) == 0 {
		s.badRequest(w, "entry required")
		return
	}
	newName := payload.Name
	if newName == "" {
		newName = name
	}
	doc := loadConfig(s.host.ConfigPath())
	merged := mcpclient.ServerEntry{}
	if existing, ok := doc.Servers[name]; ok {
		merged = *existing
	}
	if err := json.Unmarshal(payload.Entry, &merged); err != nil {
		s.badRequest(w, "invalid entry")
		return
	}
	if err := merged.Validate(newName); err != nil {
		s.badRequest(w, err.Error())
		return
	}
	if newName != name {
		delete(doc.Servers, name)
	}
	doc.Servers[newName] = &merged
	if err := saveConfig(s.host.ConfigPath(), doc); err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.host.ReloadConfig(r.Context(), "")
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "name": newName, "entry": &merged})
}

func (s *Server) handleToolCall(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name       string         `json:"name"`
		Tool       string         `json:"tool"`
		Parameters map[string]any `json:"parameters"`
		Arguments  map[string]any `json:"arguments"`
		Server     string         `json:"server"`
	}
	if err := decodeBody(r, &payload); err != nil {
		s.badRequest(w, "invalid body")
		return
	}
	name := payload.Name
	if name == "" {
		name = payload.Tool
	}
	params := payload.Parameters
	if params == nil {
		params = payload.Arguments
	}
	if name == "" {
		s.badRequest(w, "name/tool and parameters/arguments required")
		return
	}
	spec := map[string]any{"name": name, "parameters": params}
	if payload.Server != "" {
		spec["server"] = payload.Server
	}
	s.writeJSON(w, http.StatusOK, s.host.CallToolBySpec(r.Context(), spec))
}

func (s *Server) handleServerCall(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var payload struct {
		Tool      string         `json:"tool"`
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := decodeBody(r, &payload); err != nil {
		s.badRequest(w, "invalid body")
		return
	}
	tool := payload.Tool
	if tool == "" {
		tool = payload.Name
	}
	if tool == "" {
		s.badRequest(w, "tool and arguments required")
		return
	}
	doc := loadConfig(s.host.ConfigPath())
	entry, ok := doc.Servers[name]
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "Server not found"})
		return
	}
	if !entry.IsEnabled() {
		s.badRequest(w, "Server disabled")
		return
	}
	outcome := s.host.CallServerTool(r.Context(), name, tool, payload.Arguments)
	if !outcome.OK() {
		s.writeJSON(w, http.StatusOK, map[string]any{"result": nil, "diagnostic": outcome.Diagnostic})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"result": outcome.Result})
}

// handleValidateServer proves connectivity by listing tools and reporting
// the count; an empty catalog is a soft failure the operator can act on.
func (s *Server) handleValidateServer(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	doc := loadConfig(s.host.ConfigPath())
	if _, ok := doc.Servers[name]; !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "Server not found"})
		return
	}
	page := s.host.ListTools(r.Context(), name)
	if len(page.Tools) > 0 {
		s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "tools_count": len(page.Tools)})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": false, "tools_count": 0, "error": "No tools returned"})
}

// handleToggleServer flips one server's enabled flag in both the config
// document and the override document, then applies it to the live host.
func (s *Server) handleToggleServer(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name    string `json:"name"`
		Enabled *bool  `json:"enabled"`
	}
	if err := decodeBody(r, &payload); err != nil || payload.Name == "" || payload.Enabled == nil {
		s.badRequest(w, "name and enabled required")
		return
	}
	doc := loadConfig(s.host.ConfigPath())
	entry, ok := doc.Servers[payload.Name]
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "Server not found"})
		return
	}
	entry.Enabled = payload.Enabled
	if err := saveConfig(s.host.ConfigPath(), doc); err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	states := s.host.States().Load()
	sstate := states[payload.Name]
	sstate.Enabled = payload.Enabled
	states[payload.Name] = sstate
	if err := s.host.States().Save(states); err != nil {
		s.opts.Logger.Warn("override save failed", zap.Error(err))
	}

	s.host.ReloadConfig(r.Context(), "")
	if *payload.Enabled {
		s.host.EnableServer(r.Context(), payload.Name)
	} else {
		s.host.DisableServer(payload.Name)
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleToggleTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var payload struct {
		Tool    string `json:"tool"`
		Enabled *bool  `json:"enabled"`
	}
	if err := decodeBody(r, &payload); err != nil || payload.Tool == "" || payload.Enabled == nil {
		s.badRequest(w, "tool and enabled required")
		return
	}
	if err := s.host.States().SetToolOverride(name, payload.Tool, payload.Enabled, nil); err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "tool": payload.Tool, "enabled": *payload.Enabled})
}

func (s *Server) handleToolNote(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var payload struct {
		Tool string  `json:"tool"`
		Note *string `json:"note"`
	}
	if err := decodeBody(r, &payload); err != nil || payload.Tool == "" || payload.Note == nil {
		s.badRequest(w, "tool and note required")
		return
	}
	if err := s.host.States().SetToolOverride(name, payload.Tool, nil, payload.Note); err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleAddServer(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	}
	if err := decodeBody(r, &payload); err != nil || payload.Name == "" || payload.URL == "" {
		s.badRequest(w, "name and url required")
		return
	}
	enabled := true
	doc := loadConfig(s.host.ConfigPath())
	doc.Servers[payload.Name] = &mcpclient.ServerEntry{
		Type:    "streamable-http",
		URL:     payload.URL,
		Enabled: &enabled,
	}
	if err := saveConfig(s.host.ConfigPath(), doc); err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.host.ReloadConfig(r.Context(), "")
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleDeleteServer removes the entry, prunes its override state, and
// drops the live client.
func (s *Server) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	doc := loadConfig(s.host.ConfigPath())
	delete(doc.Servers, name)
	if err := saveConfig(s.host.ConfigPath(), doc); err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	states := s.host.States().Load()
	for server := range states {
		if _, ok := doc.Servers[server]; !ok {
			delete(states, server)
		}
	}
	if err := s.host.States().Save(states); err != nil {
		s.opts.Logger.Warn("override prune failed", zap.Error(err))
	}

	s.host.ReloadConfig(r.Context(), "")
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
