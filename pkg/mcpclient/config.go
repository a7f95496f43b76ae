package mcpclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Transport identifies how a configured server is reached.
type Transport string

const (
	TransportHTTP  Transport = "http"
	TransportStdio Transport = "stdio"
)

// Environment overrides consulted when the caller or the config document
// leaves a value unset: the endpoint URL for HTTP clients, the server name
// for both transports.
const (
	EnvConnectionURL = "MCP_CONNECTION_URL"
	EnvServerURL     = "MCP_SERVER_URL"
	EnvServerName    = "MCP_SERVER_NAME"
)

// ServerEntry is one server definition inside the mcpServers document.
// Which fields are meaningful depends on the transport: url/headers for HTTP,
// command/args/env/cwd for stdio.
type ServerEntry struct {
	Type    string            `json:"type,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
	Enabled *bool             `json:"enabled,omitempty"`
	Note    string            `json:"note,omitempty"`
}

// Transport returns the transport family for the entry. Anything that is not
// explicitly "stdio" is treated as HTTP; configuration in the wild uses
// values like "http" and "streamable-http" interchangeably.
func (e *ServerEntry) Transport() Transport {
	if e != nil && e.Type == string(TransportStdio) {
		return TransportStdio
	}
	return TransportHTTP
}

// IsEnabled reports the entry's enabled flag, defaulting to true when unset.
func (e *ServerEntry) IsEnabled() bool {
	if e == nil {
		return false
	}
	return e.Enabled == nil || *e.Enabled
}

// Validate checks the per-transport required fields. It is run once at load
// time so downstream code never probes optional keys.
func (e *ServerEntry) Validate(name string) error {
	switch e.Transport() {
	case TransportStdio:
		if e.Command == "" {
			return configErrorf(name, "stdio entry is missing a command")
		}
	default:
		if e.URL == "" {
			return configErrorf(name, "http entry is missing a url")
		}
	}
	return nil
}

// Document is the configuration document consumed by clients and the host:
// a mapping of server name to entry under the "mcpServers" key. The document
// is read-only to this package.
type Document struct {
	Servers map[string]*ServerEntry `json:"mcpServers"`
}

// LoadDocument reads and parses a config document. A missing file yields an
// empty document and no error; an unreadable or corrupt file yields an empty
// document alongside the error so callers can keep running on the degraded
// view while still logging the cause. A UTF-8 BOM is tolerated.
func LoadDocument(path string) (*Document, error) {
	empty := &Document{Servers: map[string]*ServerEntry{}}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return empty, nil
		}
		return empty, fmt.Errorf("mcpclient: read config %s: %w", path, err)
	}
	raw = bytes.TrimPrefix(raw, []byte{0xEF, 0xBB, 0xBF})
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return empty, fmt.Errorf("mcpclient: parse config %s: %w", path, err)
	}
	if doc.Servers == nil {
		doc.Servers = map[string]*ServerEntry{}
	}
	return &doc, nil
}

// Names returns the server names in sorted order for deterministic iteration.
func (d *Document) Names() []string {
	names := make([]string, 0, len(d.Servers))
	for name := range d.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveEntry picks the entry for the requested name, falling back to the
// MCP_SERVER_NAME environment override when the name is empty and then to
// the first entry in sorted order. The resolved name is returned alongside
// the entry.
func (d *Document) ResolveEntry(name string) (string, *ServerEntry, bool) {
	if name == "" {
		name = os.Getenv(EnvServerName)
	}
	if name != "" {
		if entry, ok := d.Servers[name]; ok {
			return name, entry, true
		}
	}
	for _, candidate := range d.Names() {
		return candidate, d.Servers[candidate], true
	}
	return "", nil, false
}

// ResolveStdioEntry picks the entry for the requested name when it is a
// stdio entry, consulting the MCP_SERVER_NAME environment override when the
// name is empty, or, failing that, the first stdio entry in sorted order.
func (d *Document) ResolveStdioEntry(name string) (string, *ServerEntry, bool) {
	if name == "" {
		name = os.Getenv(EnvServerName)
	}
	if name != "" {
		if entry, ok := d.Servers[name]; ok && entry.Transport() == TransportStdio {
			return name, entry, true
		}
	}
	for _, candidate := range d.Names() {
		if entry := d.Servers[candidate]; entry.Transport() == TransportStdio {
			return candidate, entry, true
		}
	}
	return "", nil, false
}
