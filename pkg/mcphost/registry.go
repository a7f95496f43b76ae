package mcphost

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/vikashloomba/mcp-host-go/pkg/mcpclient"
)

// RegistryEntry is one aggregated tool: the descriptor plus its owning
// server. The aggregate map is keyed by tool name globally; it is rebuilt on
// every ListAllTools call and never mutated in place.
type RegistryEntry struct {
	Server     string                   `json:"server"`
	Descriptor mcpclient.ToolDescriptor `json:"schema"`
}

// ListAllTools merges the catalogs of every enabled server and overlays the
// persisted override document. A tool explicitly marked turn-on=false is
// excluded; everything else, including tools with no override entry, is
// included. When two servers expose the same tool name the later-processed
// server wins; servers are processed in sorted name order, so the
// lexicographically last owner prevails.
func (h *Host) ListAllTools(ctx context.Context) map[string]RegistryEntry {
	registry := map[string]RegistryEntry{}
	states := h.states.Load()
	for _, summary := range h.ListServers() {
		page := h.ListTools(ctx, summary.Name)
		for _, tool := range page.Tools {
			if tool.Name == "" {
				continue
			}
			if !ToolEnabled(states, summary.Name, tool.Name) {
				continue
			}
			registry[tool.Name] = RegistryEntry{Server: summary.Name, Descriptor: tool}
		}
	}
	return registry
}

// ToolsGuide renders a human and LLM readable parameter guide for the
// aggregate registry, one block per tool in lexicographic name order. The
// description falls back through description, summary, note; a persisted
// annotation note is appended when present. Parameters come from the
// structured input schema when one exists, then from the flat parameter
// list, and otherwise the block carries an explicit unavailability marker.
func (h *Host) ToolsGuide(registry map[string]RegistryEntry) string {
	var b strings.Builder
	states := h.states.Load()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		entry := registry[name]
		desc := entry.Descriptor.Description
		if desc == "" {
			desc = entry.Descriptor.Summary
		}
		if desc == "" {
			desc = entry.Descriptor.Note
		}
		if desc != "" {
			fmt.Fprintf(&b, "- %s: %s\n", name, desc)
		} else {
			fmt.Fprintf(&b, "- %s:\n", name)
		}
		if note := strings.TrimSpace(ToolNote(states, entry.Server, name)); note != "" {
			fmt.Fprintf(&b, "  note: %s\n", note)
		}
		writeParamLines(&b, entry.Descriptor)
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func writeParamLines(b *strings.Builder, tool mcpclient.ToolDescriptor) {
	if len(tool.InputSchema) > 0 {
		var schema jsonschema.Schema
		if err := json.Unmarshal(tool.InputSchema, &schema); err == nil && len(schema.Properties) > 0 {
			required := map[string]bool{}
			for _, name := range schema.Required {
				required[name] = true
			}
			props := make([]string, 0, len(schema.Properties))
			for name := range schema.Properties {
				props = append(props, name)
			}
			sort.Strings(props)
			for _, name := range props {
				prop := schema.Properties[name]
				typ := "any"
				dsc := ""
				if prop != nil {
					if prop.Type != "" {
						typ = prop.Type
					}
					dsc = prop.Description
				}
				req := "optional"
				if required[name] {
					req = "required"
				}
				if dsc != "" {
					fmt.Fprintf(b, "  %s (%s, %s): %s\n", name, typ, req, dsc)
				} else {
					fmt.Fprintf(b, "  %s (%s, %s)\n", name, typ, req)
				}
			}
			return
		}
	}

	flat := tool.Parameters
	if len(flat) == 0 {
		flat = tool.Args
	}
	if len(flat) > 0 {
		for _, p := range flat {
			name := p.Name
			if name == "" {
				name = "param"
			}
			typ := p.Type
			if typ == "" {
				typ = "any"
			}
			req := "optional"
			if p.Required {
				req = "required"
			}
			if p.Description != "" {
				fmt.Fprintf(b, "  %s (%s, %s): %s\n", name, typ, req, p.Description)
			} else {
				fmt.Fprintf(b, "  %s (%s, %s)\n", name, typ, req)
			}
		}
		return
	}

	b.WriteString("  (parameter information unavailable)\n")
}

var toolDirectivePattern = regexp.MustCompile(`(?is)<tool>\s*(\{.*?\})\s*</tool>`)

// DetectToolDirective scans free text for the first tagged JSON block of the
// form <tool>{...}</tool> (case-insensitive tag) holding a non-empty JSON
// object. Absent a match, or when the matched payload is a well-formed but
// empty object, it returns (false, empty). A matched block whose payload
// fails to parse still counts as found, paired with an empty specification;
// callers must validate the fields before acting on them.
func DetectToolDirective(text string) (bool, map[string]any) {
	m := toolDirectivePattern.FindStringSubmatch(text)
	if m == nil {
		return false, map[string]any{}
	}
	var spec map[string]any
	if err := json.Unmarshal([]byte(m[1]), &spec); err != nil || spec == nil {
		return true, map[string]any{}
	}
	if len(spec) == 0 {
		return false, map[string]any{}
	}
	return true, spec
}

// ToolCallResult is the structured outcome handed to agent-facing callers:
// the tool and server involved plus either the raw result or an error
// message. Failures are data here, never faults.
type ToolCallResult struct {
	Name   string          `json:"name,omitempty"`
	Server string          `json:"server,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// CallToolBySpec executes a directive object carrying name, parameters, and
// an optional server hint. Without the hint the owning server is resolved
// from the current aggregate registry; an unresolvable tool yields a
// structured "tool not found" result.
func (h *Host) CallToolBySpec(ctx context.Context, spec map[string]any) ToolCallResult {
	name, _ := spec["name"].(string)
	if name == "" {
		return ToolCallResult{Error: "missing tool name"}
	}
	params, _ := spec["parameters"].(map[string]any)
	server, _ := spec["server"].(string)
	if server == "" {
		registry := h.ListAllTools(ctx)
		entry, ok := registry[name]
		if !ok {
			return ToolCallResult{Name: name, Error: "tool not found"}
		}
		server = entry.Server
	}
	outcome := h.CallServerTool(ctx, server, name, params)
	if !outcome.OK() {
		msg := outcome.Diagnostic
		if msg == "" {
			msg = "no usable result"
		}
		return ToolCallResult{Name: name, Server: server, Error: msg}
	}
	return ToolCallResult{Name: name, Server: server, Result: outcome.Result}
}
