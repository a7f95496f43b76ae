// Command host-example shows the host API end to end: load a config, start
// the enabled servers, print the aggregate registry and its guide, and run
// one tool call resolved from a directive.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/vikashloomba/mcp-host-go/pkg/mcphost"
)

func main() {
	configPath := "config/mcp_server_config.json"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	host := mcphost.NewHost(&mcphost.Options{
		ConfigPath: configPath,
		StatePath:  "config/tool_states.json",
	})
	defer host.Close()

	ctx := context.Background()
	host.Start(ctx, true)

	for _, summary := range host.ListServers() {
		fmt.Printf("Server %s (%s): %s\n", summary.Name, summary.Transport, summary.Status)
	}

	registry := host.ListAllTools(ctx)
	fmt.Printf("Aggregated %d tools\n\n", len(registry))
	fmt.Println(host.ToolsGuide(registry))

	reply := `Let me check. <tool>{"name":"get_forecast","parameters":{"city":"Oslo"}}</tool>`
	if found, spec := mcphost.DetectToolDirective(reply); found {
		result := host.CallToolBySpec(ctx, spec)
		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(out))
	}
}
