// Command hostd runs the MCP host daemon: it loads the server configuration,
// connects the configured transports, and serves the admin API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/vikashloomba/mcp-host-go/pkg/hostapi"
	"github.com/vikashloomba/mcp-host-go/pkg/mcphost"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:          "hostd",
		Short:        "Multi-server MCP host with an admin API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), v)
		},
	}

	flags := cmd.Flags()
	flags.String("config", "config/mcp_server_config.json", "path to the mcpServers document")
	flags.String("states", "config/tool_states.json", "path to the tool override document")
	flags.String("addr", "127.0.0.1:8000", "admin API listen address")
	flags.Duration("timeout", 15*time.Second, "per-request transport timeout")
	flags.Bool("correlated", false, "correlate stdio responses by request id instead of single-flight")
	flags.Bool("prewarm", false, "list tools on every stdio server at startup")
	flags.Bool("watch", true, "reload when the config document changes on disk")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "console", "log format (console, json)")

	_ = v.BindPFlags(flags)
	v.SetEnvPrefix("MCP_HOST")
	v.AutomaticEnv()
	return cmd
}

func run(ctx context.Context, v *viper.Viper) error {
	logger, err := newLogger(v.GetString("log-level"), v.GetString("log-format"))
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	host := mcphost.NewHost(&mcphost.Options{
		ConfigPath: v.GetString("config"),
		StatePath:  v.GetString("states"),
		Timeout:    v.GetDuration("timeout"),
		Correlated: v.GetBool("correlated"),
		Logger:     logger,
	})
	defer host.Close()

	// Connect in the background so a slow stdio spawn does not delay the API.
	go host.Start(ctx, v.GetBool("prewarm"))

	if v.GetBool("watch") {
		go func() {
			if err := host.WatchConfig(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("config watcher stopped", zap.Error(err))
			}
		}()
	}

	api, err := hostapi.NewServer(host, &hostapi.Options{
		Addr:   v.GetString("addr"),
		Logger: logger,
	})
	if err != nil {
		return err
	}

	logger.Info("admin API listening", zap.String("addr", v.GetString("addr")),
		zap.String("config", v.GetString("config")))
	if err := api.ListenAndServe(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
