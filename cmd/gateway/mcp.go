package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/grafana/grafana-plugin-sdk-go/backend/log"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/sabio/ops-chat-gateway/pkg/mcpserver"
	"github.com/sabio/ops-chat-gateway/pkg/plugin"
	"github.com/sabio/ops-chat-gateway/pkg/settings"
)

var (
	mcpTransport string
	mcpAddr      string
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Expose route planning and fetch-join as MCP tools",
	RunE:  runMCP,
}

func init() {
	mcpCmd.Flags().StringVar(&mcpTransport, "transport", "stdio", "transport mode: stdio or sse")
	mcpCmd.Flags().StringVar(&mcpAddr, "addr", "0.0.0.0:8000", "address to listen on (for SSE mode)")
}

func runMCP(cmd *cobra.Command, args []string) error {
	if mcpTransport != "stdio" && mcpTransport != "sse" {
		return fmt.Errorf("invalid transport %q: must be stdio or sse", mcpTransport)
	}

	s, err := loadSettings()
	if err != nil {
		return err
	}
	logger := log.DefaultLogger

	instance, err := newAdapterInstance(s, logger)
	if err != nil {
		return err
	}
	defer instance.Dispose()

	mcpServer := mcpserver.NewMCPServer(instance.Manager(), s, logger)
	mcpServer.RegisterTools()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if mcpTransport == "stdio" {
		logger.Info("Running MCP server with stdio transport")
		return server.NewStdioServer(mcpServer.GetServer()).Listen(ctx, os.Stdin, os.Stdout)
	}

	sseServer := server.NewSSEServer(mcpServer.GetServer(), "/sse")
	go func() {
		<-ctx.Done()
		logger.Info("Shutting down MCP server...")
		if err := sseServer.Shutdown(context.Background()); err != nil {
			logger.Error("Error during shutdown", "error", err)
		}
	}()

	logger.Info("Running MCP server with SSE transport", "addr", mcpAddr, "endpoint", "http://"+mcpAddr+"/sse")
	if err := sseServer.Start(mcpAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// newAdapterInstance builds an instance for the tool server. Without an
// adapter base URL the adapters are served on a loopback listener.
func newAdapterInstance(s *settings.Settings, logger log.Logger) (*plugin.Instance, error) {
	if s.AdapterBaseURL != "" {
		return plugin.NewInstance(s, s.AdapterBase(""), logger)
	}
	return plugin.NewLoopbackInstance(s, logger)
}
