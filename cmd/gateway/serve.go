package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grafana/grafana-plugin-sdk-go/backend/log"
	"github.com/spf13/cobra"

	"github.com/sabio/ops-chat-gateway/pkg/plugin"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat API, the monitoring adapters and /metrics",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	logger := log.DefaultLogger

	instance, err := plugin.NewInstance(s, s.AdapterBase(""), logger)
	if err != nil {
		return err
	}
	defer instance.Dispose()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf(":%d", s.Port)
	router := instance.Router()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting ops chat gateway", "addr", addr, "model", s.Model, "adapters", s.AdapterBase(""))
		if err := router.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return router.Shutdown(shutdownCtx)
}
