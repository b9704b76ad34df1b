package main

import (
	"os"

	"github.com/grafana/grafana-plugin-sdk-go/backend/log"
	"github.com/spf13/cobra"

	"github.com/sabio/ops-chat-gateway/pkg/settings"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "ops-chat-gateway",
	Short:         "Chat gateway for IT operations monitoring data",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (environment variables take precedence)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(mcpCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.DefaultLogger.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func loadSettings() (*settings.Settings, error) {
	s, err := settings.Load(configPath)
	if err != nil {
		return nil, err
	}
	if !s.HasAPIKey() {
		log.DefaultLogger.Warn("OPENAI_API_KEY is not set, answers use the fallback renderer")
	}
	return s, nil
}
