package main

import (
	"os"

	"github.com/grafana/grafana-plugin-sdk-go/backend"
	"github.com/grafana/grafana-plugin-sdk-go/backend/log"

	"github.com/sabio/ops-chat-gateway/pkg/plugin"
)

const pluginID = "sabio-opschat-app"

func main() {
	p := plugin.NewPlugin()
	defer p.Dispose()

	if err := backend.Manage(pluginID, backend.ServeOpts{
		CallResourceHandler: p,
		CheckHealthHandler:  p,
	}); err != nil {
		log.DefaultLogger.Error("Plugin exited with error", "error", err)
		os.Exit(1)
	}
}
