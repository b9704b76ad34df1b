package main

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/grafana/grafana-plugin-sdk-go/backend/log"
	"github.com/spf13/cobra"

	"github.com/sabio/ops-chat-gateway/pkg/planner"
	"github.com/sabio/ops-chat-gateway/pkg/plugin"
)

var planTZ string

var planCmd = &cobra.Command{
	Use:   "plan <question>",
	Short: "Print the route plan for a question without fetching anything",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPlan,
}

func init() {
	planCmd.Flags().StringVar(&planTZ, "tz", "", "time zone override (e.g. Asia/Singapore)")
}

func runPlan(cmd *cobra.Command, args []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}

	instance, err := plugin.NewInstance(s, s.AdapterBase(""), log.DefaultLogger)
	if err != nil {
		return err
	}
	defer instance.Dispose()

	var o planner.Overrides
	if planTZ != "" {
		o.TZ = &planTZ
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), s.ModelTimeout)
	defer cancel()

	plan := instance.Manager().Planner().Plan(ctx, strings.Join(args, " "), o)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(plan)
}
