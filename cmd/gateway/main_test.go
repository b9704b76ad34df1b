package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("SELF_BASE_URL", "")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.Execute()
	return out.String(), err
}

func TestPlanCommand(t *testing.T) {
	out, err := runCommand(t, "plan", "--tz", "Asia/Singapore", "What's going on with payments service logs?")
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}

	var plan struct {
		Intent    string            `json:"intent"`
		Endpoints []string          `json:"endpoints"`
		Params    map[string]string `json:"params"`
	}
	if err := json.Unmarshal([]byte(out), &plan); err != nil {
		t.Fatalf("output is not a plan: %v\n%s", err, out)
	}
	if plan.Intent != "logs_fetch" || len(plan.Endpoints) == 0 || plan.Endpoints[0] != "/api/runtime-logs" {
		t.Errorf("plan = %+v", plan)
	}
	if plan.Params["service"] != "payments" || plan.Params["tz"] != "Asia/Singapore" {
		t.Errorf("params = %v", plan.Params)
	}
}

func TestPlanCommandRequiresQuestion(t *testing.T) {
	if _, err := runCommand(t, "plan"); err == nil {
		t.Error("expected an error without a question")
	}
}

func TestMCPCommandRejectsTransport(t *testing.T) {
	_, err := runCommand(t, "mcp", "--transport", "grpc")
	if err == nil || !strings.Contains(err.Error(), `invalid transport "grpc"`) {
		t.Errorf("err = %v", err)
	}
	mcpTransport = "stdio"
}
