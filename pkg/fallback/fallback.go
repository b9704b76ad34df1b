package fallback

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/sabio/ops-chat-gateway/pkg/fetch"
)

const tailLines = 10

// Render summarizes the runtime logs of the first joined result without the
// model. Each returned string is relayed as one token. It never fails: any
// missing or oddly typed field falls back to a fixed default.
func Render(joined fetch.JoinedResult, note string) []string {
	data := firstData(joined)
	logs := logEntries(data)

	counts := map[string]int{}
	for _, item := range logs {
		counts[stringField(item, "level", "UNKNOWN")]++
	}
	levels := make([]string, 0, len(counts))
	for lvl := range counts {
		levels = append(levels, lvl)
	}
	sort.Strings(levels)

	lines := make([]string, 0, len(levels)+len(logs)+3)
	lines = append(lines, fmt.Sprintf("Runtime logs (service=%s, tz=%s) - checked_at=%s\n",
		stringField(data, "service", "unknown"),
		stringField(data, "tz", "UTC"),
		stringField(data, "checked_at", "-"),
	))

	for _, lvl := range levels {
		lines = append(lines, fmt.Sprintf("• %s: %d\n", lvl, counts[lvl]))
	}

	if len(logs) > 0 {
		lines = append(lines, "\nLast lines:\n")
		start := max(len(logs)-tailLines, 0)
		for _, item := range logs[start:] {
			lines = append(lines, fmt.Sprintf("[%s] %s: %s\n",
				stringField(item, "ts", "-"),
				stringField(item, "level", "-"),
				stringField(item, "message", "-"),
			))
		}
	}

	lines = append(lines, fmt.Sprintf("\n(note) %s\n", note))
	return lines
}

func firstData(joined fetch.JoinedResult) map[string]interface{} {
	if len(joined.Results) == 0 {
		return nil
	}
	var data map[string]interface{}
	if err := json.Unmarshal(joined.Results[0].Data, &data); err != nil {
		return nil
	}
	return data
}

func logEntries(data map[string]interface{}) []map[string]interface{} {
	raw, ok := data["logs"].([]interface{})
	if !ok {
		return nil
	}
	logs := make([]map[string]interface{}, 0, len(raw))
	for _, item := range raw {
		obj, _ := item.(map[string]interface{})
		logs = append(logs, obj)
	}
	return logs
}

func stringField(obj map[string]interface{}, key, def string) string {
	if s, ok := obj[key].(string); ok {
		return s
	}
	return def
}
