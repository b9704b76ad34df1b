package mcpserver

import (
	"encoding/json"
	"fmt"
)

// FormatToolResult renders a tool result as text for the calling model
func FormatToolResult(result interface{}) string {
	if result == nil {
		return "No result returned"
	}

	switch v := result.(type) {
	case string:
		return v
	case json.RawMessage:
		return string(v)
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
