package agent

import "fmt"

// FETCH_FAILED_HINT is appended to the single token sent when every endpoint failed
const FETCH_FAILED_HINT = "Hint: ensure params.service is set (e.g. payments) and backend can reach /api/runtime-logs."

// NO_CONTENT_REPLY is returned by the blocking path when the model sent no choices
const NO_CONTENT_REPLY = "No content"

// allFailedMessage renders the short-circuit token for a join with no usable data
func allFailedMessage(firstErr string) string {
	return fmt.Sprintf("(fetch error) %s\n%s", firstErr, FETCH_FAILED_HINT)
}

// transportNote is the fallback footer when the model could not be reached
func transportNote(err error) string {
	return fmt.Sprintf("LLM formatting skipped: %v", err)
}
