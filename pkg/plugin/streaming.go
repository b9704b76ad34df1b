package plugin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sabio/ops-chat-gateway/pkg/agent"
)

const heartbeatComment = "keep-alive"

// lineBreaks folds every SSE line terminator into "\n"
var lineBreaks = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// handleChatStream relays the chat pipeline as server-sent events
func (i *Instance) handleChatStream(c echo.Context) error {
	var chatReq agent.ChatRequest
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &chatReq); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(fmt.Sprintf("Invalid query: %v", err)))
	}
	if strings.TrimSpace(chatReq.Text) == "" {
		return c.JSON(http.StatusBadRequest, errorBody(agent.ErrEmptyText.Error()))
	}

	id := requestID(c)
	i.logger.Info("Chat stream request", "requestId", id, "text_length", len(chatReq.Text))

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Flush the underlying writer directly; echo's Flush panics when it is
	// not supported.
	rc := http.NewResponseController(w.Writer)

	events := i.manager.RunChatStream(ctx, id, chatReq)
	i.streamEvents(ctx, w, rc, events, i.settings.HeartbeatInterval)
	return nil
}

// streamEvents writes events until the producer closes the channel or the
// client goes away. Heartbeats are written between events so an idle
// producer never blocks them.
func (i *Instance) streamEvents(ctx context.Context, w io.Writer, rc *http.ResponseController, events <-chan agent.Event, heartbeat time.Duration) {
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, ev); err != nil {
				i.logger.Warn("Failed to write SSE event", "event", ev.Name, "error", err)
				return
			}
			flush(rc)

		case <-ticker.C:
			if err := writeSSEComment(w, heartbeatComment); err != nil {
				return
			}
			flush(rc)
		}
	}
}

// writeSSEEvent writes one event. Multi-line data becomes one data field per
// line, whichever of CRLF, CR or LF ends it.
func writeSSEEvent(w io.Writer, ev agent.Event) error {
	var b strings.Builder
	fmt.Fprintf(&b, "event: %s\n", ev.Name)
	if ev.ID != "" {
		fmt.Fprintf(&b, "id: %s\n", ev.ID)
	}
	for _, line := range strings.Split(lineBreaks.Replace(ev.Data), "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// writeSSEComment writes a comment frame that clients ignore
func writeSSEComment(w io.Writer, text string) error {
	_, err := fmt.Fprintf(w, ": %s\n\n", text)
	return err
}

// flush ignores writers that cannot flush; their frames go out when the
// response completes.
func flush(rc *http.ResponseController) {
	_ = rc.Flush()
}
