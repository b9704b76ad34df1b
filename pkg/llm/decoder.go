package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"
	readChunk    = 4096
)

// RecordDecoder reassembles newline-delimited records from arbitrarily split
// chunks. Bytes after the last newline stay buffered until more data arrives.
type RecordDecoder struct {
	buf []byte
}

// Write appends a chunk to the residual buffer
func (d *RecordDecoder) Write(chunk []byte) {
	d.buf = append(d.buf, chunk...)
}

// Next returns the next complete, trimmed, non-blank record
func (d *RecordDecoder) Next() (string, bool) {
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			return "", false
		}

		line := bytes.TrimSpace(d.buf[:i])
		d.buf = d.buf[i+1:]
		if len(line) == 0 {
			continue
		}
		return string(line), true
	}
}

// Flush returns whatever is left in the buffer as a final record
func (d *RecordDecoder) Flush() (string, bool) {
	line := bytes.TrimSpace(d.buf)
	d.buf = nil
	if len(line) == 0 {
		return "", false
	}
	return string(line), true
}

// Buffered reports how many residual bytes are waiting for a newline
func (d *RecordDecoder) Buffered() int {
	return len(d.buf)
}

// Delta is the decoded content of one provider record
type Delta struct {
	Content string
	Done    bool
}

// ParseDelta decodes a single record. The data marker is optional. It returns
// false for records that cannot be parsed; callers skip those.
func ParseDelta(record string) (Delta, bool) {
	payload := strings.TrimSpace(record)
	if rest, found := strings.CutPrefix(payload, dataPrefix); found {
		payload = strings.TrimSpace(rest)
	}

	if payload == doneSentinel {
		return Delta{Done: true}, true
	}

	var chunk openai.ChatCompletionStreamResponse
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return Delta{}, false
	}

	if len(chunk.Choices) == 0 {
		return Delta{}, true
	}

	return Delta{Content: chunk.Choices[0].Delta.Content}, true
}

// ReadDeltas drains r through a RecordDecoder and calls emit for every
// non-empty delta until the terminal sentinel or end of stream. Malformed
// records are counted and skipped. A read error other than io.EOF is returned
// after the deltas decoded so far have been emitted.
func ReadDeltas(ctx context.Context, r io.Reader, emit func(string) error) (skipped int, err error) {
	var dec RecordDecoder
	buf := make([]byte, readChunk)

	handle := func(record string) (bool, error) {
		delta, ok := ParseDelta(record)
		if !ok {
			skipped++
			return false, nil
		}
		if delta.Done {
			return true, nil
		}
		if delta.Content == "" {
			return false, nil
		}
		return false, emit(delta.Content)
	}

	for {
		if ctx.Err() != nil {
			return skipped, ctx.Err()
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			dec.Write(buf[:n])
			for {
				record, ok := dec.Next()
				if !ok {
					break
				}
				done, emitErr := handle(record)
				if emitErr != nil {
					return skipped, emitErr
				}
				if done {
					return skipped, nil
				}
			}
		}

		if readErr != nil {
			if record, ok := dec.Flush(); ok {
				if _, emitErr := handle(record); emitErr != nil {
					return skipped, emitErr
				}
			}
			if errors.Is(readErr, io.EOF) {
				return skipped, nil
			}
			return skipped, readErr
		}
	}
}
