package llm

import (
	"bufio"
	"bytes"
	"context"
	"io"

	"pixelchat/internal/domain"
)

// maxSSELine bounds a single SSE line. Some providers send whole usage
// blocks or inline payloads on one line.
const maxSSELine = 1024 * 1024

// parseSSEStream reads SSE-formatted lines from body and converts each data
// payload into a StreamDelta using parseLine. The returned channel is closed
// when the stream ends, the body fails, or ctx is cancelled. A stream that
// ends without an explicit terminator still yields a final Done delta.
func parseSSEStream(ctx context.Context, body io.ReadCloser, parseLine func(data []byte) (*domain.StreamDelta, error)) <-chan domain.StreamDelta {
	ch := make(chan domain.StreamDelta, 16)
	go func() {
		defer close(ch)
		defer body.Close()

		send := func(d domain.StreamDelta) bool {
			select {
			case ch <- d:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}

			line := scanner.Bytes()
			// Blank separators and ": keep-alive" comments.
			if len(line) == 0 || line[0] == ':' {
				continue
			}
			data, ok := bytes.CutPrefix(line, []byte("data:"))
			if !ok {
				continue
			}
			data = bytes.TrimPrefix(data, []byte(" "))

			if bytes.Equal(data, []byte("[DONE]")) {
				send(domain.StreamDelta{Done: true})
				return
			}

			delta, err := parseLine(data)
			if err != nil || delta == nil {
				continue
			}
			if !send(*delta) || delta.Done {
				return
			}
		}
		send(domain.StreamDelta{Done: true})
	}()
	return ch
}
