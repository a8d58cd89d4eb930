package sseutil

import (
	"context"
	"fmt"
	"io"
)

// RawEvent is one SSE data line from an upstream provider, before any
// provider-specific JSON parsing.
type RawEvent struct {
	Data []byte
	Done bool // the [DONE] sentinel was seen; Data is empty
	Err  error
}

// ReadRawLines reads SSE data lines from r and sends them on ch, honoring
// ctx cancellation between reads. It recognizes the "[DONE]" sentinel but
// performs no provider-specific JSON inspection -- that is left to the
// transform layer, which knows each provider's chunk shape. The channel is
// always closed before return.
func ReadRawLines(ctx context.Context, r io.Reader, ch chan<- RawEvent) {
	defer close(ch)

	scanner := NewScanner(r)
	for scanner.Scan() {
		_, data, ok := ParseSSELine(scanner.Text())
		if !ok {
			continue
		}
		if data == "[DONE]" {
			select {
			case ch <- RawEvent{Done: true}:
			case <-ctx.Done():
			}
			return
		}

		select {
		case ch <- RawEvent{Data: []byte(data)}:
		case <-ctx.Done():
			ch <- RawEvent{Err: ctx.Err()}
			return
		}
	}
	if err := scanner.Err(); err != nil {
		select {
		case ch <- RawEvent{Err: fmt.Errorf("read sse stream: %w", err)}:
		case <-ctx.Done():
		}
	}
}
