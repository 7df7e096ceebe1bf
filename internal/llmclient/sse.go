package llmclient

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// ErrStopStream can be returned from an SSE handler to end reading without error.
var ErrStopStream = errors.New("stop stream")

// ErrMissingDone is returned by ReadSSEUntilDone when the body ends before
// the "[DONE]" payload.
var ErrMissingDone = errors.New("stream ended before [DONE]")

// maxLineSize bounds a single SSE line; vendor chunks are far smaller.
const maxLineSize = 1024 * 1024

// ReadSSE reads server-sent events from r and calls fn once per data line
// with the most recent event name (empty when the vendor sends none).
// A "[DONE]" payload ends the stream.
func ReadSSE(r io.Reader, fn func(event, data string) error) error {
	_, err := readSSE(r, fn)
	return err
}

// ReadSSEUntilDone is ReadSSE for vendors that always terminate with
// "[DONE]": a body that ends without it fails with ErrMissingDone.
func ReadSSEUntilDone(r io.Reader, fn func(event, data string) error) error {
	done, err := readSSE(r, fn)
	if err != nil {
		return err
	}
	if !done {
		return ErrMissingDone
	}
	return nil
}

// readSSE reports whether the stream ended by "[DONE]" or ErrStopStream.
func readSSE(r io.Reader, fn func(event, data string) error) (bool, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var event string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		switch {
		case line == "":
			event = ""
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return true, nil
			}
			if err := fn(event, data); err != nil {
				if errors.Is(err, ErrStopStream) {
					return true, nil
				}
				return false, err
			}
		}
	}
	return false, scanner.Err()
}
