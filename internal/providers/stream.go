package providers

import (
	"context"
	"io"
	"time"

	"llmbench/internal/core"
)

// BodyReader decodes one vendor stream format from r into w.
type BodyReader func(ctx context.Context, r io.Reader, w *core.StreamWriter) (core.Usage, error)

// StreamBody wraps an open vendor response in a core.Stream. The body is
// closed when the stream finishes or its context is cancelled, which unblocks
// a read waiting on a slow vendor.
func StreamBody(ctx context.Context, provider string, start time.Time, body io.ReadCloser, read BodyReader) *core.Stream {
	return core.NewStream(ctx, provider, start, func(ctx context.Context, w *core.StreamWriter) (core.Usage, error) {
		stop := context.AfterFunc(ctx, func() { _ = body.Close() })
		defer func() {
			stop()
			_ = body.Close()
		}()
		return read(ctx, body, w)
	})
}
