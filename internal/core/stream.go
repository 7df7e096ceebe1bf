package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// StreamEvent is one item of a streamed completion. The only implementations
// are Content and Stats; consumers switch on the concrete type and treat any
// other value as a programming error.
type StreamEvent interface {
	streamEvent()
}

// Content carries a non-empty fragment of generated text.
type Content struct {
	Delta string
}

// Stats is the single terminal event of a successful stream.
// Content is the concatenation of every preceding delta.
type Stats struct {
	Content             string
	PromptTokens        int
	CompletionTokens    int
	TotalTokens         int
	ResponseTimeSeconds float64
}

func (Content) streamEvent() {}
func (Stats) streamEvent()   {}

// MarshalJSON renders {"type":"content","delta":...}.
func (c Content) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  string `json:"type"`
		Delta string `json:"delta"`
	}{"content", c.Delta})
}

// MarshalJSON renders {"type":"stats",...}.
func (s Stats) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type                string  `json:"type"`
		Content             string  `json:"content"`
		PromptTokens        int     `json:"prompt_tokens"`
		CompletionTokens    int     `json:"completion_tokens"`
		TotalTokens         int     `json:"total_tokens"`
		ResponseTimeSeconds float64 `json:"response_time_seconds"`
	}{"stats", s.Content, s.PromptTokens, s.CompletionTokens, s.TotalTokens, s.ResponseTimeSeconds})
}

// EventName returns the wire name of an event ("content" or "stats").
func EventName(ev StreamEvent) string {
	switch ev.(type) {
	case Content:
		return "content"
	case Stats:
		return "stats"
	default:
		panic(fmt.Sprintf("core: unknown stream event %T", ev))
	}
}

// Usage represents token usage information reported by a vendor.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ProduceFunc reads a vendor stream, writes deltas to w and returns the final
// token usage. Returning an error ends the stream without a Stats event.
type ProduceFunc func(ctx context.Context, w *StreamWriter) (Usage, error)

// Stream is a normalized streamed completion: zero or more Content events
// followed by exactly one Stats, or an early close with Err set.
type Stream struct {
	events chan StreamEvent
	done   chan struct{}
	cancel context.CancelFunc

	provider  string
	err       error
	closeOnce sync.Once
}

// NewStream runs produce on its own goroutine. start must be taken just
// before the first network call of the request.
func NewStream(ctx context.Context, provider string, start time.Time, produce ProduceFunc) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		events:   make(chan StreamEvent),
		done:     make(chan struct{}),
		cancel:   cancel,
		provider: provider,
	}
	w := &StreamWriter{ctx: ctx, events: s.events, start: start}

	go func() {
		defer close(s.done)
		defer close(s.events)
		defer cancel()

		usage, err := produce(ctx, w)
		if err != nil {
			s.err = s.wrapErr(ctx, err)
			return
		}
		stats := w.stats(usage)
		select {
		case s.events <- stats:
		case <-ctx.Done():
			s.err = s.wrapErr(ctx, ctx.Err())
		}
	}()

	return s
}

func (s *Stream) wrapErr(ctx context.Context, err error) error {
	// Reads on a cancelled request fail with assorted transport errors.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var coreErr *Error
	if errors.As(err, &coreErr) {
		return err
	}
	return NewTransportError(s.provider, 0, err.Error(), err)
}

// Events returns the event channel. It is closed after the Stats event or on failure.
func (s *Stream) Events() <-chan StreamEvent {
	return s.events
}

// Err returns the failure that ended the stream early, or nil. It is valid
// once Events has been closed.
func (s *Stream) Err() error {
	<-s.done
	return s.err
}

// Close stops the producer and releases the underlying connection.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		for range s.events {
		}
	})
	return nil
}

// Collect drains a stream and returns its terminal Stats. A stream that closes
// without Stats yields the stream error.
func Collect(s *Stream) (*Stats, error) {
	defer s.Close()

	var final *Stats
	for ev := range s.Events() {
		switch e := ev.(type) {
		case Content:
		case Stats:
			final = &e
		default:
			panic(fmt.Sprintf("core: unknown stream event %T", ev))
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	if final == nil {
		return nil, NewTransportError(s.provider, 0, "stream ended without statistics", nil)
	}
	return final, nil
}

// StreamWriter is handed to a ProduceFunc. It drops empty deltas and keeps the
// accumulated text and the time of the last delta.
type StreamWriter struct {
	ctx       context.Context
	events    chan<- StreamEvent
	start     time.Time
	lastDelta time.Time
	text      strings.Builder
}

// Delta emits one fragment. Empty fragments are skipped.
func (w *StreamWriter) Delta(text string) error {
	if text == "" {
		return nil
	}
	select {
	case w.events <- Content{Delta: text}:
	case <-w.ctx.Done():
		return w.ctx.Err()
	}
	w.text.WriteString(text)
	w.lastDelta = time.Now()
	return nil
}

// Text returns everything written so far.
func (w *StreamWriter) Text() string {
	return w.text.String()
}

func (w *StreamWriter) stats(u Usage) Stats {
	end := w.lastDelta
	if end.IsZero() {
		end = time.Now()
	}
	return Stats{
		Content:             w.text.String(),
		PromptTokens:        u.PromptTokens,
		CompletionTokens:    u.CompletionTokens,
		TotalTokens:         u.PromptTokens + u.CompletionTokens,
		ResponseTimeSeconds: end.Sub(w.start).Seconds(),
	}
}
