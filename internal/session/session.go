// Package session drives one provider adapter per user turn, keeps the
// message and performance logs and exposes the live response buffer.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"llmbench/internal/core"
	"llmbench/internal/providers"
	"llmbench/internal/usage"
)

// State is the turn state of a session.
type State string

const (
	StateIdle             State = "idle"
	StateAwaitingResponse State = "awaiting_response"
	StateStreaming        State = "streaming"
	StateCompleted        State = "completed"
	StateFailed           State = "failed"
)

// InFlight reports whether a turn is running.
func (s State) InFlight() bool {
	return s == StateAwaitingResponse || s == StateStreaming
}

// ErrSessionCleared is returned by Submit when Clear ran while the turn was
// in flight. The turn's result is discarded.
var ErrSessionCleared = errors.New("session cleared during turn")

// Turn is one user submission.
type Turn struct {
	Provider string      `json:"provider"`
	Model    string      `json:"model,omitempty"`
	Content  string      `json:"content"`
	Params   core.Params `json:"params"`
}

// Observer is notified once per finished turn. rec is nil on failure.
type Observer interface {
	ObserveTurn(provider, model string, rec *usage.PerformanceRecord, err error)
}

// Option configures a single Submit call.
type Option func(*submitOptions)

type submitOptions struct {
	onDelta func(string)
}

// WithDeltaHandler calls fn with every non-empty delta as it arrives.
// fn runs on the submitting goroutine and must not call back into the session.
func WithDeltaHandler(fn func(delta string)) Option {
	return func(o *submitOptions) { o.onDelta = fn }
}

// Session holds one conversation. All methods are safe for concurrent use;
// at most one turn runs at a time.
type Session struct {
	id        string
	createdAt time.Time
	resolver  providers.Resolver
	observer  Observer

	mu       sync.Mutex
	state    State
	epoch    uint64
	messages []core.Message
	records  []usage.PerformanceRecord
	buffer   strings.Builder
	lastErr  string
}

// New creates an idle session resolving adapters through r.
func New(id string, r providers.Resolver, observer Observer) *Session {
	return &Session{
		id:        id,
		createdAt: time.Now().UTC(),
		resolver:  r,
		observer:  observer,
		state:     StateIdle,
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// turn carries the bookkeeping of one in-flight submission.
type turn struct {
	epoch   uint64
	userIdx int
}

// Reply is the outcome of a successful turn as committed to the logs.
type Reply struct {
	Message core.Message
	Record  usage.PerformanceRecord
}

// Submit runs one turn: it appends the user message, streams the adapter's
// response into the live buffer and, on success, appends the assistant
// message and a performance record. Any failure rolls the user message back
// and records nothing.
func (s *Session) Submit(ctx context.Context, in Turn, opts ...Option) (*usage.PerformanceRecord, error) {
	reply, err := s.SubmitReply(ctx, in, opts...)
	if err != nil {
		return nil, err
	}
	return &reply.Record, nil
}

// SubmitReply is Submit returning the committed assistant message with its
// record. The reply stays valid after a later Clear empties the logs.
func (s *Session) SubmitReply(ctx context.Context, in Turn, opts ...Option) (*Reply, error) {
	var o submitOptions
	for _, opt := range opts {
		opt(&o)
	}

	t, history, err := s.begin(in.Content)
	if err != nil {
		return nil, err
	}

	ctx = core.WithSessionID(ctx, s.id)
	reply, err := s.run(ctx, t, in, history, o)
	if err != nil {
		err = s.fail(t, err)
		slog.Warn("turn failed", "session", s.id, "provider", in.Provider, "model", in.Model, "error", err)
	}
	if s.observer != nil {
		var rec *usage.PerformanceRecord
		if reply != nil {
			rec = &reply.Record
		}
		s.observer.ObserveTurn(in.Provider, in.Model, rec, err)
	}
	return reply, err
}

func (s *Session) begin(content string) (turn, []core.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.InFlight() {
		return turn{}, nil, core.NewTurnInProgressError()
	}
	t := turn{epoch: s.epoch, userIdx: len(s.messages)}
	s.messages = append(s.messages, core.Message{Role: core.RoleUser, Content: content})
	s.buffer.Reset()
	s.lastErr = ""
	s.state = StateAwaitingResponse
	return t, core.CloneMessages(s.messages), nil
}

func (s *Session) run(ctx context.Context, t turn, in Turn, history []core.Message, o submitOptions) (*Reply, error) {
	p, err := s.resolver.Resolve(in.Provider)
	if err != nil {
		return nil, err
	}
	info, err := p.GetModelInfo(ctx, in.Model)
	if err != nil {
		return nil, err
	}

	stream, err := p.StreamChatCompletion(ctx, &core.ChatRequest{
		Model:    info.Name,
		Messages: history,
		Stream:   true,
		Params:   in.Params,
	})
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	s.transition(t, StateStreaming)

	var stats *core.Stats
	for ev := range stream.Events() {
		if st := s.apply(t, ev, o); st != nil {
			stats = st
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	if stats == nil {
		return nil, core.NewTransportError(p.Name(), 0, "stream ended without statistics", nil)
	}
	if stats.Content == "" {
		return nil, core.NewEmptyResponseError(p.Name())
	}

	rec := usage.NewRecord(p.Name(), info, stats)
	return s.commit(t, stats.Content, rec)
}

// apply feeds one stream event into the turn and returns the statistics
// when ev carries them.
func (s *Session) apply(t turn, ev core.StreamEvent, o submitOptions) *core.Stats {
	switch e := ev.(type) {
	case core.Content:
		s.appendBuffer(t, e.Delta)
		if o.onDelta != nil {
			o.onDelta(e.Delta)
		}
		return nil
	case core.Stats:
		return &e
	default:
		panic(fmt.Sprintf("session: unknown stream event %T", ev))
	}
}

func (s *Session) transition(t turn, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.epoch == s.epoch {
		s.state = state
	}
}

func (s *Session) appendBuffer(t turn, delta string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.epoch == s.epoch {
		s.buffer.WriteString(delta)
	}
}

func (s *Session) commit(t turn, text string, rec usage.PerformanceRecord) (*Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.epoch != s.epoch {
		s.state = StateIdle
		return nil, ErrSessionCleared
	}
	msg := core.Message{Role: core.RoleAssistant, Content: text}
	s.messages = append(s.messages, msg)
	s.records = append(s.records, rec)
	s.state = StateCompleted

	slog.Info("turn completed",
		"session", s.id,
		"provider", rec.Provider,
		"model", rec.Model,
		"response_time", rec.ResponseTime,
		"total_tokens", rec.TotalTokens,
		"cost", rec.Cost,
	)
	return &Reply{Message: msg, Record: rec}, nil
}

// fail rolls back the turn. A turn overtaken by Clear has nothing left to
// roll back and reports ErrSessionCleared.
func (s *Session) fail(t turn, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.epoch != s.epoch {
		s.state = StateIdle
		return ErrSessionCleared
	}
	s.messages = s.messages[:t.userIdx]
	s.buffer.Reset()
	s.lastErr = err.Error()
	s.state = StateFailed
	return err
}

// Clear empties the message and performance logs. A turn in flight keeps
// running but its result is discarded.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.epoch++
	s.messages = nil
	s.records = nil
	s.buffer.Reset()
	s.lastErr = ""
	if !s.state.InFlight() {
		s.state = StateIdle
	}
}

// Messages returns a copy of the message log.
func (s *Session) Messages() []core.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return core.CloneMessages(s.messages)
}

// Records returns a copy of the performance log.
func (s *Session) Records() []usage.PerformanceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]usage.PerformanceRecord(nil), s.records...)
}

// Buffer returns the text received so far for the current or last turn.
func (s *Session) Buffer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.String()
}

// State returns the current turn state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot is a consistent copy of the whole session.
type Snapshot struct {
	ID        string                    `json:"id"`
	CreatedAt time.Time                 `json:"created_at"`
	State     State                     `json:"state"`
	Messages  []core.Message            `json:"messages"`
	Buffer    string                    `json:"buffer"`
	Records   []usage.PerformanceRecord `json:"records"`
	LastError string                    `json:"last_error,omitempty"`
}

// Snapshot returns every log and the buffer taken under one lock.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := core.CloneMessages(s.messages)
	if msgs == nil {
		msgs = []core.Message{}
	}
	return Snapshot{
		ID:        s.id,
		CreatedAt: s.createdAt,
		State:     s.state,
		Messages:  msgs,
		Buffer:    s.buffer.String(),
		Records:   append([]usage.PerformanceRecord{}, s.records...),
		LastError: s.lastErr,
	}
}
