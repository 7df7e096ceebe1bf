package llmclient

import (
	"context"
	"time"
)

// RequestInfo describes an outgoing vendor request.
type RequestInfo struct {
	Provider string
	Method   string
	Endpoint string
	Stream   bool
}

// ResponseInfo describes how a vendor request ended. For streams it is
// reported when the response headers arrive, not when the body is drained.
type ResponseInfo struct {
	Provider   string
	Endpoint   string
	Stream     bool
	StatusCode int
	Duration   time.Duration
	Err        error
}

// Hooks observe every request sent through a Client. Both fields are optional.
type Hooks struct {
	OnRequestStart func(ctx context.Context, info RequestInfo) context.Context
	OnRequestEnd   func(ctx context.Context, info ResponseInfo)
}

func (h Hooks) start(ctx context.Context, info RequestInfo) context.Context {
	if h.OnRequestStart == nil {
		return ctx
	}
	return h.OnRequestStart(ctx, info)
}

func (h Hooks) end(ctx context.Context, info ResponseInfo) {
	if h.OnRequestEnd != nil {
		h.OnRequestEnd(ctx, info)
	}
}
