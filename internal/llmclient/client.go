// Package llmclient provides the base HTTP client shared by provider adapters:
// JSON request marshaling, vendor error parsing and raw stream access.
// Requests are sent once; there is no retry.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"llmbench/internal/core"
	"llmbench/internal/httpclient"
)

// Config holds configuration for the LLM client
type Config struct {
	// ProviderName identifies the provider for error messages
	ProviderName string

	// BaseURL is the API base URL
	BaseURL string

	// Hooks observe each request, e.g. for metrics
	Hooks Hooks
}

// HeaderSetter is a function that sets headers on an HTTP request
type HeaderSetter func(req *http.Request)

// Client is a base HTTP client for LLM providers
type Client struct {
	httpClient   *http.Client
	config       Config
	headerSetter HeaderSetter
}

// New creates a new LLM client with the shared default HTTP client
func New(config Config, headerSetter HeaderSetter) *Client {
	return NewWithHTTPClient(httpclient.NewDefaultHTTPClient(), config, headerSetter)
}

// NewWithHTTPClient creates a new LLM client with a custom HTTP client
func NewWithHTTPClient(httpClient *http.Client, config Config, headerSetter HeaderSetter) *Client {
	if httpClient == nil {
		httpClient = httpclient.NewDefaultHTTPClient()
	}
	return &Client{
		httpClient:   httpClient,
		config:       config,
		headerSetter: headerSetter,
	}
}

// SetBaseURL updates the base URL
func (c *Client) SetBaseURL(url string) {
	c.config.BaseURL = url
}

// BaseURL returns the current base URL
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// Request represents an HTTP request to be made
type Request struct {
	Method   string
	Endpoint string
	Query    url.Values
	Body     interface{} // Will be JSON marshaled if not nil
	Headers  map[string]string
}

// Response represents an HTTP response
type Response struct {
	StatusCode int
	Body       []byte
}

// Do executes a request and unmarshals the JSON response into result
func (c *Client) Do(ctx context.Context, req Request, result interface{}) error {
	resp, err := c.DoRaw(ctx, req)
	if err != nil {
		return err
	}

	if result != nil {
		if err := json.Unmarshal(resp.Body, result); err != nil {
			return core.NewTransportError(c.config.ProviderName, resp.StatusCode, "failed to unmarshal response: "+err.Error(), err)
		}
	}

	return nil
}

// DoRaw executes a request, returning the raw body of a 2xx response
func (c *Client) DoRaw(ctx context.Context, req Request) (resp *Response, err error) {
	ctx, finish := c.observe(ctx, req, false)
	defer func() { finish(resp, err) }()

	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.sendError(ctx, err)
	}
	defer func() {
		_ = httpResp.Body.Close()
	}()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, core.NewTransportError(c.config.ProviderName, httpResp.StatusCode, "failed to read response: "+err.Error(), err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, core.ParseProviderError(c.config.ProviderName, httpResp.StatusCode, body, nil)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Body:       body,
	}, nil
}

// DoStream executes a streaming request, returning the open body.
// The caller must close it.
func (c *Client) DoStream(ctx context.Context, req Request) (body io.ReadCloser, err error) {
	hookCtx, finish := c.observe(ctx, req, true)
	var status int
	defer func() { finish(&Response{StatusCode: status}, err) }()

	httpReq, err := c.buildRequest(hookCtx, req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.sendError(ctx, err)
	}
	status = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			respBody = []byte("failed to read error response")
		}
		_ = resp.Body.Close()
		return nil, core.ParseProviderError(c.config.ProviderName, resp.StatusCode, respBody, nil)
	}

	return resp.Body, nil
}

func (c *Client) observe(ctx context.Context, req Request, stream bool) (context.Context, func(*Response, error)) {
	start := time.Now()
	ctx = c.config.Hooks.start(ctx, RequestInfo{
		Provider: c.config.ProviderName,
		Method:   req.Method,
		Endpoint: req.Endpoint,
		Stream:   stream,
	})
	return ctx, func(resp *Response, err error) {
		info := ResponseInfo{
			Provider: c.config.ProviderName,
			Endpoint: req.Endpoint,
			Stream:   stream,
			Duration: time.Since(start),
			Err:      err,
		}
		if resp != nil {
			info.StatusCode = resp.StatusCode
		}
		var coreErr *core.Error
		if info.StatusCode == 0 && errors.As(err, &coreErr) {
			info.StatusCode = coreErr.StatusCode
		}
		c.config.Hooks.end(ctx, info)
	}
}

func (c *Client) sendError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	slog.Debug("provider request failed",
		"provider", c.config.ProviderName,
		"session_id", core.GetSessionID(ctx),
		"request_id", core.GetRequestID(ctx),
		"error", err,
	)
	return core.NewTransportError(c.config.ProviderName, 0, "failed to send request: "+err.Error(), err)
}

// buildRequest creates an HTTP request from a Request
func (c *Client) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	target := c.config.BaseURL + req.Endpoint
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var bodyReader io.Reader
	if req.Body != nil {
		bodyBytes, err := json.Marshal(req.Body)
		if err != nil {
			return nil, core.NewInvalidRequestError("failed to marshal request", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, bodyReader)
	if err != nil {
		return nil, core.NewInvalidRequestError("failed to create request", err)
	}

	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	if c.headerSetter != nil {
		c.headerSetter(httpReq)
	}

	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	return httpReq, nil
}
