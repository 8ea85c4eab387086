package llm

import (
	"context"
	"io"

	"github.com/akirco/llmhub/httpclient"
)

// Transport delivers a wire request and returns the open response body.
// Closing the body cancels the request.
type Transport interface {
	Send(ctx context.Context, req WireRequest) (io.ReadCloser, error)
}

// HTTPTransport sends wire requests through an httpclient.Client.
type HTTPTransport struct {
	client *httpclient.Client
}

// NewHTTPTransport wraps client.
func NewHTTPTransport(client *httpclient.Client) *HTTPTransport {
	return &HTTPTransport{client: client}
}

// Send implements Transport. Non-2xx statuses come back classified.
func (t *HTTPTransport) Send(ctx context.Context, req WireRequest) (io.ReadCloser, error) {
	return t.client.Stream(ctx, httpclient.Request{
		Method:  req.Method,
		Path:    req.Path,
		Headers: req.Headers,
		Body:    req.Body,
	})
}

// CloseIdleConnections releases pooled connections.
func (t *HTTPTransport) CloseIdleConnections() {
	t.client.CloseIdleConnections()
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req WireRequest) (io.ReadCloser, error)

func (f TransportFunc) Send(ctx context.Context, req WireRequest) (io.ReadCloser, error) {
	return f(ctx, req)
}
