package httpclient

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/akirco/llmhub/errors"
	"github.com/akirco/llmhub/version"
)

// Request describes one outbound call. Path is joined to the client's
// BaseURL unless it is already absolute.
type Request struct {
	// Method defaults to POST.
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
	// Auth overrides the client-level auth.
	Auth Auth
}

// Client sends requests to one provider endpoint. It never sets an overall
// request timeout, since streamed bodies may legitimately stay open for
// minutes; callers bound the exchange through the context.
type Client struct {
	httpClient *http.Client
	config     Config
}

// New creates a new HTTP client with the given configuration.
func New(cfg Config) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext
	transport.TLSHandshakeTimeout = cfg.ConnectTimeout
	transport.ResponseHeaderTimeout = cfg.ResponseTimeout

	return &Client{
		httpClient: &http.Client{Transport: transport},
		config:     cfg,
	}, nil
}

// NewWithHTTPClient wraps an existing *http.Client, e.g. one from httptest.
func NewWithHTTPClient(cfg Config, hc *http.Client) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{httpClient: hc, config: cfg}, nil
}

// Stream executes a request and hands back the open response body once a
// 2xx status arrives. Closing the returned body cancels the request. Read
// errors on the body are already classified.
func (c *Client) Stream(ctx context.Context, req Request) (io.ReadCloser, error) {
	ctx, cancel := context.WithCancel(ctx)
	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		cancel()
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Classify before cancel, or every failure reads as cancelled.
		err = ClassifyTransport(ctx, err)
		cancel()
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxErrorBody))
		_ = resp.Body.Close()
		cancel()
		return nil, ClassifyStatus(c.config.Name, resp.StatusCode, resp.Header, body)
	}

	return &streamBody{ctx: ctx, body: resp.Body, cancel: cancel}, nil
}

// CloseIdleConnections closes idle keep-alive connections.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// buildRequest constructs an *http.Request from the client config and request.
func (c *Client) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	url := req.Path
	if c.config.BaseURL != "" && !strings.HasPrefix(req.Path, "http://") && !strings.HasPrefix(req.Path, "https://") {
		url = strings.TrimRight(c.config.BaseURL, "/") + "/" + strings.TrimLeft(req.Path, "/")
	}
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, errors.InvalidConfig("build request for " + url).WithCause(err)
	}

	httpReq.Header.Set("User-Agent", version.UserAgent())
	for k, v := range c.config.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	if req.Auth != nil {
		req.Auth.apply(httpReq)
	} else {
		c.config.Auth.apply(httpReq)
	}

	return httpReq, nil
}

// streamBody ties the response body to its request context.
type streamBody struct {
	ctx    context.Context
	body   io.ReadCloser
	cancel context.CancelFunc
	once   sync.Once
	err    error
}

func (s *streamBody) Read(p []byte) (int, error) {
	n, err := s.body.Read(p)
	if err != nil && err != io.EOF {
		err = ClassifyTransport(s.ctx, err)
	}
	return n, err
}

func (s *streamBody) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.err = s.body.Close()
	})
	return s.err
}
