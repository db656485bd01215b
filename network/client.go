// Package network resolves path segments to NetworkSpecs and issues the raw
// upstream JSON-RPC POST requests, classifying transport-level failures into
// the taxonomy the dispatcher consumes.
package network

import (
	"crypto/tls"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fasthttp"

	ourmetrics "github.com/superfluid-org/super-rpc/metrics"
	"github.com/superfluid-org/super-rpc/rpctypes"
)

// ErrorKind is the upstream error taxonomy of spec §4.7.
type ErrorKind int

const (
	// KindRPCError means the HTTP call itself succeeded; the JSON-RPC
	// envelope it carries may still hold an `error` field.
	KindRPCError ErrorKind = iota
	KindTransportFatal
	KindTransportTransient
	KindClientError
)

// UpstreamError wraps a transport-level failure with its classification.
type UpstreamError struct {
	Kind ErrorKind
	Err  error
}

func (e *UpstreamError) Error() string { return e.Err.Error() }
func (e *UpstreamError) Unwrap() error { return e.Err }

// Retryable reports whether the dispatcher's retry loop should try again
// against the same upstream (transport-transient only; spec §4.7).
func (e *UpstreamError) Retryable() bool { return e.Kind == KindTransportTransient }

const defaultMaxConnsPerHost = 50

// Client issues POSTs against one network's upstreams, one keep-alive
// connection pool per network key (host), bounded by maxConnsPerHost.
type Client struct {
	mu      sync.Mutex
	hosts   map[string]*fasthttp.HostClient
	maxConn int
}

// NewClient builds an upstream client with the default (or given) per-host
// connection pool bound.
func NewClient(maxConnsPerHost int) *Client {
	if maxConnsPerHost <= 0 {
		maxConnsPerHost = defaultMaxConnsPerHost
	}
	return &Client{hosts: make(map[string]*fasthttp.HostClient), maxConn: maxConnsPerHost}
}

func (c *Client) hostClientFor(rawURL string) (*fasthttp.HostClient, bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if hc, ok := c.hosts[u.Host]; ok {
		return hc, u.Scheme == "https", nil
	}

	isTLS := u.Scheme == "https"
	hc := &fasthttp.HostClient{
		Addr:                addrWithDefaultPort(u.Host, isTLS),
		IsTLS:               isTLS,
		MaxConns:            c.maxConn,
		TLSConfig:           &tls.Config{},
		MaxIdleConnDuration: 90 * time.Second,
	}
	c.hosts[u.Host] = hc
	return hc, isTLS, nil
}

func addrWithDefaultPort(host string, isTLS bool) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	if isTLS {
		return host + ":443"
	}
	return host + ":80"
}

// Post implements spec §4.7's single upstream operation: POST envelope to
// upstream with a timeout, returning either the raw response body or a
// classified UpstreamError.
func (c *Client) Post(upstream rpctypes.UpstreamSpec, body []byte, timeout time.Duration) ([]byte, error) {
	timer := ourmetrics.GetOrRegisterTimer("upstream/post/%v", upstream.URL)
	updater := ourmetrics.NewTimerUpdater(timer)
	defer updater.Update()

	hc, _, err := c.hostClientFor(upstream.URL)
	if err != nil {
		return nil, &UpstreamError{Kind: KindTransportFatal, Err: err}
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(upstream.URL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	for k, v := range upstream.Headers {
		req.Header.Set(k, v)
	}
	req.SetBody(body)

	err = hc.DoTimeout(req, resp, timeout)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	status := resp.StatusCode()
	respBody := append([]byte(nil), resp.Body()...)

	switch {
	case status == 200:
		return respBody, nil
	case status == 429 || status >= 500:
		return respBody, &UpstreamError{Kind: KindTransportTransient, Err: statusError(status)}
	case status >= 400:
		return respBody, &UpstreamError{Kind: KindClientError, Err: statusError(status)}
	default:
		return respBody, nil
	}
}

func classifyTransportError(err error) *UpstreamError {
	msg := strings.ToLower(err.Error())
	switch {
	case err == fasthttp.ErrTimeout || strings.Contains(msg, "timeout"):
		return &UpstreamError{Kind: KindTransportTransient, Err: err}
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "tls"):
		return &UpstreamError{Kind: KindTransportFatal, Err: err}
	default:
		return &UpstreamError{Kind: KindTransportTransient, Err: err}
	}
}

type statusErr struct{ status int }

func (s statusErr) Error() string {
	return "upstream returned HTTP status " + httpStatusText(s.status)
}

func statusError(status int) error { return statusErr{status: status} }

func httpStatusText(status int) string {
	return fasthttp.StatusMessage(status)
}
