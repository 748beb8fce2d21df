package httpclient

import (
	"net"
	"net/http"
	"time"
)

// NewClient returns an HTTP client tuned for many short concurrent requests
// against a single host. A negative timeout is treated as no timeout.
func NewClient(timeout time.Duration) *http.Client {
	return NewClientWithTransport(timeout, nil)
}

// NewClientWithTransport is NewClient with an optional wrapping of the pooled
// transport, used to attach tracing or test round trippers.
func NewClientWithTransport(timeout time.Duration, wrap func(http.RoundTripper) http.RoundTripper) *http.Client {
	if timeout < 0 {
		timeout = 0
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	var transport http.RoundTripper = &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if wrap != nil {
		transport = wrap(transport)
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
