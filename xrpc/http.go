package xrpc

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Generates an HTTP client with decent general-purpose defaults around
// timeouts and retries. The returned client has the stdlib http.Client
// interface, but has Hashicorp retryablehttp logic internally.
//
// Connection errors and 5xx status (except 501) are retried. 429 responses
// are NOT retried: they are returned to the caller so that session code can
// decide on its own backoff. Intermediate failures are logged at WARN.
// Requests are traced through otelhttp.
func RobustHTTPClient(logger *slog.Logger) *http.Client {
	if logger == nil {
		logger = slog.Default()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = logger.With("component", "http")
	retryClient.CheckRetry = noThrottleRetryPolicy
	retryClient.HTTPClient.Transport = otelhttp.NewTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	})
	client := retryClient.StandardClient()
	client.Timeout = 30 * time.Second
	return client
}

func noThrottleRetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}
