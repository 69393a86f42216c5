package resilience

import (
	"errors"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ClientConfig holds configuration for the resilient HTTP client.
type ClientConfig struct {
	// Name identifies this client's breaker.
	Name string

	// Timeout is the request timeout for individual HTTP calls.
	// Default: 30 seconds
	Timeout time.Duration
}

// Client is an HTTP client with a timeout whose calls are counted by a
// circuit breaker that never opens. Requests are never retried: a failed call
// is reported once and the caller decides how to continue.
type Client struct {
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker[*http.Response]
}

// NewClient creates a new resilient HTTP client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		circuitBreaker: newCountingBreaker[*http.Response](cfg.Name), //nolint:bodyclose // type param, not response
	}
}

// Do executes an HTTP request through the breaker.
// A 5xx response counts as a failure but is still returned with a nil error
// so the caller can report the status code.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.circuitBreaker.Execute(func() (*http.Response, error) { //nolint:bodyclose // caller is responsible for closing
		r, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}

		// Treat 5xx as errors for the failure counts
		if r.StatusCode >= http.StatusInternalServerError {
			return r, &serverError{StatusCode: r.StatusCode}
		}

		return r, nil
	})
	if err != nil {
		var serverErr *serverError
		if errors.As(err, &serverErr) && resp != nil {
			return resp, nil
		}
		return nil, err
	}

	return resp, nil
}

// serverError represents an HTTP 5xx server error.
type serverError struct {
	StatusCode int
}

func (e *serverError) Error() string {
	return "server error: " + http.StatusText(e.StatusCode)
}

// Counts returns the requests and failures (5xx and transport errors) seen
// since the client was created.
func (c *Client) Counts() gobreaker.Counts {
	return c.circuitBreaker.Counts()
}
