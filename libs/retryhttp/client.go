// Package retryhttp wraps an http.Client with a bounded retry policy for
// calls to flaky upstream services.
//
// The policy: any 2xx/3xx response is returned immediately; 4xx responses
// are never retried; 5xx responses and transport errors are retried with a
// linearly growing delay while attempts remain. A 5xx on the final attempt
// is returned to the caller as-is, a transport error on the final attempt
// propagates as an error.
package retryhttp

import (
	"net/http"
	"time"

	"github.com/voxrelay/backend/libs/errors"
	"github.com/voxrelay/backend/libs/golog"
)

const (
	// DefaultAttempts is the number of tries per call when Attempts is unset.
	DefaultAttempts = 3
	// DefaultBaseDelay is the backoff unit when BaseDelay is unset. The wait
	// before attempt n+1 is n*BaseDelay.
	DefaultBaseDelay = time.Second
)

// Client performs HTTP calls with bounded retry.
type Client struct {
	// HTTPClient defaults to a client with a 30 second timeout.
	HTTPClient *http.Client
	Attempts   int
	BaseDelay  time.Duration

	// sleep is replaceable for tests
	sleep func(time.Duration)
}

// New returns a retrying client with the default policy.
func New() *Client {
	return &Client{}
}

// Do performs the request, retrying per the package policy. Requests with a
// body must have GetBody set (http.NewRequest does this for common body
// types) so the body can be rewound between attempts.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	attempts := c.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	baseDelay := c.BaseDelay
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	sleep := c.sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var res *http.Response
	var err error
	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			if req.Body != nil && req.GetBody == nil {
				return nil, errors.Errorf("retryhttp: request to %s has a non-rewindable body", req.URL)
			}
			if req.GetBody != nil {
				body, berr := req.GetBody()
				if berr != nil {
					return nil, errors.Trace(berr)
				}
				req.Body = body
			}
		}

		res, err = httpClient.Do(req)
		if err == nil && res.StatusCode < http.StatusInternalServerError {
			return res, nil
		}
		if attempt >= attempts {
			if err != nil {
				return nil, errors.Trace(err)
			}
			// Out of attempts: hand the 5xx response back to the caller.
			return res, nil
		}
		if err != nil {
			golog.Warningf("retryhttp: %s %s attempt %d failed: %s", req.Method, req.URL, attempt, err)
		} else {
			res.Body.Close()
			golog.Warningf("retryhttp: %s %s attempt %d returned status %d", req.Method, req.URL, attempt, res.StatusCode)
		}
		sleep(time.Duration(attempt) * baseDelay)
	}
}
