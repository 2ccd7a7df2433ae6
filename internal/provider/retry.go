package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// maxRetries bounds the extra attempts made after the first request, for both
// the raw HTTP gateways and the SDK clients.
const maxRetries = 3

// retryUnit scales the quadratic backoff; tests shrink it.
var retryUnit = time.Second

// statusError is a transient HTTP status that ran out of retries.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.status, e.body)
}

func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// backoff waits attempt² units plus up to half again of jitter. A Retry-After
// header in seconds takes precedence when it is longer.
func backoff(attempt int, retryAfter string) time.Duration {
	base := time.Duration(attempt*attempt) * retryUnit
	d := base + time.Duration(rand.Int64N(int64(base/2)+1))
	if secs, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil {
		if ra := time.Duration(secs) * time.Second; ra > d {
			d = ra
		}
	}
	return d
}

// doWithRetry sends the request built by buildReq, retrying network failures,
// 429 and 5xx. Any other status is handed back to the caller untouched.
func doWithRetry(ctx context.Context, client *http.Client, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var (
		lastErr    error
		retryAfter string
	)
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := backoff(attempt, retryAfter)
			logger.Warn("retrying request", "attempt", attempt+1, "backoff", wait, "error", lastErr)
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr, retryAfter = err, ""
			continue
		}
		if !transientStatus(resp.StatusCode) {
			return resp, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		retryAfter = resp.Header.Get("Retry-After")
		lastErr = &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}
	return nil, fmt.Errorf("giving up after %d retries: %w", maxRetries, lastErr)
}
