/*
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package fhirclient

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// RefreshTokenFunc is called by the transport when a request comes back
// 401. It returns the replacement token to retry with, or ok=false to
// abort the retry and surface the 401 to the caller.
type RefreshTokenFunc func(ctx context.Context) (token string, ok bool, err error)

// HttpRequestDoer is the minimal seam the transport needs from an HTTP
// client, matching the teacher's interface of the same name.
type HttpRequestDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// transport implements the bounded-retry, backoff, 429 and 401-refresh
// behavior of the reference implementation's RetryableAioHttpClient.
type transport struct {
	doer HttpRequestDoer
	cfg  *Config
}

func newTransport(doer HttpRequestDoer, cfg *Config) *transport {
	return &transport{doer: doer, cfg: cfg}
}

// attemptRecord captures one HTTP attempt for tracing/diagnostics.
type attemptRecord struct {
	Attempt  int
	Status   int
	Err      error
	Elapsed  time.Duration
}

// newBodyFunc produces a fresh io.ReadCloser for each attempt, since an
// http.Request's body can only be consumed once.
type newBodyFunc func() (io.ReadCloser, error)

// fetch performs the method/url request, retrying according to cfg,
// and returns the first response that is terminal (a success, a
// non-retryable error, or retries exhausted).
func (t *transport) fetch(ctx context.Context, method, url string, headers http.Header, newBody newBodyFunc, accessToken string, refresh RefreshTokenFunc) (*http.Response, []attemptRecord, error) {
	var attempts []attemptRecord
	var rateLimitWaited time.Duration
	start := time.Now()

	for attempt := 1; ; attempt++ {
		attemptStart := time.Now()
		req, err := t.buildRequest(ctx, method, url, headers, newBody, accessToken)
		if err != nil {
			return nil, attempts, fmt.Errorf("fhirclient: building request: %w", err)
		}

		resp, err := t.doer.Do(req)
		elapsed := time.Since(attemptStart)

		if t.cfg.TraceFunc != nil {
			t.cfg.TraceFunc(attempt, req, resp, err, elapsed)
		}

		if err != nil {
			attempts = append(attempts, attemptRecord{Attempt: attempt, Err: err, Elapsed: elapsed})
			if attempt > t.cfg.Retries {
				return nil, attempts, &SenderError{URL: url, Elapsed: time.Since(start), Err: err}
			}
			t.sleepBackoff(ctx, attempt)
			continue
		}

		attempts = append(attempts, attemptRecord{Attempt: attempt, Status: resp.StatusCode, Elapsed: elapsed})

		if t.isExcludedFromRetry(resp.StatusCode) {
			return resp, attempts, nil
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return resp, attempts, nil

		case resp.StatusCode == 429:
			if attempt > t.cfg.Retries {
				drainAndClose(resp)
				return resp, attempts, &RateLimitedError{URL: url, WaitedFor: rateLimitWaited}
			}
			drainAndClose(resp)
			waited, terminal := t.handle429(ctx, resp, rateLimitWaited)
			rateLimitWaited += waited
			if terminal {
				return resp, attempts, &RateLimitedError{URL: url, WaitedFor: rateLimitWaited}
			}
			continue

		case resp.StatusCode == 401:
			if refresh == nil || attempt > t.cfg.Retries {
				return resp, attempts, nil
			}
			token, ok, refreshErr := refresh(ctx)
			drainAndClose(resp)
			if refreshErr != nil {
				return nil, attempts, &AuthError{Err: refreshErr}
			}
			if !ok {
				return resp, attempts, &UnauthorizedError{Status: 401, URL: url}
			}
			accessToken = token
			continue

		case resp.StatusCode == 403, resp.StatusCode == 404:
			return resp, attempts, nil

		case t.isRetryable(resp.StatusCode):
			if attempt > t.cfg.Retries {
				return resp, attempts, nil
			}
			drainAndClose(resp)
			t.sleepBackoff(ctx, attempt)
			continue

		default:
			return resp, attempts, nil
		}
	}
}

func (t *transport) buildRequest(ctx context.Context, method, url string, headers http.Header, newBody newBodyFunc, accessToken string) (*http.Request, error) {
	var body io.ReadCloser
	if newBody != nil {
		var err error
		body, err = newBody()
		if err != nil {
			return nil, err
		}
		if t.cfg.Compress {
			body = gzipWrap(body)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header = headers.Clone()
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if t.cfg.Compress {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if t.cfg.SendDataAsChunked {
		req.ContentLength = -1
	}
	return req, nil
}

func gzipWrap(body io.ReadCloser) io.ReadCloser {
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return io.NopCloser(bytes.NewReader(nil))
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, _ = gz.Write(data)
	_ = gz.Close()
	return io.NopCloser(&buf)
}

func (t *transport) isRetryable(status int) bool {
	for _, s := range t.cfg.RetryStatusCodes {
		if s == status {
			return true
		}
	}
	return false
}

func (t *transport) isExcludedFromRetry(status int) bool {
	for _, s := range t.cfg.ExcludeStatusCodesFromRetry {
		if s == status {
			return true
		}
	}
	return false
}

func (t *transport) sleepBackoff(ctx context.Context, attempt int) {
	d := t.cfg.BackoffFactor * time.Duration(1<<uint(attempt-1))
	sleepCtx(ctx, d)
}

// handle429 parses Retry-After and sleeps accordingly, honoring the
// configured cumulative 429-wait budget. It returns the duration slept
// and whether waiting would exceed the budget (terminal); in that case it
// does not sleep.
func (t *transport) handle429(ctx context.Context, resp *http.Response, alreadyWaited time.Duration) (time.Duration, bool) {
	wait := parseRetryAfter(resp.Header.Get("Retry-After"))
	if t.cfg.MaxTimeToRetryOn429 > 0 && alreadyWaited+wait > t.cfg.MaxTimeToRetryOn429 {
		return 0, true
	}
	sleepCtx(ctx, wait)
	return wait, false
}

// parseRetryAfter mirrors _handle_429: a numeric value is seconds to
// sleep; otherwise it is parsed as an RFC 1123 HTTP-date; any parse
// failure falls back to a 60s sleep.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 60 * time.Second
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	when, err := time.Parse(http.TimeFormat, value)
	if err != nil {
		return 60 * time.Second
	}
	d := time.Until(when)
	if d < 0 {
		return 0
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func drainAndClose(resp *http.Response) {
	if resp == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	_ = resp.Body.Close()
}
