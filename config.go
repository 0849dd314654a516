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
	"net/http"
	"time"
)

const FhirJsonMediaType = "application/fhir+json"

// TraceFunc is invoked after every attempt of a request, successful or
// not, for diagnostics and metrics. It mirrors the reference
// implementation's tracer_request_func.
type TraceFunc func(attempt int, req *http.Request, resp *http.Response, err error, elapsed time.Duration)

// Config holds every tunable of the client's transport, auth and
// response-processing behavior. It is built up through Option functions
// passed to NewClient, generalizing the teacher's Non2xxStatusHandler/
// MaxResponseSize pair into the full surface spec.md §6 enumerates.
type Config struct {
	// Non2xxStatusHandler is called for every non-2xx final response (the
	// one left after the transport's retries), primarily for logging; it
	// does not affect retry or error decisions.
	Non2xxStatusHandler func(response *http.Response, responseBody []byte)
	// MaxResponseSize caps how many body bytes are read from a response.
	MaxResponseSize int

	// Retries is the maximum number of retry attempts (not counting the
	// initial attempt) for a retryable status code or transport error.
	Retries int
	// BackoffFactor scales the exponential backoff: sleep = BackoffFactor
	// * 2^(attempt-1).
	BackoffFactor time.Duration
	// RetryStatusCodes are the status codes that trigger a retry.
	RetryStatusCodes []int
	// ExcludeStatusCodesFromRetry removes specific codes from retry
	// consideration even if they also appear in RetryStatusCodes.
	ExcludeStatusCodesFromRetry []int
	// MaxTimeToRetryOn429 caps the cumulative time spent sleeping across
	// all 429 retries for one logical call; zero means unbounded.
	MaxTimeToRetryOn429 time.Duration
	// ThrowOnError switches between returning a non-nil error from an
	// operation (true, the default) and returning a terminal GetResponse
	// describing the failure (false).
	ThrowOnError bool

	// MaxConcurrentRequests caps the worker count each call of the
	// paged/two-phase engines and the merge batch fan-out runs with (see
	// capConcurrency). It is a per-call cap, not a limit shared across
	// calls, and the merge pipeline's validation requests are not capped
	// by it. Zero means unbounded.
	MaxConcurrentRequests int

	// RefreshTokenFunc is called on a 401 to obtain a fresh access token.
	// If nil, a 401 is terminal.
	RefreshTokenFunc RefreshTokenFunc
	// TraceFunc, if set, is invoked after every HTTP attempt.
	TraceFunc TraceFunc
	// Logger is the injected logging façade; defaults to a no-op logger.
	// No code path in this package writes to it.
	Logger Logger

	// UseDataStreaming parses the response body as NDJSON, chunk by
	// chunk, instead of as a single JSON document.
	UseDataStreaming bool
	// ChunkSize is the read buffer size used when UseDataStreaming is set.
	ChunkSize int
	// Compress requests gzip-encoded request bodies.
	Compress bool
	// SendDataAsChunked uses chunked transfer-encoding for request bodies.
	SendDataAsChunked bool

	// ExpandFhirBundle un-bundles a returned Bundle into its entries.
	ExpandFhirBundle bool
	// SeparateBundleResources additionally groups expanded resources
	// (and promoted contained resources) by lower-cased resourceType.
	SeparateBundleResources bool
	// ExtraContextToReturn is carried, as GetResponse.ExtraContext, on the
	// response of every expanded Bundle, separated or not. It is not merged
	// into the ByType map, and non-Bundle responses do not carry it.
	ExtraContextToReturn map[string]any

	// AccessToken, when non-empty, is used as a fixed bearer token
	// instead of driving the Auth Engine.
	AccessToken string
	// AuthEngine performs SMART-on-FHIR discovery and the
	// client-credentials grant when AccessToken is not set directly.
	AuthEngine *AuthEngine
}

func (c *Config) effectiveMaxResponseSize() int {
	if c.MaxResponseSize <= 0 {
		return 10 * 1024 * 1024
	}
	return c.MaxResponseSize
}

func (c *Config) effectiveChunkSize() int {
	if c.ChunkSize <= 0 {
		return 64 * 1024
	}
	return c.ChunkSize
}

func (c *Config) logger() Logger {
	if c.Logger == nil {
		return NoopLogger()
	}
	return c.Logger
}

// DefaultConfig returns the configuration a Client uses when no options
// override it: three retries with a 0.5s backoff factor against the
// standard 500/502/503/504 retryable set, errors raised rather than
// returned as data, and no streaming/bundle-expansion behavior.
func DefaultConfig() Config {
	return Config{
		MaxResponseSize:  10 * 1024 * 1024,
		Retries:          3,
		BackoffFactor:    500 * time.Millisecond,
		RetryStatusCodes: []int{500, 502, 503, 504},
		ThrowOnError:     true,
		ChunkSize:        64 * 1024,
	}
}

// Option configures a Client at construction time.
type Option func(*Config)

func WithMaxResponseSize(n int) Option { return func(c *Config) { c.MaxResponseSize = n } }
func WithRetries(n int) Option         { return func(c *Config) { c.Retries = n } }
func WithBackoffFactor(d time.Duration) Option {
	return func(c *Config) { c.BackoffFactor = d }
}
func WithRetryStatusCodes(codes ...int) Option {
	return func(c *Config) { c.RetryStatusCodes = codes }
}
func WithExcludeStatusCodesFromRetry(codes ...int) Option {
	return func(c *Config) { c.ExcludeStatusCodesFromRetry = codes }
}
func WithMaxTimeToRetryOn429(d time.Duration) Option {
	return func(c *Config) { c.MaxTimeToRetryOn429 = d }
}
func WithThrowOnError(v bool) Option { return func(c *Config) { c.ThrowOnError = v } }
func WithMaxConcurrentRequests(n int) Option {
	return func(c *Config) { c.MaxConcurrentRequests = n }
}

// capConcurrency clamps a caller-supplied worker count to
// MaxConcurrentRequests when that bound is set, and fills in the bound
// itself when the caller left workers unset (zero).
func (c *Config) capConcurrency(workers int) int {
	if c.MaxConcurrentRequests <= 0 {
		return workers
	}
	if workers <= 0 || workers > c.MaxConcurrentRequests {
		return c.MaxConcurrentRequests
	}
	return workers
}
func WithRefreshTokenFunc(fn RefreshTokenFunc) Option {
	return func(c *Config) { c.RefreshTokenFunc = fn }
}
func WithTraceFunc(fn TraceFunc) Option { return func(c *Config) { c.TraceFunc = fn } }
func WithLogger(l Logger) Option        { return func(c *Config) { c.Logger = l } }
func WithDataStreaming(chunkSize int) Option {
	return func(c *Config) { c.UseDataStreaming = true; c.ChunkSize = chunkSize }
}
func WithCompression() Option       { return func(c *Config) { c.Compress = true } }
func WithChunkedUpload() Option     { return func(c *Config) { c.SendDataAsChunked = true } }
func WithExpandFhirBundle() Option  { return func(c *Config) { c.ExpandFhirBundle = true } }
func WithSeparateBundleResources() Option {
	return func(c *Config) { c.SeparateBundleResources = true }
}
func WithExtraContextToReturn(ctx map[string]any) Option {
	return func(c *Config) { c.ExtraContextToReturn = ctx }
}
func WithAccessToken(token string) Option { return func(c *Config) { c.AccessToken = token } }
func WithAuthEngine(a *AuthEngine) Option { return func(c *Config) { c.AuthEngine = a } }
func WithNon2xxStatusHandler(fn func(*http.Response, []byte)) Option {
	return func(c *Config) { c.Non2xxStatusHandler = fn }
}
