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
	"fmt"
	"time"
)

// AuthError is returned when the SMART-on-FHIR authentication flow
// cannot produce an access token: discovery failure, a non-2xx token
// response, or a token response missing access_token.
type AuthError struct {
	Host string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("fhirclient: authentication failed for %s: %v", e.Host, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// UnauthorizedError wraps a terminal 401 response, i.e. one that
// survived a refresh-and-retry attempt (or had no refresh function
// configured). A terminal 403 is reported as ForbiddenError.
type UnauthorizedError struct {
	Status int
	URL    string
	Body   string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("fhirclient: request to %s was unauthorized (status %d)", e.URL, e.Status)
}

// NotFoundError wraps a terminal 404 response.
type NotFoundError struct {
	URL string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("fhirclient: resource not found at %s", e.URL)
}

// ForbiddenError wraps a terminal 403 response.
type ForbiddenError struct {
	URL string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("fhirclient: request to %s was forbidden", e.URL)
}

// RateLimitedError is returned when a 429 response exhausts either the
// configured cumulative retry-on-429 time budget or the retry count,
// instead of being retried again.
type RateLimitedError struct {
	URL       string
	WaitedFor time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("fhirclient: %s rate limited, exceeded retry budget after waiting %s", e.URL, e.WaitedFor)
}

// Issue mirrors a single FHIR OperationOutcome.issue entry surfaced by
// validation or merge processing.
type Issue struct {
	Severity    string
	Code        string
	Diagnostics string
}

// ValidationError is returned when a resource fails validation against
// a configured validation server before being merged.
type ValidationError struct {
	ResourceType string
	ResourceID   string
	Issues       []Issue
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("fhirclient: validation failed for %s/%s (%d issue(s))", e.ResourceType, e.ResourceID, len(e.Issues))
}

// SenderError wraps a request that failed after exhausting all retries,
// preserving how long the overall call took.
type SenderError struct {
	URL     string
	Elapsed time.Duration
	Err     error
}

func (e *SenderError) Error() string {
	return fmt.Sprintf("fhirclient: request to %s failed after %s: %v", e.URL, e.Elapsed, e.Err)
}

func (e *SenderError) Unwrap() error { return e.Err }
