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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const wellKnownCacheTTL = 600 * time.Second

// wellKnownEntry is one host's cached SMART-on-FHIR discovery result.
// An empty TokenURL with a non-zero CachedAt records a confirmed-absent
// configuration (e.g. a 404), suppressing re-discovery until the entry
// expires - matching the reference implementation's negative cache.
type wellKnownEntry struct {
	TokenURL string
	CachedAt time.Time
}

func (e wellKnownEntry) expired(now time.Time) bool {
	return now.Sub(e.CachedAt) > wellKnownCacheTTL
}

// wellKnownCache is process-global and shared across every Client and
// clone, exactly as the reference implementation's class-level cache is
// shared across client instances.
var (
	wellKnownCacheMu sync.Mutex
	wellKnownCacheM  = map[string]wellKnownEntry{}
)

func lookupWellKnown(host string) (wellKnownEntry, bool) {
	wellKnownCacheMu.Lock()
	defer wellKnownCacheMu.Unlock()
	entry, ok := wellKnownCacheM[host]
	if !ok || entry.expired(time.Now()) {
		return wellKnownEntry{}, false
	}
	return entry, true
}

func storeWellKnown(host, tokenURL string) {
	wellKnownCacheMu.Lock()
	defer wellKnownCacheMu.Unlock()
	wellKnownCacheM[host] = wellKnownEntry{TokenURL: tokenURL, CachedAt: time.Now()}
}

// AuthEngine performs SMART-on-FHIR client-credentials authentication:
// well-known discovery (cached per host), the grant itself via
// golang.org/x/oauth2/clientcredentials, and token caching with
// expiry-aware refresh, mirroring FhirAuthMixin end to end.
type AuthEngine struct {
	ClientID         string
	ClientSecret     string
	Scopes           []string
	AuthWellKnownURL string // explicit override; if empty, derived from the FHIR base URL's host
	HTTPClient       *http.Client

	mu          sync.Mutex
	token       string
	expiry      time.Time
}

// NewAuthEngine builds an AuthEngine for the client-credentials grant.
func NewAuthEngine(clientID, clientSecret string, scopes []string) *AuthEngine {
	return &AuthEngine{ClientID: clientID, ClientSecret: clientSecret, Scopes: scopes, HTTPClient: http.DefaultClient}
}

// GetAccessToken returns a cached, unexpired token, or performs a fresh
// discovery-and-grant round trip. fhirBaseURL is used to derive the
// well-known discovery host when AuthWellKnownURL is unset.
func (a *AuthEngine) GetAccessToken(ctx context.Context, fhirBaseURL string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token != "" && time.Now().Before(a.expiry) {
		return a.token, nil
	}

	tokenURL, err := a.resolveTokenURL(ctx, fhirBaseURL)
	if err != nil {
		return "", err
	}
	if tokenURL == "" {
		return "", &AuthError{Host: fhirBaseURL, Err: fmt.Errorf("no SMART-on-FHIR token endpoint discovered")}
	}

	cc := &clientcredentials.Config{
		ClientID:     a.ClientID,
		ClientSecret: a.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       a.Scopes,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	httpClient := a.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, httpClient)

	tok, err := cc.Token(tokenCtx)
	if err != nil {
		return "", &AuthError{Host: fhirBaseURL, Err: err}
	}
	if tok.AccessToken == "" {
		return "", &AuthError{Host: fhirBaseURL, Err: fmt.Errorf("token response missing access_token")}
	}

	a.token = tok.AccessToken
	if tok.Expiry.IsZero() {
		a.expiry = time.Now().Add(time.Hour)
	} else {
		a.expiry = tok.Expiry
	}
	return a.token, nil
}

// RefreshTokenFunc adapts GetAccessToken to the transport's refresh
// callback, invalidating the cached token first so the next call
// performs a real grant round trip.
func (a *AuthEngine) RefreshTokenFunc(fhirBaseURL string) RefreshTokenFunc {
	return func(ctx context.Context) (string, bool, error) {
		a.mu.Lock()
		a.token = ""
		a.mu.Unlock()
		token, err := a.GetAccessToken(ctx, fhirBaseURL)
		if err != nil {
			return "", false, err
		}
		return token, true, nil
	}
}

func (a *AuthEngine) resolveTokenURL(ctx context.Context, fhirBaseURL string) (string, error) {
	host := fhirBaseURL
	if u, err := url.Parse(fhirBaseURL); err == nil && u.Host != "" {
		host = u.Host
	}

	if entry, ok := lookupWellKnown(host); ok {
		return entry.TokenURL, nil
	}

	discoveryURL := a.AuthWellKnownURL
	if discoveryURL == "" {
		discoveryURL = strings.TrimRight(fhirBaseURL, "/") + "/.well-known/smart-configuration"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return "", err
	}
	httpClient := a.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", &AuthError{Host: host, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		storeWellKnown(host, "")
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", &AuthError{Host: host, Err: fmt.Errorf("well-known discovery returned status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	var cfg struct {
		TokenEndpoint string `json:"token_endpoint"`
	}
	if err := json.Unmarshal(body, &cfg); err != nil {
		return "", &AuthError{Host: host, Err: err}
	}

	storeWellKnown(host, cfg.TokenEndpoint)
	return cfg.TokenEndpoint, nil
}
