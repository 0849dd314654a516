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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthEngineDiscoversAndGrantsToken(t *testing.T) {
	var tokenCalls, wellKnownCalls int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/.well-known/smart-configuration":
			wellKnownCalls++
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"token_endpoint":"http://` + r.Host + `/token"}`))
		case "/token":
			tokenCalls++
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"abc123","token_type":"Bearer","expires_in":3600}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	engine := NewAuthEngine("client-id", "client-secret", []string{"system/*.read"})
	engine.AuthWellKnownURL = server.URL + "/.well-known/smart-configuration"

	token, err := engine.GetAccessToken(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "abc123", token)
	assert.Equal(t, 1, wellKnownCalls)
	assert.Equal(t, 1, tokenCalls)

	// second call within TTL should hit the cached token, not re-discover.
	token2, err := engine.GetAccessToken(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "abc123", token2)
	assert.Equal(t, 1, tokenCalls, "cached token must not trigger a second grant")
}

func TestAuthEngineCaches404Discovery(t *testing.T) {
	var wellKnownCalls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wellKnownCalls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	// Reset the process-global cache entry for this host so the test is
	// independent of prior test ordering.
	host := server.Listener.Addr().String()
	wellKnownCacheMu.Lock()
	delete(wellKnownCacheM, host)
	wellKnownCacheMu.Unlock()

	engine := NewAuthEngine("client-id", "client-secret", nil)

	_, err := engine.GetAccessToken(context.Background(), server.URL)
	require.Error(t, err)
	assert.Equal(t, 1, wellKnownCalls)

	_, err = engine.GetAccessToken(context.Background(), server.URL)
	require.Error(t, err)
	assert.Equal(t, 1, wellKnownCalls, "a 404 discovery must be cached until TTL expiry")
}
