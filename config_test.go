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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3, cfg.Retries)
	assert.Equal(t, 500*time.Millisecond, cfg.BackoffFactor)
	assert.Equal(t, []int{500, 502, 503, 504}, cfg.RetryStatusCodes)
	assert.True(t, cfg.ThrowOnError)
	assert.Equal(t, 64*1024, cfg.ChunkSize)
}

func TestConfigEffectiveDefaultsWhenUnset(t *testing.T) {
	cfg := Config{}
	assert.Equal(t, 10*1024*1024, cfg.effectiveMaxResponseSize())
	assert.Equal(t, 64*1024, cfg.effectiveChunkSize())
	assert.NotNil(t, cfg.logger())
}

func TestConfigEffectiveRespectsOverrides(t *testing.T) {
	cfg := Config{MaxResponseSize: 42, ChunkSize: 7}
	assert.Equal(t, 42, cfg.effectiveMaxResponseSize())
	assert.Equal(t, 7, cfg.effectiveChunkSize())
}

func TestOptionsMutateConfig(t *testing.T) {
	cfg := DefaultConfig()
	opts := []Option{
		WithRetries(5),
		WithMaxTimeToRetryOn429(2 * time.Second),
		WithExpandFhirBundle(),
		WithSeparateBundleResources(),
		WithAccessToken("token-123"),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	assert.Equal(t, 5, cfg.Retries)
	assert.Equal(t, 2*time.Second, cfg.MaxTimeToRetryOn429)
	assert.True(t, cfg.ExpandFhirBundle)
	assert.True(t, cfg.SeparateBundleResources)
	assert.Equal(t, "token-123", cfg.AccessToken)
}

func TestCapConcurrency(t *testing.T) {
	unbounded := Config{}
	assert.Equal(t, 8, unbounded.capConcurrency(8))
	assert.Equal(t, 0, unbounded.capConcurrency(0))

	bounded := Config{MaxConcurrentRequests: 4}
	assert.Equal(t, 4, bounded.capConcurrency(8))
	assert.Equal(t, 4, bounded.capConcurrency(0))
	assert.Equal(t, 2, bounded.capConcurrency(2))
}
