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
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// GetResponse is the uniform result of a read/search style operation:
// either the raw resources (as a flat list or grouped by type) or a
// terminal error description, matching spec.md's GetResponse entity.
type GetResponse struct {
	RequestID    string
	URL          string
	Resources    []map[string]any
	ByType       map[string][]map[string]any
	Status       int
	Error        string
	AccessToken  string
	TotalCount   int
	NextURL      string
	ChunkNumber  int
	ResponseHeaders http.Header
	ExtraContext map[string]any
}

// HandleStreamingChunkFunc is invoked once per raw chunk read from a
// streaming response body, before it is parsed.
type HandleStreamingChunkFunc func(chunk []byte, chunkNumber int) error

// processResponse dispatches on the HTTP status of resp and, for a 2xx
// body, either streams NDJSON through the incremental parser or decodes
// the body as a single JSON document (optionally expanding a Bundle).
func processResponse(resp *http.Response, fullURL, accessToken string, cfg *Config, onChunk HandleStreamingChunkFunc) ([]GetResponse, error) {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return handleSuccess(resp, fullURL, accessToken, cfg, onChunk)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, int64(cfg.effectiveMaxResponseSize())))
		errMessage := string(body)
		if ooErr := checkForOperationOutcomeError(body, true, resp.StatusCode); ooErr != nil {
			errMessage = ooErr.Error()
		}
		return []GetResponse{{
			URL:    fullURL,
			Status: resp.StatusCode,
			Error:  errMessage,
		}}, nil
	}
}

func handleSuccess(resp *http.Response, fullURL, accessToken string, cfg *Config, onChunk HandleStreamingChunkFunc) ([]GetResponse, error) {
	if cfg.UseDataStreaming {
		return handleStreaming(resp, fullURL, accessToken, cfg, onChunk)
	}
	return handleNonStreaming(resp, fullURL, accessToken, cfg)
}

func handleStreaming(resp *http.Response, fullURL, accessToken string, cfg *Config, onChunk HandleStreamingChunkFunc) ([]GetResponse, error) {
	parser := &ndjsonParser{}
	reader := bufio.NewReaderSize(resp.Body, cfg.effectiveChunkSize())
	chunkSize := cfg.effectiveChunkSize()
	var out []GetResponse
	chunkNumber := 0
	buf := make([]byte, chunkSize)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			chunkNumber++
			chunk := append([]byte(nil), buf[:n]...)
			if onChunk != nil {
				if cbErr := onChunk(chunk, chunkNumber); cbErr != nil {
					return out, cbErr
				}
			}
			resources := parser.AddChunk(string(chunk))
			if len(resources) > 0 {
				out = append(out, GetResponse{
					URL:             fullURL,
					Status:          resp.StatusCode,
					AccessToken:     accessToken,
					Resources:       resources,
					ChunkNumber:     chunkNumber,
					ResponseHeaders: resp.Header,
				})
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, fmt.Errorf("fhirclient: reading streamed response body: %w", err)
		}
	}
	return out, nil
}

func handleNonStreaming(resp *http.Response, fullURL, accessToken string, cfg *Config) ([]GetResponse, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(cfg.effectiveMaxResponseSize())+1))
	if err != nil {
		return nil, fmt.Errorf("fhirclient: reading response body: %w", err)
	}
	if ooErr := checkForOperationOutcomeError(body, false, resp.StatusCode); ooErr != nil {
		return nil, ooErr
	}
	if len(body) == 0 {
		return []GetResponse{{URL: fullURL, Status: resp.StatusCode, AccessToken: accessToken, ResponseHeaders: resp.Header}}, nil
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		// Not a JSON object (e.g. a raw array or scalar): the result
		// carries the status and headers only; the body is not returned.
		return []GetResponse{{
			URL:             fullURL,
			Status:          resp.StatusCode,
			AccessToken:     accessToken,
			ResponseHeaders: resp.Header,
		}}, nil
	}

	resourceType, _ := payload["resourceType"].(string)

	if resourceType == "Bundle" {
		if cfg.ExpandFhirBundle {
			expanded := expandBundle(payload, cfg.SeparateBundleResources, cfg.ExtraContextToReturn, accessToken, fullURL)
			next := expanded.NextURL
			if next != "" {
				next = applyPortPreservation(fullURL, next)
			}
			return []GetResponse{{
				URL:             fullURL,
				Status:          resp.StatusCode,
				AccessToken:     accessToken,
				Resources:       expanded.Resources,
				ByType:          expanded.ByType,
				TotalCount:      expanded.TotalCount,
				NextURL:         next,
				ResponseHeaders: resp.Header,
				ExtraContext:    expanded.ExtraContext,
			}}, nil
		}
		next := nextLink(payload)
		if next != "" {
			next = applyPortPreservation(fullURL, next)
		}
		return []GetResponse{{
			URL:             fullURL,
			Status:          resp.StatusCode,
			AccessToken:     accessToken,
			Resources:       []map[string]any{payload},
			NextURL:         next,
			ResponseHeaders: resp.Header,
		}}, nil
	}

	if cfg.SeparateBundleResources {
		byType := map[string][]map[string]any{toLowerASCII(resourceType): {payload}}
		return []GetResponse{{
			URL:             fullURL,
			Status:          resp.StatusCode,
			AccessToken:     accessToken,
			ByType:          byType,
			ResponseHeaders: resp.Header,
		}}, nil
	}

	return []GetResponse{{
		URL:             fullURL,
		Status:          resp.StatusCode,
		AccessToken:     accessToken,
		Resources:       []map[string]any{payload},
		ResponseHeaders: resp.Header,
	}}, nil
}
