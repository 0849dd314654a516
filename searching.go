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
	"fmt"
	"net/http"
)

// Paginate scans through all pages of a search result by following the
// Bundle's "next" link, calling consumeFunc for each page. consumeFunc
// returning false stops pagination early. It stops after maxIterations
// to guard against an endless loop from a misbehaving server, matching
// the teacher's Paginate helper. It walks the next links itself, one GET
// per page through the client, and does not use the paged query engine.
func Paginate(ctx context.Context, client *Client, first GetResponse, consumeFunc func(GetResponse) (bool, error), opts ...PaginationOption) error {
	options := &paginationOptions{maxIterations: 100}
	for _, opt := range opts {
		opt(options)
	}

	page := first
	for i := 0; i < options.maxIterations; i++ {
		if i == options.maxIterations-1 {
			return fmt.Errorf("fhirclient: paginate: max. search iterations reached (%d), possible bug", options.maxIterations)
		}

		proceed, err := consumeFunc(page)
		if err != nil {
			return err
		}
		if !proceed {
			return nil
		}
		if page.NextURL == "" {
			return nil
		}

		results, err := client.do(ctx, http.MethodGet, page.NextURL, nil)
		if err != nil {
			return fmt.Errorf("fhirclient: paginate: query next page failed (url=%s): %w", page.NextURL, err)
		}
		if len(results) == 0 {
			return nil
		}
		page = results[0]
	}
	return nil
}

type PaginationOption func(*paginationOptions)

type paginationOptions struct {
	maxIterations int
}

// WithMaxIterations sets the maximum number of iterations Paginate will
// perform.
func WithMaxIterations(max int) PaginationOption {
	return func(o *paginationOptions) {
		o.maxIterations = max
	}
}
