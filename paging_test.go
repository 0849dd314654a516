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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPagedQueryStridesWorkersAndStopsAtWatermark(t *testing.T) {
	const lastNonEmptyPage = 5
	var mu sync.Mutex
	fetched := map[int]bool{}

	fetch := func(ctx context.Context, pageNumber int, idAbove string) ([]map[string]any, string, error) {
		mu.Lock()
		fetched[pageNumber] = true
		mu.Unlock()
		if pageNumber > lastNonEmptyPage {
			return nil, "", nil
		}
		return []map[string]any{{"id": "r"}}, "r", nil
	}

	var mu2 sync.Mutex
	var pages []int
	err := pagedQuery(context.Background(), 3, fetch, func(p pagingResult) bool {
		mu2.Lock()
		defer mu2.Unlock()
		pages = append(pages, p.PageNumber)
		return true
	})
	require.NoError(t, err)

	for p := 0; p <= lastNonEmptyPage; p++ {
		assert.Contains(t, pages, p)
	}
}

func TestPagedQueryStopsWhenCallbackReturnsFalse(t *testing.T) {
	fetch := func(ctx context.Context, pageNumber int, idAbove string) ([]map[string]any, string, error) {
		return []map[string]any{{"id": "r"}}, "r", nil
	}

	var mu sync.Mutex
	count := 0
	err := pagedQuery(context.Background(), 1, fetch, func(p pagingResult) bool {
		mu.Lock()
		defer mu.Unlock()
		count++
		return count < 3
	})
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestLastResourceID(t *testing.T) {
	assert.Equal(t, "", lastResourceID(nil))
	assert.Equal(t, "b", lastResourceID([]map[string]any{{"id": "a"}, {"id": "b"}}))
}

func TestLastPageWatermarkRecordsLowest(t *testing.T) {
	w := &lastPageWatermark{}
	w.recordEmpty(5)
	w.recordEmpty(2)
	w.recordEmpty(9)
	val, ok := w.get()
	require.True(t, ok)
	assert.Equal(t, 2, val)
}
