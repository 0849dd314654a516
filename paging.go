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
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// pagingResult is one worker's fetched page, pushed onto the shared
// results channel for the caller to consume concurrently with ongoing
// workers - the Go analogue of the reference implementation's
// asyncio.Queue[PagingResult].
type pagingResult struct {
	PageNumber int
	Resources  []map[string]any
}

// lastPageWatermark tracks the lowest page number known to be empty,
// shared across every worker so that once one worker observes the end
// of the result set, the others stop striding past it. It mirrors
// self._last_page / self._last_page_lock in the reference
// implementation.
type lastPageWatermark struct {
	mu  sync.Mutex
	set bool
	val int
}

func (w *lastPageWatermark) get() (int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.val, w.set
}

func (w *lastPageWatermark) recordEmpty(page int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.set || page < w.val {
		w.val = page
		w.set = true
	}
}

// fetchPageFunc fetches a single page, returning its resources (empty
// when the page is past the end of the result set) and the id of the
// last resource on the page, used as the next id:above cursor.
type fetchPageFunc func(ctx context.Context, pageNumber int, idAbove string) ([]map[string]any, string, error)

// pagedQuery runs concurrentWorkers goroutines, each starting at its own
// worker index and striding by concurrentWorkers pages at a time, until
// every worker has observed an empty page at or past the shared
// watermark. Each non-empty page is sent to onPage as soon as it is
// fetched (not after every worker finishes), matching the pipelined
// consumption the reference implementation's queue enables.
func pagedQuery(ctx context.Context, concurrentWorkers int, fetch fetchPageFunc, onPage func(pagingResult) (cont bool)) error {
	if concurrentWorkers < 1 {
		concurrentWorkers = 1
	}
	watermark := &lastPageWatermark{}
	var stop atomic.Bool
	var onPageMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for worker := 0; worker < concurrentWorkers; worker++ {
		worker := worker
		g.Go(func() error {
			page := worker
			idAbove := ""
			for {
				if stop.Load() {
					return nil
				}
				if last, ok := watermark.get(); ok && page >= last {
					return nil
				}
				resources, lastID, err := fetch(gctx, page, idAbove)
				if err != nil {
					return err
				}
				if len(resources) == 0 {
					watermark.recordEmpty(page)
					return nil
				}
				onPageMu.Lock()
				cont := onPage(pagingResult{PageNumber: page, Resources: resources})
				onPageMu.Unlock()
				if !cont {
					stop.Store(true)
					return nil
				}
				if lastID != "" {
					idAbove = lastID
				}
				page += concurrentWorkers
			}
		})
	}
	return g.Wait()
}

// lastResourceID extracts the "id" field of the last resource in a page,
// used to advance the id:above cursor.
func lastResourceID(resources []map[string]any) string {
	if len(resources) == 0 {
		return ""
	}
	id, _ := resources[len(resources)-1]["id"].(string)
	return id
}
