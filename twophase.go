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

	"golang.org/x/sync/semaphore"
)

// TwoPhaseOptions configures the by-last-updated retrieval engine.
type TwoPhaseOptions struct {
	Window              LastUpdatedFilter
	PageSizeForIDs      int
	IDChunkSize         int
	ConcurrentRequests  int
	ConcurrentIDWorkers int
	// OnChunkError is invoked for each Phase B id-chunk fetch that fails.
	// The engine reports the error and continues with the remaining
	// chunks rather than aborting the whole call. May be nil.
	OnChunkError func(error)
}

// fetchIDPageFunc is the Phase A id-collecting page fetcher: a paged
// query restricted to _elements=id for one day's window.
type fetchIDPageFunc func(ctx context.Context, window LastUpdatedFilter, pageNumber int, idAbove string) ([]map[string]any, string, error)

// fetchByIDsFunc is the Phase B resource fetcher: one ?id=a,b,c request
// per chunk of ids.
type fetchByIDsFunc func(ctx context.Context, ids []string) ([]map[string]any, error)

// resourcesByLastUpdated implements the two-phase by-last-updated
// retrieval: Phase A walks the date window one UTC day at a time,
// collecting ids via the paged engine; Phase B fans out parallel
// ?id=a,b,c fetches over chunks of those ids. It mirrors
// get_resources_by_query_async / get_ids_for_query_async /
// get_resources_by_id_in_parallel_batches_async.
func resourcesByLastUpdated(ctx context.Context, opts TwoPhaseOptions, fetchIDPage fetchIDPageFunc, fetchByIDs fetchByIDsFunc, onResources func([]map[string]any) bool) error {
	ids, err := collectIDs(ctx, opts, fetchIDPage)
	if err != nil {
		return err
	}
	return fetchResourcesForIDs(ctx, opts, ids, fetchByIDs, onResources)
}

// collectIDs is Phase A: for each UTC day in opts.Window, reset the
// paged engine's watermark and collect every resource id on that day.
func collectIDs(ctx context.Context, opts TwoPhaseOptions, fetchIDPage fetchIDPageFunc) ([]string, error) {
	var ids []string
	var mu sync.Mutex

	for _, day := range dayWindows(opts.Window.GreaterThanOrEqual, opts.Window.LessThan) {
		day := day
		workers := opts.ConcurrentRequests
		if workers < 1 {
			workers = 1
		}
		err := pagedQuery(ctx, workers, func(ctx context.Context, pageNumber int, idAbove string) ([]map[string]any, string, error) {
			return fetchIDPage(ctx, day, pageNumber, idAbove)
		}, func(page pagingResult) bool {
			mu.Lock()
			for _, r := range page.Resources {
				if id, ok := r["id"].(string); ok {
					ids = append(ids, id)
				}
			}
			mu.Unlock()
			return true
		})
		if err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// fetchResourcesForIDs is Phase B: chunk ids and fetch each chunk
// concurrently, bounded by a semaphore sized to ConcurrentIDWorkers. A
// chunk fetch failure is reported to opts.OnChunkError and does not stop
// the remaining chunks from being fetched.
func fetchResourcesForIDs(ctx context.Context, opts TwoPhaseOptions, ids []string, fetchByIDs fetchByIDsFunc, onResources func([]map[string]any) bool) error {
	chunkSize := opts.IDChunkSize
	if chunkSize < 1 {
		chunkSize = 100
	}
	chunks := listChunks(ids, chunkSize)
	if len(chunks) == 0 {
		return nil
	}

	maxWorkers := opts.ConcurrentIDWorkers
	if maxWorkers < 1 {
		maxWorkers = len(chunks)
	}
	sem := semaphore.NewWeighted(int64(maxWorkers))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var acquireErr error
	stop := false

	for _, chunk := range chunks {
		chunk := chunk
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			if acquireErr == nil {
				acquireErr = err
			}
			mu.Unlock()
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			mu.Lock()
			shouldStop := stop
			mu.Unlock()
			if shouldStop {
				return
			}

			resources, err := fetchByIDs(ctx, chunk)
			if err != nil {
				if opts.OnChunkError != nil {
					opts.OnChunkError(err)
				}
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if !onResources(resources) {
				stop = true
			}
		}()
	}
	wg.Wait()
	return acquireErr
}
