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

import "context"

// GraphOptions configures a $graph operation call, mirroring
// fhir_graph_mixin.py's graph_async.
type GraphOptions struct {
	// IDs are the starting resource ids for the graph traversal.
	// Defaults to ["1"] when empty, matching the reference
	// implementation's literal fallback.
	IDs []string
	// Contained requests contained=true on the operation.
	Contained bool
	// ProcessInPages delegates to the paged query engine instead of a
	// single POST per id chunk; see Client.graphInPages.
	ProcessInPages bool
	// PageSize chunks IDs for the non-paged path, or sets _count for the
	// paged path; defaults to 1.
	PageSize int
}

// GraphPoster performs a single $graph POST for one chunk of ids against
// the given graph definition body.
type GraphPoster func(ctx context.Context, ids []string, graphDefinition map[string]any, contained bool) (*GetResponse, error)

// runGraph executes a $graph operation: when ProcessInPages is set, the
// caller is expected to have already wired the paged query engine with
// action="$graph"; otherwise ids are chunked and one POST is issued per
// chunk.
func runGraph(ctx context.Context, opts GraphOptions, graphDefinition map[string]any, post GraphPoster) ([]*GetResponse, error) {
	ids := opts.IDs
	if len(ids) == 0 {
		ids = []string{"1"}
	}

	pageSize := opts.PageSize
	if pageSize < 1 {
		pageSize = 1
	}

	var responses []*GetResponse
	for _, chunk := range listChunks(ids, pageSize) {
		resp, err := post(ctx, chunk, graphDefinition, opts.Contained)
		if err != nil {
			return responses, err
		}
		responses = append(responses, resp)
	}
	return responses, nil
}
