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

	"golang.org/x/sync/errgroup"
)

// MergeOutcomeKind classifies a single $merge response entry.
type MergeOutcomeKind string

const (
	MergeOutcomeMerged  MergeOutcomeKind = "Merged"
	MergeOutcomeCreated MergeOutcomeKind = "Created"
	MergeOutcomeUpdated MergeOutcomeKind = "Updated"
	MergeOutcomeIssue   MergeOutcomeKind = "Issue"
)

// MergeResponseEntry is one classified outcome of a $merge batch,
// covering both successful per-resource outcomes and validation/merge
// issues, the Go equivalent of the reference implementation's duck-typed
// response variants.
type MergeResponseEntry struct {
	Kind         MergeOutcomeKind
	ResourceType string
	ResourceID   string
	Created      bool
	Updated      bool
	Issue        *Issue
}

// MergeResponse is the aggregate result of a merge_async call: every
// classified entry plus the HTTP status of the last batch. mergeResources
// does not set Error: a failed batch POST becomes an Issue entry, and a
// failure of the whole call is returned as the function's error.
type MergeResponse struct {
	Entries []MergeResponseEntry
	Status  int
	Error   error
}

// Validator validates a single resource against an external validation
// server, returning validation issues (if any).
type Validator interface {
	Validate(ctx context.Context, resource map[string]any) ([]Issue, error)
}

// MergePoster performs the actual batched $merge POST for one chunk of
// resources against a resource type and returns the raw, undecoded
// response body (an array or a single object, per the server's choice).
type MergePoster func(ctx context.Context, resourceType string, batch []map[string]any) (status int, body []byte, err error)

// MergeOptions configures a merge_async-style call.
type MergeOptions struct {
	ResourceType    string
	BatchSize       int
	Validate        bool
	Validator       Validator
	MaxConcurrency  int
}

// mergeResources validates (optionally) and batches resources into
// $merge POSTs, matching fhir_merge_mixin.py's merge_async: resources
// failing validation become Issue entries instead of being sent, and
// each batch's response is parsed into Merged/Created/Updated/Issue
// entries.
func mergeResources(ctx context.Context, opts MergeOptions, resources []map[string]any, post MergePoster) (*MergeResponse, error) {
	clean, issues, err := validateResources(ctx, opts, resources)
	if err != nil {
		return nil, err
	}

	batchSize := opts.BatchSize
	if batchSize < 1 {
		batchSize = len(clean)
		if batchSize < 1 {
			batchSize = 1
		}
	}
	batches := listChunks(clean, batchSize)

	maxConcurrency := opts.MaxConcurrency
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)

	entriesPerBatch := make([][]MergeResponseEntry, len(batches))
	statuses := make([]int, len(batches))

	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			status, body, err := post(gctx, opts.ResourceType, batch)
			if err != nil {
				entriesPerBatch[i] = []MergeResponseEntry{{
					Kind:  MergeOutcomeIssue,
					Issue: &Issue{Severity: "error", Code: "transient", Diagnostics: err.Error()},
				}}
				statuses[i] = status
				return nil
			}
			entriesPerBatch[i] = classifyMergeResponse(status, body)
			statuses[i] = status
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	resp := &MergeResponse{}
	resp.Entries = append(resp.Entries, issues...)
	for i, entries := range entriesPerBatch {
		resp.Entries = append(resp.Entries, entries...)
		resp.Status = statuses[i]
	}
	return resp, nil
}

func validateResources(ctx context.Context, opts MergeOptions, resources []map[string]any) (clean []map[string]any, issueEntries []MergeResponseEntry, err error) {
	if !opts.Validate || opts.Validator == nil {
		return resources, nil, nil
	}

	clean = make([]map[string]any, len(resources))
	issuesByIndex := make([][]Issue, len(resources))

	g, gctx := errgroup.WithContext(ctx)
	for i, r := range resources {
		i, r := i, r
		g.Go(func() error {
			issues, verr := opts.Validator.Validate(gctx, r)
			if verr != nil {
				issuesByIndex[i] = []Issue{{Severity: "error", Code: "exception", Diagnostics: verr.Error()}}
				return nil
			}
			if len(issues) > 0 {
				issuesByIndex[i] = issues
				return nil
			}
			clean[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var survivors []map[string]any
	for i, r := range clean {
		if len(issuesByIndex[i]) > 0 {
			resourceType, _ := resources[i]["resourceType"].(string)
			id, _ := resources[i]["id"].(string)
			for _, issue := range issuesByIndex[i] {
				issue := issue
				issueEntries = append(issueEntries, MergeResponseEntry{
					Kind:         MergeOutcomeIssue,
					ResourceType: resourceType,
					ResourceID:   id,
					Issue:        &issue,
				})
			}
			continue
		}
		if r != nil {
			survivors = append(survivors, r)
		}
	}
	return survivors, issueEntries, nil
}

// classifyMergeResponse decodes one $merge batch response (an array or
// a single object) into classified entries.
func classifyMergeResponse(status int, body []byte) []MergeResponseEntry {
	if status != 200 {
		return []MergeResponseEntry{{
			Kind:  MergeOutcomeIssue,
			Issue: &Issue{Severity: "error", Code: fmt.Sprintf("http-%d", status), Diagnostics: string(body)},
		}}
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		var single json.RawMessage = body
		raw = []json.RawMessage{single}
	}

	entries := make([]MergeResponseEntry, 0, len(raw))
	for _, item := range raw {
		entries = append(entries, classifyMergeEntry(item))
	}
	return entries
}

func classifyMergeEntry(item json.RawMessage) MergeResponseEntry {
	var decoded struct {
		Created      bool   `json:"created"`
		Updated      bool   `json:"updated"`
		ResourceType string `json:"resourceType"`
		ID           string `json:"id"`
		Issue        []struct {
			Severity    string `json:"severity"`
			Code        string `json:"code"`
			Diagnostics string `json:"diagnostics"`
		} `json:"issue"`
	}
	if err := json.Unmarshal(item, &decoded); err != nil {
		return MergeResponseEntry{Kind: MergeOutcomeIssue, Issue: &Issue{Severity: "error", Code: "decode", Diagnostics: err.Error()}}
	}

	if decoded.ResourceType == "OperationOutcome" && len(decoded.Issue) > 0 {
		iss := decoded.Issue[0]
		return MergeResponseEntry{
			Kind:  MergeOutcomeIssue,
			Issue: &Issue{Severity: iss.Severity, Code: iss.Code, Diagnostics: iss.Diagnostics},
		}
	}

	switch {
	case decoded.Created:
		return MergeResponseEntry{Kind: MergeOutcomeCreated, ResourceType: decoded.ResourceType, ResourceID: decoded.ID, Created: true}
	case decoded.Updated:
		return MergeResponseEntry{Kind: MergeOutcomeUpdated, ResourceType: decoded.ResourceType, ResourceID: decoded.ID, Updated: true}
	default:
		return MergeResponseEntry{Kind: MergeOutcomeMerged, ResourceType: decoded.ResourceType, ResourceID: decoded.ID}
	}
}

// mergeObjIDPathSegment returns the literal path segment used for a
// single-resource $merge request. The reference implementation defaults
// to the literal "1" when no id is available yet:
// "remove this once the node fhir accepts merge without a parameter".
func mergeObjIDPathSegment(id string) string {
	if id != "" {
		return id
	}
	return "1"
}
