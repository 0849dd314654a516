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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeResourcesClassifiesOutcomes(t *testing.T) {
	resources := []map[string]any{
		{"resourceType": "Patient", "id": "1"},
		{"resourceType": "Patient", "id": "2"},
	}

	post := func(ctx context.Context, resourceType string, batch []map[string]any) (int, []byte, error) {
		require.Equal(t, "Patient", resourceType)
		return 200, []byte(`[{"resourceType":"Patient","id":"1","created":true},{"resourceType":"Patient","id":"2","updated":true}]`), nil
	}

	resp, err := mergeResources(context.Background(), MergeOptions{ResourceType: "Patient", BatchSize: 10}, resources, post)
	require.NoError(t, err)
	require.Len(t, resp.Entries, 2)

	byID := map[string]MergeResponseEntry{}
	for _, e := range resp.Entries {
		byID[e.ResourceID] = e
	}
	assert.Equal(t, MergeOutcomeCreated, byID["1"].Kind)
	assert.Equal(t, MergeOutcomeUpdated, byID["2"].Kind)
}

func TestMergeResourcesSkipsFailedValidation(t *testing.T) {
	resources := []map[string]any{
		{"resourceType": "Patient", "id": "1"},
		{"resourceType": "Patient", "id": "bad"},
	}

	validator := validatorFunc(func(ctx context.Context, r map[string]any) ([]Issue, error) {
		if r["id"] == "bad" {
			return []Issue{{Severity: "error", Code: "invalid", Diagnostics: "missing name"}}, nil
		}
		return nil, nil
	})

	var postedIDs []string
	post := func(ctx context.Context, resourceType string, batch []map[string]any) (int, []byte, error) {
		for _, r := range batch {
			postedIDs = append(postedIDs, r["id"].(string))
		}
		return 200, []byte(`[{"resourceType":"Patient","id":"1"}]`), nil
	}

	resp, err := mergeResources(context.Background(), MergeOptions{
		ResourceType: "Patient", BatchSize: 10, Validate: true, Validator: validator,
	}, resources, post)

	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, postedIDs, "a resource failing validation must not be sent to $merge")

	var issueEntry *MergeResponseEntry
	for i := range resp.Entries {
		if resp.Entries[i].Kind == MergeOutcomeIssue && resp.Entries[i].ResourceID == "bad" {
			issueEntry = &resp.Entries[i]
		}
	}
	require.NotNil(t, issueEntry)
	assert.Equal(t, "missing name", issueEntry.Issue.Diagnostics)
}

func TestMergeObjIDPathSegmentDefaultsToOne(t *testing.T) {
	assert.Equal(t, "1", mergeObjIDPathSegment(""))
	assert.Equal(t, "42", mergeObjIDPathSegment("42"))
}

type validatorFunc func(ctx context.Context, resource map[string]any) ([]Issue, error)

func (f validatorFunc) Validate(ctx context.Context, resource map[string]any) ([]Issue, error) {
	return f(ctx, resource)
}
