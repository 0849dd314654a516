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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBundle() map[string]any {
	return map[string]any{
		"resourceType": "Bundle",
		"total":        float64(2),
		"link": []any{
			map[string]any{"relation": "next", "url": "http://example.com/fhir/Patient?page=2"},
		},
		"entry": []any{
			map[string]any{
				"resource": map[string]any{
					"resourceType": "Patient",
					"id":           "1",
					"contained": []any{
						map[string]any{"resourceType": "Organization", "id": "org1"},
					},
				},
			},
			map[string]any{
				"resource": map[string]any{"resourceType": "Patient", "id": "2"},
			},
		},
	}
}

func TestExpandBundleFlat(t *testing.T) {
	expanded := expandBundle(testBundle(), false, nil, "", "")
	require.Len(t, expanded.Resources, 2)
	assert.Equal(t, 2, expanded.TotalCount)
	assert.Equal(t, "http://example.com/fhir/Patient?page=2", expanded.NextURL)
}

func TestExpandBundleSeparatesAndPromotesContained(t *testing.T) {
	bundle := testBundle()
	expanded := expandBundle(bundle, true, nil, "tok", "http://example.com/fhir/Patient")

	require.Len(t, expanded.ByType["patient"], 2)
	require.Len(t, expanded.ByType["organization"], 1)
	assert.Equal(t, "org1", expanded.ByType["organization"][0]["id"])
}

func TestExpandBundleCarriesTokenURLAndExtraContext(t *testing.T) {
	extra := map[string]any{"scope_id": "s1"}
	expanded := expandBundle(testBundle(), true, extra, "tok-1", "http://example.com/fhir/Patient")

	assert.Equal(t, "tok-1", expanded.Token)
	assert.Equal(t, "http://example.com/fhir/Patient", expanded.RequestURL)
	assert.Equal(t, extra, expanded.ExtraContext)
}

func TestExpandBundleDoesNotMutateInput(t *testing.T) {
	bundle := testBundle()
	entries := bundle["entry"].([]any)
	firstResource := entries[0].(map[string]any)["resource"].(map[string]any)
	require.Contains(t, firstResource, "contained")

	_ = expandBundle(bundle, true, nil, "", "")

	assert.Contains(t, firstResource, "contained", "expanding a bundle must not delete fields from the caller's input")
}

func TestApplyPortPreservation(t *testing.T) {
	next := applyPortPreservation("http://example.com:8080/fhir/Patient", "http://example.com/fhir/Patient?page=2")
	assert.Equal(t, "http://example.com:8080/fhir/Patient?page=2", next)
}

func TestApplyPortPreservationLeavesExplicitPortAlone(t *testing.T) {
	next := applyPortPreservation("http://example.com:8080/fhir/Patient", "http://example.com:9090/fhir/Patient?page=2")
	assert.Equal(t, "http://example.com:9090/fhir/Patient?page=2", next)
}
