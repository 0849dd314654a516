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

func TestBuildURL(t *testing.T) {
	t.Run("plain resource type", func(t *testing.T) {
		u := buildURL(urlBuildOptions{baseURL: "http://example.com/fhir", resource: "Patient"})
		assert.Equal(t, "http://example.com/fhir/Patient", u)
	})

	t.Run("single id as path segment", func(t *testing.T) {
		u := buildURL(urlBuildOptions{baseURL: "http://example.com/fhir", resource: "Patient", ids: []string{"123"}})
		assert.Equal(t, "http://example.com/fhir/Patient/123", u)
	})

	t.Run("explicit object id plus ids becomes id param", func(t *testing.T) {
		u := buildURL(urlBuildOptions{baseURL: "http://example.com/fhir", resource: "Patient", objID: "abc", ids: []string{"123"}})
		assert.Equal(t, "http://example.com/fhir/Patient/abc?id=123", u)
	})

	t.Run("multiple ids join with commas", func(t *testing.T) {
		u := buildURL(urlBuildOptions{baseURL: "http://example.com/fhir", resource: "Patient", ids: []string{"1", "2", "3"}})
		assert.Equal(t, "http://example.com/fhir/Patient?id=1,2,3", u)
	})

	t.Run("filter by resource with parameter", func(t *testing.T) {
		u := buildURL(urlBuildOptions{
			baseURL: "http://example.com/fhir", resource: "Observation",
			ids: []string{"123"}, filterByResource: "Patient", filterParameter: "subject",
		})
		assert.Equal(t, "http://example.com/fhir/Observation?subject:Patient=123", u)
	})

	t.Run("filter by resource without parameter lowercases", func(t *testing.T) {
		u := buildURL(urlBuildOptions{
			baseURL: "http://example.com/fhir", resource: "Observation",
			ids: []string{"123"}, filterByResource: "Patient",
		})
		assert.Equal(t, "http://example.com/fhir/Observation?patient=123", u)
	})

	t.Run("action path segment after ids", func(t *testing.T) {
		u := buildURL(urlBuildOptions{baseURL: "http://example.com/fhir", resource: "Patient", objID: "1", action: "$merge"})
		assert.Equal(t, "http://example.com/fhir/Patient/1/$merge", u)
	})

	t.Run("full parameter order", func(t *testing.T) {
		page := 2
		u := buildURL(urlBuildOptions{
			baseURL:               "http://example.com/fhir",
			resource:              "Patient",
			includeOnlyProperties: []string{"id", "name"},
			pageNumber:            &page,
			pageSize:              10,
			sortFields:            []SortField{Asc("name"), Desc("birthDate")},
			includeTotal:          true,
			idAbove:               "abc",
			filters:               []string{"gender=female", "gender=female"},
			additionalParameters:  []string{"_pretty=true"},
			lastUpdated: &LastUpdatedFilter{
				GreaterThanOrEqual: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
				LessThan:           time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			},
		})
		assert.Equal(t,
			"http://example.com/fhir/Patient?_elements=id,name&_count=10&_getpagesoffset=2"+
				"&_sort=name,-birthDate&_total=accurate&id:above=abc&gender=female&_pretty=true"+
				"&_lastUpdated=lt2024-01-02T00:00:00Z&_lastUpdated=ge2024-01-01T00:00:00Z",
			u,
		)
	})

	t.Run("trailing slash on base url is trimmed", func(t *testing.T) {
		u := buildURL(urlBuildOptions{baseURL: "http://example.com/fhir/", resource: "Patient"})
		assert.Equal(t, "http://example.com/fhir/Patient", u)
	})
}
