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
	"net/url"
	"strconv"
	"strings"
)

// urlBuildOptions carries everything the URL builder needs to compose a
// single request URL. It mirrors the per-request state the reference
// implementation threads into _build_full_url/_add_query_params.
type urlBuildOptions struct {
	baseURL              string
	resource             string
	objID                string
	action               string
	ids                  []string
	filterByResource     string
	filterParameter      string
	includeOnlyProperties []string
	pageNumber           *int
	pageSize             int
	sortFields           []SortField
	includeTotal         bool
	idAbove              string
	filters              []string
	additionalParameters []string
	lastUpdated          *LastUpdatedFilter
}

// buildURL composes the request URL, appending query parameters in the
// fixed order the reference implementation produces them in, so fixtures
// asserting on exact query strings remain stable.
func buildURL(o urlBuildOptions) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(o.baseURL, "/"))
	b.WriteByte('/')
	b.WriteString(o.resource)

	if o.objID != "" {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(o.objID))
	}

	var params []string

	if len(o.ids) > 0 {
		switch {
		case o.filterByResource != "":
			if o.filterParameter != "" {
				params = append(params, o.filterParameter+":"+o.filterByResource+"="+o.ids[0])
			} else {
				params = append(params, strings.ToLower(o.filterByResource)+"="+o.ids[0])
			}
		case len(o.ids) == 1 && o.objID == "":
			b.WriteByte('/')
			b.WriteString(url.PathEscape(o.ids[0]))
		default:
			params = append(params, "id="+strings.Join(o.ids, ","))
		}
	}

	if o.action != "" {
		b.WriteByte('/')
		b.WriteString(o.action)
	}

	if len(o.includeOnlyProperties) > 0 {
		params = append(params, "_elements="+strings.Join(o.includeOnlyProperties, ","))
	}

	if o.pageSize > 0 && o.pageNumber != nil {
		params = append(params, "_count="+strconv.Itoa(o.pageSize))
		params = append(params, "_getpagesoffset="+strconv.Itoa(*o.pageNumber))
	}

	if len(o.sortFields) > 0 {
		params = append(params, "_sort="+sortFieldsParam(o.sortFields))
	}

	if o.includeTotal {
		params = append(params, "_total=accurate")
	}

	if o.idAbove != "" {
		params = append(params, "id:above="+o.idAbove)
	}

	for _, f := range dedupeFilters(o.filters) {
		params = append(params, f)
	}

	params = append(params, o.additionalParameters...)

	if o.lastUpdated != nil {
		params = append(params, o.lastUpdated.queryFragments()...)
	}

	if len(params) > 0 {
		b.WriteByte('?')
		b.WriteString(strings.Join(params, "&"))
	}

	return b.String()
}
