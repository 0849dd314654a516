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

import "net/url"

// expandedBundle is the result of un-bundling a FHIR Bundle: either a
// flat list of resources, or a per-type map when the caller asked for
// separation.
type expandedBundle struct {
	Resources    []map[string]any
	ByType       map[string][]map[string]any
	TotalCount   int
	NextURL      string
	Token        string
	RequestURL   string
	ExtraContext map[string]any
}

// expandBundle walks bundle.entry, optionally promoting each entry's
// contained resources into the result set alongside the parent,
// grouped by lower-cased resourceType when separate is true.
//
// It never mutates the caller's bundle: promoting a contained resource
// out of its parent is done by building a fresh copy of the parent map
// with "contained" omitted, rather than deleting the key in place.
func expandBundle(bundle map[string]any, separate bool, extraContext map[string]any, requestToken, requestURL string) expandedBundle {
	result := expandedBundle{ByType: map[string][]map[string]any{}}

	if total, ok := bundle["total"].(float64); ok {
		result.TotalCount = int(total)
	}

	entries, _ := bundle["entry"].([]any)
	for _, rawEntry := range entries {
		entry, ok := rawEntry.(map[string]any)
		if !ok {
			continue
		}
		resource, ok := entry["resource"].(map[string]any)
		if !ok {
			continue
		}
		if !separate {
			result.Resources = append(result.Resources, resource)
			continue
		}
		separateContainedResources(resource, &result)
	}

	result.NextURL = nextLink(bundle)
	result.Token = requestToken
	result.RequestURL = requestURL
	result.ExtraContext = extraContext
	return result
}

// separateContainedResources copies resource (without "contained") into
// its type bucket, then copies each contained resource into its own
// type bucket. The input resource map is never modified.
func separateContainedResources(resource map[string]any, result *expandedBundle) {
	parent := cloneResourceWithout(resource, "contained")
	parentType, _ := parent["resourceType"].(string)
	appendByType(result, parentType, parent)

	contained, _ := resource["contained"].([]any)
	for _, rawChild := range contained {
		child, ok := rawChild.(map[string]any)
		if !ok {
			continue
		}
		childType, _ := child["resourceType"].(string)
		appendByType(result, childType, child)
	}
}

func appendByType(result *expandedBundle, resourceType string, resource map[string]any) {
	if resourceType == "" {
		return
	}
	key := toLowerASCII(resourceType)
	result.ByType[key] = append(result.ByType[key], resource)
}

// cloneResourceWithout returns a shallow copy of resource with the given
// top-level key removed. The original map and its other values are left
// untouched.
func cloneResourceWithout(resource map[string]any, omitKey string) map[string]any {
	out := make(map[string]any, len(resource))
	for k, v := range resource {
		if k == omitKey {
			continue
		}
		out[k] = v
	}
	return out
}

func toLowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// nextLink extracts the Bundle.link entry with relation "next", if any.
func nextLink(bundle map[string]any) string {
	links, _ := bundle["link"].([]any)
	for _, rawLink := range links {
		link, ok := rawLink.(map[string]any)
		if !ok {
			continue
		}
		if rel, _ := link["relation"].(string); rel == "next" {
			next, _ := link["url"].(string)
			return next
		}
	}
	return ""
}

// applyPortPreservation implements the INC-285 rule: if base and next
// share scheme and host, and base carries an explicit port that next
// lacks, the base's port is copied onto next.
func applyPortPreservation(base, next string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return next
	}
	nextURL, err := url.Parse(next)
	if err != nil {
		return next
	}
	if baseURL.Scheme != nextURL.Scheme || baseURL.Hostname() != nextURL.Hostname() {
		return next
	}
	if baseURL.Port() == "" || nextURL.Port() != "" {
		return next
	}
	nextURL.Host = nextURL.Hostname() + ":" + baseURL.Port()
	return nextURL.String()
}
