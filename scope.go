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

import "strings"

// Scope is a single SMART-on-FHIR v1 clinical scope, e.g.
// "patient/Observation.read", "system/*.write", or the launch-context
// form "launch/patient" (no interaction).
type Scope struct {
	Context      string // patient | user | system | launch
	ResourceType string // a resource type, "*", or (for launch/*) a context name
	Interaction  string // read | write | * ; empty for a launch-context scope
}

// ParseScopes splits a space-delimited SMART scope string into its
// clinical scopes, silently skipping entries that don't contain a "/"
// (e.g. "openid", "fhirUser", "offline_access"). A token of the form
// "context/resourceType.interaction" yields a full clinical scope; a
// token with "/" but no "." (e.g. "launch/patient") yields a scope with
// an empty Interaction, matching the launch-context form.
func ParseScopes(raw string) []Scope {
	var scopes []Scope
	for _, tok := range strings.Fields(raw) {
		ctx, rest, ok := strings.Cut(tok, "/")
		if !ok {
			continue
		}
		resourceType, interaction, ok := strings.Cut(rest, ".")
		if !ok {
			scopes = append(scopes, Scope{Context: ctx, ResourceType: rest})
			continue
		}
		scopes = append(scopes, Scope{Context: ctx, ResourceType: resourceType, Interaction: interaction})
	}
	return scopes
}

// Allows reports whether any scope in the set permits the given
// interaction ("read" or "write") on the given resource type.
func Allows(scopes []Scope, resourceType, interaction string) bool {
	for _, s := range scopes {
		if s.ResourceType != "*" && s.ResourceType != resourceType {
			continue
		}
		if s.Interaction != "*" && s.Interaction != interaction {
			continue
		}
		return true
	}
	return false
}

func (s Scope) String() string {
	if s.Interaction == "" {
		return s.Context + "/" + s.ResourceType
	}
	return s.Context + "/" + s.ResourceType + "." + s.Interaction
}
