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

func TestParseScopes(t *testing.T) {
	scopes := ParseScopes("openid fhirUser patient/Observation.read system/*.write launch/patient offline_access")
	require.Len(t, scopes, 3)
	assert.Equal(t, Scope{Context: "patient", ResourceType: "Observation", Interaction: "read"}, scopes[0])
	assert.Equal(t, Scope{Context: "system", ResourceType: "*", Interaction: "write"}, scopes[1])
	assert.Equal(t, Scope{Context: "launch", ResourceType: "patient"}, scopes[2])
}

func TestScopeStringOmitsDotForLaunchContext(t *testing.T) {
	s := Scope{Context: "launch", ResourceType: "patient"}
	assert.Equal(t, "launch/patient", s.String())
}

func TestScopeAllows(t *testing.T) {
	scopes := ParseScopes("patient/Observation.read system/*.write")
	assert.True(t, Allows(scopes, "Observation", "read"))
	assert.True(t, Allows(scopes, "Observation", "write"))
	assert.True(t, Allows(scopes, "Patient", "write"))
	assert.False(t, Allows(scopes, "Patient", "read"))
}

func TestScopeString(t *testing.T) {
	s := Scope{Context: "system", ResourceType: "Patient", Interaction: "read"}
	assert.Equal(t, "system/Patient.read", s.String())
}
