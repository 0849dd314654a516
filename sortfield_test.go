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
)

func TestSortFieldString(t *testing.T) {
	assert.Equal(t, "name", Asc("name").String())
	assert.Equal(t, "-birthDate", Desc("birthDate").String())
}

func TestSortFieldsParam(t *testing.T) {
	assert.Equal(t, "name,-birthDate", sortFieldsParam([]SortField{Asc("name"), Desc("birthDate")}))
}

func TestDayWindows(t *testing.T) {
	start := mustParseTime(t, "2024-01-01T00:00:00Z")
	end := mustParseTime(t, "2024-01-03T12:00:00Z")

	windows := dayWindows(start, end)

	if assert.Len(t, windows, 3) {
		assert.Equal(t, start, windows[0].GreaterThanOrEqual)
		assert.Equal(t, mustParseTime(t, "2024-01-02T00:00:00Z"), windows[0].LessThan)
		assert.Equal(t, end, windows[2].LessThan)
	}
}
