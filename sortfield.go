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

// SortField is one entry of a FHIR _sort parameter. Ascending fields
// serialize as their bare name; descending fields are prefixed with "-".
type SortField struct {
	Field     string
	Ascending bool
}

// Asc builds an ascending SortField.
func Asc(field string) SortField { return SortField{Field: field, Ascending: true} }

// Desc builds a descending SortField.
func Desc(field string) SortField { return SortField{Field: field, Ascending: false} }

func (f SortField) String() string {
	if f.Ascending {
		return f.Field
	}
	return "-" + f.Field
}

// sortFieldsParam joins SortFields into a single _sort value.
func sortFieldsParam(fields []SortField) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f.String()
	}
	return strings.Join(parts, ",")
}
