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

import "time"

const lastUpdatedLayout = "2006-01-02T15:04:05Z"

// LastUpdatedFilter bounds a search by the server's _lastUpdated field.
// Either bound may be zero to leave it open-ended.
type LastUpdatedFilter struct {
	GreaterThanOrEqual time.Time
	LessThan           time.Time
}

// queryFragments renders the filter as the "_lastUpdated=lt..."/
// "_lastUpdated=ge..." query fragments, in that order, matching the
// wire order the reference implementation produces.
func (f LastUpdatedFilter) queryFragments() []string {
	var out []string
	if !f.LessThan.IsZero() {
		out = append(out, "_lastUpdated=lt"+f.LessThan.UTC().Format(lastUpdatedLayout))
	}
	if !f.GreaterThanOrEqual.IsZero() {
		out = append(out, "_lastUpdated=ge"+f.GreaterThanOrEqual.UTC().Format(lastUpdatedLayout))
	}
	return out
}

// dayWindows splits [start, end) into consecutive one-day windows that
// begin at start (the last one cut off at end), used by the two-phase
// by-last-updated engine to walk one day at a time. Windows align with
// UTC calendar days only when start is at UTC midnight.
func dayWindows(start, end time.Time) []LastUpdatedFilter {
	start = start.UTC()
	end = end.UTC()
	var windows []LastUpdatedFilter
	for day := start; day.Before(end); day = day.AddDate(0, 0, 1) {
		next := day.AddDate(0, 0, 1)
		if next.After(end) {
			next = end
		}
		windows = append(windows, LastUpdatedFilter{GreaterThanOrEqual: day, LessThan: next})
	}
	return windows
}
