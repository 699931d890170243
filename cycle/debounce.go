/*
bm2-bench-controller - Battery learning cycle
Copyright (C) 2023, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package cycle

// Debounce turns a noisy condition into a trigger that fires once the
// condition has held for Threshold consecutive observations.
type Debounce struct {
	Name      string
	Threshold int
	streak    int
}

func NewDebounce(name string, threshold int) *Debounce {
	return &Debounce{Name: name, Threshold: max(threshold, 1)}
}

// Observe records one observation and reports whether the threshold was just
// reached. The streak is cleared when it fires.
func (d *Debounce) Observe(holds bool) bool {
	if !holds {
		d.streak = 0
		return false
	}
	d.streak++
	if d.streak >= d.Threshold {
		d.streak = 0
		return true
	}
	return false
}

func (d *Debounce) Reset() {
	d.streak = 0
}

func (d *Debounce) Streak() int {
	return d.streak
}
