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

import (
	"time"

	"github.com/TheCacophonyProject/bm2-bench-controller/telemetry"
)

// Observer is told about every valid tick and every phase change. Observers
// must not block; they run on the control loop.
type Observer interface {
	Telemetry(elapsed time.Duration, phase Phase, snap telemetry.Snapshot)
	PhaseChanged(from, to Phase, snap telemetry.Snapshot)
}

type Observers []Observer

func (o Observers) Telemetry(elapsed time.Duration, phase Phase, snap telemetry.Snapshot) {
	for _, ob := range o {
		ob.Telemetry(elapsed, phase, snap)
	}
}

func (o Observers) PhaseChanged(from, to Phase, snap telemetry.Snapshot) {
	for _, ob := range o {
		ob.PhaseChanged(from, to, snap)
	}
}
