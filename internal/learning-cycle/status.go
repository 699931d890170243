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

package learningcycle

import (
	"sync"
	"time"

	"github.com/TheCacophonyProject/bm2-bench-controller/cycle"
	"github.com/TheCacophonyProject/bm2-bench-controller/telemetry"
)

// Status is what the dbus service reports.
type Status struct {
	Phase          string             `json:"phase"`
	Running        bool               `json:"running"`
	Started        time.Time          `json:"started"`
	ElapsedSeconds float64            `json:"elapsedSeconds"`
	LogPath        string             `json:"logPath"`
	Error          string             `json:"error,omitempty"`
	Last           telemetry.Snapshot `json:"last"`
}

// statusTracker keeps the latest state of the cycle for readers on other
// goroutines.
type statusTracker struct {
	mu     sync.Mutex
	status Status
}

func newStatusTracker(logPath string, start time.Time) *statusTracker {
	return &statusTracker{status: Status{
		Phase:   cycle.InitialDischarge.String(),
		Running: true,
		Started: start,
		LogPath: logPath,
	}}
}

func (s *statusTracker) Telemetry(elapsed time.Duration, phase cycle.Phase, snap telemetry.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Phase = phase.String()
	s.status.ElapsedSeconds = elapsed.Seconds()
	s.status.Last = snap
}

func (s *statusTracker) PhaseChanged(from, to cycle.Phase, snap telemetry.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Phase = to.String()
}

func (s *statusTracker) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Running = false
	if err != nil {
		s.status.Error = err.Error()
	}
}

func (s *statusTracker) Get() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}
