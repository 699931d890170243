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
	"time"

	"github.com/TheCacophonyProject/bm2-bench-controller/cycle"
	"github.com/TheCacophonyProject/bm2-bench-controller/telemetry"
	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"
)

const (
	phaseEvent    = "learningCyclePhase"
	completeEvent = "learningCycleComplete"
	abortedEvent  = "learningCycleAborted"
)

// eventReporter records phase changes and the cycle outcome with the event
// reporter.
type eventReporter struct {
	add   func(eventclient.Event) error
	start time.Time
}

func newEventReporter(add func(eventclient.Event) error, start time.Time) *eventReporter {
	return &eventReporter{add: add, start: start}
}

func (r *eventReporter) Telemetry(time.Duration, cycle.Phase, telemetry.Snapshot) {}

func (r *eventReporter) PhaseChanged(from, to cycle.Phase, snap telemetry.Snapshot) {
	r.report(eventclient.Event{
		Timestamp: snap.Timestamp,
		Type:      phaseEvent,
		Details: map[string]interface{}{
			"from":      from.String(),
			"to":        to.String(),
			"voltageMV": int(snap.VoltageMV),
			"maxError":  int(snap.MaxError),
		},
	})
	if to == cycle.Complete {
		r.report(eventclient.Event{
			Timestamp: snap.Timestamp,
			Type:      completeEvent,
			Details: map[string]interface{}{
				"runtimeMinutes": int(snap.Timestamp.Sub(r.start).Minutes()),
				"maxError":       int(snap.MaxError),
			},
		})
	}
}

func (r *eventReporter) aborted(phase string, err error) {
	r.report(eventclient.Event{
		Timestamp: time.Now(),
		Type:      abortedEvent,
		Details: map[string]interface{}{
			"phase": phase,
			"error": err.Error(),
		},
	})
}

func (r *eventReporter) report(event eventclient.Event) {
	if err := r.add(event); err != nil {
		log.Error("Error adding event:", err)
	}
}
