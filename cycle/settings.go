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
	"fmt"
	"time"

	"github.com/TheCacophonyProject/bm2-bench-controller/telemetry"
)

// Settings are the tunables of a learning cycle.
type Settings struct {
	DischargeCurrent float64 // A
	ChargeCurrent    float64 // A
	ChargeVoltage    float64 // V

	RestDuration  time.Duration
	PollInterval  time.Duration
	MessagePeriod time.Duration

	DebounceThreshold int
	PhaseDebounce     map[Phase]int

	TerminationCellMV    int
	CellImbalanceLimitMV int
	// ChargeVoltageToleranceMV is how far the gauge's ChargingVoltage may be
	// from ChargeVoltage before a warning is printed at start up.
	ChargeVoltageToleranceMV int

	VokMaxError      uint16
	FinalMaxError    uint16
	QmaxUpdateStatus uint8
	RaUpdateStatus   uint8
}

func DefaultSettings() Settings {
	return Settings{
		DischargeCurrent:         0.5,
		ChargeCurrent:            2,
		ChargeVoltage:            8.4,
		RestDuration:             10 * time.Minute,
		PollInterval:             10 * time.Second,
		MessagePeriod:            10 * time.Minute,
		DebounceThreshold:        2,
		TerminationCellMV:        3000,
		CellImbalanceLimitMV:     100,
		ChargeVoltageToleranceMV: 50,
		VokMaxError:              3,
		FinalMaxError:            1,
		QmaxUpdateStatus:         0x05,
		RaUpdateStatus:           0x06,
	}
}

// chargeVoltageBands maps the supported charge voltages to series cell counts.
var chargeVoltageBands = []struct {
	min, max float64
	cells    int
}{
	{8, 9, 2},
	{12, 13, 3},
	{16, 17, 4},
}

// CellCount returns the number of series cells a pack charged to volts has.
func CellCount(volts float64) (int, error) {
	for _, b := range chargeVoltageBands {
		if volts >= b.min && volts <= b.max {
			return b.cells, nil
		}
	}
	return 0, fmt.Errorf("%w: unrecognised charge voltage %.2fV", ErrSafetyViolation, volts)
}

// Cells is the series cell count implied by ChargeVoltage, 0 if unrecognised.
func (s Settings) Cells() int {
	n, _ := CellCount(s.ChargeVoltage)
	return n
}

func (s Settings) TerminationVoltageMV() int {
	return s.TerminationCellMV * s.Cells()
}

func (s Settings) Threshold(p Phase) int {
	if t, ok := s.PhaseDebounce[p]; ok && t > 0 {
		return t
	}
	return max(s.DebounceThreshold, 1)
}

func (s Settings) Validate() error {
	switch {
	case s.DischargeCurrent <= 0:
		return fmt.Errorf("%w: discharge current must be positive", ErrConfiguration)
	case s.ChargeCurrent <= 0:
		return fmt.Errorf("%w: charge current must be positive", ErrConfiguration)
	case s.PollInterval <= 0:
		return fmt.Errorf("%w: poll interval must be positive", ErrConfiguration)
	case s.RestDuration < 0:
		return fmt.Errorf("%w: rest duration must not be negative", ErrConfiguration)
	case s.DebounceThreshold < 1:
		return fmt.Errorf("%w: debounce threshold must be at least 1", ErrConfiguration)
	case s.CellImbalanceLimitMV <= 0:
		return fmt.Errorf("%w: cell imbalance limit must be positive", ErrConfiguration)
	}
	for p, t := range s.PhaseDebounce {
		if p == Complete || p < InitialDischarge || p > Complete {
			return fmt.Errorf("%w: no debounce for phase %s", ErrConfiguration, p)
		}
		if t < 1 {
			return fmt.Errorf("%w: debounce threshold for %s must be at least 1", ErrConfiguration, p)
		}
	}
	_, err := CellCount(s.ChargeVoltage)
	return err
}

// CellVoltagesGood reports whether the spread across the first cells cell
// voltages is within limitMV.
func CellVoltagesGood(s telemetry.Snapshot, cells, limitMV int) bool {
	return s.CellSpread(cells) <= limitMV
}
