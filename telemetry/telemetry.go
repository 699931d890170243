/*
bm2-bench-controller - Battery monitor telemetry snapshots
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

package telemetry

import (
	"fmt"
	"time"
)

// OperationStatus bits.
const (
	OperationQEN  uint16 = 0x0001
	OperationVOK  uint16 = 0x0002
	OperationRDIS uint16 = 0x0004
)

const (
	BatteryStatusFC uint16 = 0x0020
	SafetyAlertCUV  uint16 = 0x0080
)

// Cells is the maximum number of series cells the monitor reports.
const Cells = 4

// Flags are the status bits the learning cycle acts on.
type Flags struct {
	QEN         bool `json:"qen"`
	VOK         bool `json:"vok"`
	RDIS        bool `json:"rdis"`
	FC          bool `json:"fc"`
	CUV         bool `json:"cuv"`
	SafetyFault bool `json:"safetyFault"`
}

// Snapshot is everything read from the monitor in one tick. A Snapshot with
// Valid unset must not be used for decisions.
type Snapshot struct {
	Timestamp         time.Time     `json:"timestamp"`
	Valid             bool          `json:"valid"`
	VoltageMV         uint16        `json:"voltageMV"`
	CurrentMA         int16         `json:"currentMA"`
	ChargingVoltageMV uint16        `json:"chargingVoltageMV"`
	ChargingCurrentMA uint16        `json:"chargingCurrentMA"`
	OperationStatus   uint16        `json:"operationStatus"`
	SafetyAlert       uint16        `json:"safetyAlert"`
	SafetyStatus      uint16        `json:"safetyStatus"`
	MaxError          uint16        `json:"maxError"`
	BatteryStatus     uint16        `json:"batteryStatus"`
	CellVoltageMV     [Cells]uint16 `json:"cellVoltageMV"`
	UpdateStatus      uint8         `json:"updateStatus"`
	Flags             Flags         `json:"flags"`
}

// Raw holds register values before flags are decoded.
type Raw struct {
	VoltageMV         uint16
	CurrentMA         int16
	ChargingVoltageMV uint16
	ChargingCurrentMA uint16
	OperationStatus   uint16
	SafetyAlert       uint16
	SafetyStatus      uint16
	MaxError          uint16
	BatteryStatus     uint16
	CellVoltageMV     [Cells]uint16
	UpdateStatus      uint8
}

// New builds a valid Snapshot, decoding the flags once.
func New(ts time.Time, r Raw) Snapshot {
	return Snapshot{
		Timestamp:         ts,
		Valid:             true,
		VoltageMV:         r.VoltageMV,
		CurrentMA:         r.CurrentMA,
		ChargingVoltageMV: r.ChargingVoltageMV,
		ChargingCurrentMA: r.ChargingCurrentMA,
		OperationStatus:   r.OperationStatus,
		SafetyAlert:       r.SafetyAlert,
		SafetyStatus:      r.SafetyStatus,
		MaxError:          r.MaxError,
		BatteryStatus:     r.BatteryStatus,
		CellVoltageMV:     r.CellVoltageMV,
		UpdateStatus:      r.UpdateStatus,
		Flags:             Decode(r.OperationStatus, r.BatteryStatus, r.SafetyAlert, r.SafetyStatus),
	}
}

// Invalid returns the placeholder used when a read fails.
func Invalid(ts time.Time) Snapshot {
	return Snapshot{Timestamp: ts}
}

func Decode(operationStatus, batteryStatus, safetyAlert, safetyStatus uint16) Flags {
	return Flags{
		QEN:         operationStatus&OperationQEN != 0,
		VOK:         operationStatus&OperationVOK != 0,
		RDIS:        operationStatus&OperationRDIS != 0,
		FC:          batteryStatus&BatteryStatusFC != 0,
		CUV:         safetyAlert&SafetyAlertCUV != 0,
		SafetyFault: safetyStatus != 0,
	}
}

// CellSpread returns the difference between the highest and lowest of the
// first n cell voltages.
func (s Snapshot) CellSpread(n int) int {
	if n <= 0 {
		return 0
	}
	if n > Cells {
		n = Cells
	}
	lo, hi := s.CellVoltageMV[0], s.CellVoltageMV[0]
	for _, mv := range s.CellVoltageMV[1:n] {
		lo = min(lo, mv)
		hi = max(hi, mv)
	}
	return int(hi) - int(lo)
}

func (s Snapshot) String() string {
	if !s.Valid {
		return "invalid snapshot"
	}
	return fmt.Sprintf("voltage: %dmV, current: %dmA, opStatus: 0x%04X, maxError: %d%%, updateStatus: 0x%02X",
		s.VoltageMV, s.CurrentMA, s.OperationStatus, s.MaxError, s.UpdateStatus)
}
