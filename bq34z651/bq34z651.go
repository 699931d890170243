/*
bm2-bench-controller - bq34z651 battery monitor on the BM2 pack
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

package bq34z651

import (
	"fmt"
	"io"
	"time"

	"github.com/TheCacophonyProject/bm2-bench-controller/smbus"
	"github.com/TheCacophonyProject/bm2-bench-controller/telemetry"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

const (
	Model          = "BQ34Z651"
	DefaultAddress = 0x0B

	// Time the gauge needs to stage a ManufacturerBlockAccess reply.
	blockAccessDelay = 50 * time.Millisecond
)

type Register uint8

// SBS commands.
const (
	ManufacturerAccess      Register = 0x00
	MaxError                Register = 0x0C
	Voltage                 Register = 0x09
	Current                 Register = 0x0A
	ChargingCurrent         Register = 0x14
	ChargingVoltage         Register = 0x15
	BatteryStatus           Register = 0x16
	CellVoltage4            Register = 0x3C
	CellVoltage3            Register = 0x3D
	CellVoltage2            Register = 0x3E
	CellVoltage1            Register = 0x3F
	SafetyAlert             Register = 0x50
	SafetyStatus            Register = 0x51
	OperationStatus         Register = 0x54
	ManufacturerBlockAccess Register = 0x77
	ManufacturerData        Register = 0x78
)

func (r Register) String() string {
	switch r {
	case ManufacturerAccess:
		return "ManufacturerAccess"
	case MaxError:
		return "MaxError"
	case Voltage:
		return "Voltage"
	case Current:
		return "Current"
	case ChargingCurrent:
		return "ChargingCurrent"
	case ChargingVoltage:
		return "ChargingVoltage"
	case BatteryStatus:
		return "BatteryStatus"
	case CellVoltage1, CellVoltage2, CellVoltage3, CellVoltage4:
		return fmt.Sprintf("CellVoltage%d", int(CellVoltage1-r)+1)
	case SafetyAlert:
		return "SafetyAlert"
	case SafetyStatus:
		return "SafetyStatus"
	case OperationStatus:
		return "OperationStatus"
	case ManufacturerBlockAccess:
		return "ManufacturerBlockAccess"
	case ManufacturerData:
		return "ManufacturerData"
	default:
		return fmt.Sprintf("Register(0x%02X)", uint8(r))
	}
}

// ManufacturerAccess subcommands.
const (
	itEnable     uint16 = 0x0021
	taperCurrent uint16 = 0x0024
	updateStatus uint16 = 0x0052
)

// Offsets into the data flash page returned through ManufacturerData.
const (
	updateStatusOffset = 12
	taperCurrentOffset = 2
)

var cellRegisters = [telemetry.Cells]Register{CellVoltage1, CellVoltage2, CellVoltage3, CellVoltage4}

// Bus is the SMBus access the monitor needs.
type Bus interface {
	ReadWord(cmd byte) (uint16, error)
	WriteWord(cmd byte, val uint16) error
	ReadBlock(cmd byte) ([]byte, error)
}

var sleepFn = time.Sleep

type Monitor struct {
	bus    Bus
	closer io.Closer
}

func New(bus Bus) *Monitor {
	return &Monitor{bus: bus}
}

// Open opens the named I2C bus ("" for the default) and talks to the gauge
// at addr.
func Open(busName string, addr uint16, pec bool) (*Monitor, error) {
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, err
	}
	dev := smbus.New(bus, addr)
	dev.PEC = pec
	return &Monitor{bus: dev, closer: bus}, nil
}

func (m *Monitor) Close() error {
	if m.closer == nil {
		return nil
	}
	return m.closer.Close()
}

func (m *Monitor) ReadRegister(r Register) (uint16, error) {
	v, err := m.bus.ReadWord(byte(r))
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", r, err)
	}
	return v, nil
}

func (m *Monitor) WriteRegister(r Register, v uint16) error {
	if err := m.bus.WriteWord(byte(r), v); err != nil {
		return fmt.Errorf("writing %s: %w", r, err)
	}
	return nil
}

// ReadTelemetry reads every register the learning cycle uses. Any failed read
// fails the whole snapshot.
func (m *Monitor) ReadTelemetry(now time.Time) (telemetry.Snapshot, error) {
	var raw telemetry.Raw
	words := []struct {
		reg Register
		dst *uint16
	}{
		{Voltage, &raw.VoltageMV},
		{ChargingVoltage, &raw.ChargingVoltageMV},
		{ChargingCurrent, &raw.ChargingCurrentMA},
		{OperationStatus, &raw.OperationStatus},
		{SafetyAlert, &raw.SafetyAlert},
		{SafetyStatus, &raw.SafetyStatus},
		{MaxError, &raw.MaxError},
		{BatteryStatus, &raw.BatteryStatus},
	}
	for _, w := range words {
		v, err := m.ReadRegister(w.reg)
		if err != nil {
			return telemetry.Invalid(now), err
		}
		*w.dst = v
	}

	current, err := m.ReadRegister(Current)
	if err != nil {
		return telemetry.Invalid(now), err
	}
	raw.CurrentMA = int16(current)

	for i, reg := range cellRegisters {
		v, err := m.ReadRegister(reg)
		if err != nil {
			return telemetry.Invalid(now), err
		}
		raw.CellVoltageMV[i] = v
	}

	raw.UpdateStatus, err = m.UpdateStatus()
	if err != nil {
		return telemetry.Invalid(now), err
	}
	return telemetry.New(now, raw), nil
}

// UpdateStatus returns the Impedance Track update status from data flash.
func (m *Monitor) UpdateStatus() (uint8, error) {
	page, err := m.flashPage(updateStatus)
	if err != nil {
		return 0, err
	}
	if len(page) <= updateStatusOffset {
		return 0, fmt.Errorf("update status page too short: %d bytes", len(page))
	}
	return page[updateStatusOffset], nil
}

// TaperCurrent returns the configured charge termination taper current in mA.
func (m *Monitor) TaperCurrent() (uint16, error) {
	page, err := m.flashPage(taperCurrent)
	if err != nil {
		return 0, err
	}
	if len(page) <= taperCurrentOffset+1 {
		return 0, fmt.Errorf("taper current page too short: %d bytes", len(page))
	}
	return uint16(page[taperCurrentOffset])<<8 | uint16(page[taperCurrentOffset+1]), nil
}

// EnableLearning sends IT_ENABLE, starting an Impedance Track learning cycle.
func (m *Monitor) EnableLearning() error {
	if err := m.bus.WriteWord(byte(ManufacturerAccess), itEnable); err != nil {
		return fmt.Errorf("IT_ENABLE: %w", err)
	}
	return nil
}

func (m *Monitor) flashPage(subcommand uint16) ([]byte, error) {
	if err := m.bus.WriteWord(byte(ManufacturerBlockAccess), subcommand); err != nil {
		return nil, fmt.Errorf("requesting subcommand 0x%04X: %w", subcommand, err)
	}
	sleepFn(blockAccessDelay)
	page, err := m.bus.ReadBlock(byte(ManufacturerData))
	if err != nil {
		return nil, fmt.Errorf("reading subcommand 0x%04X: %w", subcommand, err)
	}
	return page, nil
}
