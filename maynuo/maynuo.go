/*
bm2-bench-controller - Maynuo M9711 electronic DC load
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

package maynuo

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/TheCacophonyProject/bm2-bench-controller/serialhelper"
	"github.com/goburrow/modbus"
)

const (
	Model = "M9711"

	DefaultSlaveID = 1
	baudRate       = 9600
	timeout        = 2 * time.Second
)

type Register uint16

const (
	cmdReg     Register = 0x0A00
	ccSetReg   Register = 0x0A01
	cvSetReg   Register = 0x0A03
	cpSetReg   Register = 0x0A05
	crSetReg   Register = 0x0A07
	voltageReg Register = 0x0B00
	currentReg Register = 0x0B02
)

const (
	cmdInputOn  uint16 = 42
	cmdInputOff uint16 = 43

	// Setpoints and readings are IEEE 754 floats spanning two registers.
	floatRegSize = 2
)

// Mode is a regulation mode of the load.
type Mode uint16

const (
	ConstantCurrent Mode = iota + 1
	ConstantVoltage
	ConstantPower
	ConstantResistance
)

func (m Mode) String() string {
	switch m {
	case ConstantCurrent:
		return "CC"
	case ConstantVoltage:
		return "CV"
	case ConstantPower:
		return "CP"
	case ConstantResistance:
		return "CR"
	default:
		return fmt.Sprintf("Mode(%d)", uint16(m))
	}
}

func (m Mode) setpointReg() (Register, error) {
	switch m {
	case ConstantCurrent:
		return ccSetReg, nil
	case ConstantVoltage:
		return cvSetReg, nil
	case ConstantPower:
		return cpSetReg, nil
	case ConstantResistance:
		return crSetReg, nil
	}
	return 0, fmt.Errorf("unknown load mode %d", uint16(m))
}

// registerClient is the part of modbus.Client the load uses.
type registerClient interface {
	WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error)
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
}

// Load is an M9711 reached over Modbus RTU.
type Load struct {
	client  registerClient
	handler *modbus.RTUClientHandler
	lock    *os.File
	name    string
}

// Open locks the serial device and connects to the load at slaveID.
func Open(path string, slaveID byte) (*Load, error) {
	lock, err := serialhelper.Lock(path, 0, 0)
	if err != nil {
		return nil, err
	}
	handler := modbus.NewRTUClientHandler(path)
	handler.BaudRate = baudRate
	handler.DataBits = 8
	handler.Parity = "N"
	handler.StopBits = 1
	handler.SlaveId = slaveID
	handler.Timeout = timeout
	if err := handler.Connect(); err != nil {
		serialhelper.Release(lock)
		return nil, err
	}
	return &Load{
		client:  modbus.NewClient(handler),
		handler: handler,
		lock:    lock,
		name:    path,
	}, nil
}

func (l *Load) String() string {
	return fmt.Sprintf("%s(%s)", Model, l.name)
}

// SetMode selects the regulation mode and writes its setpoint.
func (l *Load) SetMode(mode Mode, value float64) error {
	reg, err := mode.setpointReg()
	if err != nil {
		return err
	}
	if err := l.writeCommand(uint16(mode)); err != nil {
		return fmt.Errorf("set mode %s: %w", mode, err)
	}
	if err := l.writeFloat(reg, value); err != nil {
		return fmt.Errorf("set %s setpoint: %w", mode, err)
	}
	return nil
}

func (l *Load) LoadOn() error {
	return l.writeCommand(cmdInputOn)
}

func (l *Load) LoadOff() error {
	return l.writeCommand(cmdInputOff)
}

// Voltage reads back the voltage at the load terminals.
func (l *Load) Voltage() (float64, error) {
	return l.readFloat(voltageReg)
}

// Current reads back the current being sunk.
func (l *Load) Current() (float64, error) {
	return l.readFloat(currentReg)
}

func (l *Load) Close() error {
	var err error
	if l.handler != nil {
		err = l.handler.Close()
	}
	if relErr := serialhelper.Release(l.lock); err == nil {
		err = relErr
	}
	return err
}

func (l *Load) writeCommand(cmd uint16) error {
	log.Debugf("%s command %d", l, cmd)
	_, err := l.client.WriteMultipleRegisters(uint16(cmdReg), 1, []byte{byte(cmd >> 8), byte(cmd)})
	return err
}

func (l *Load) writeFloat(reg Register, value float64) error {
	log.Debugf("%s register 0x%04X = %.3f", l, uint16(reg), value)
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, math.Float32bits(float32(value)))
	_, err := l.client.WriteMultipleRegisters(uint16(reg), floatRegSize, b)
	return err
}

func (l *Load) readFloat(reg Register) (float64, error) {
	b, err := l.client.ReadHoldingRegisters(uint16(reg), floatRegSize)
	if err != nil {
		return 0, err
	}
	if len(b) != 4 {
		return 0, fmt.Errorf("register 0x%04X: got %d bytes, expected 4", uint16(reg), len(b))
	}
	return float64(math.Float32frombits(binary.BigEndian.Uint32(b))), nil
}
