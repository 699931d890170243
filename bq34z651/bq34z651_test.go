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
	"errors"
	"testing"
	"time"

	"github.com/TheCacophonyProject/bm2-bench-controller/smbus"
	"github.com/TheCacophonyProject/bm2-bench-controller/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c/i2ctest"
)

func init() {
	sleepFn = func(time.Duration) {}
}

type fakeBus struct {
	words  map[byte]uint16
	page   []byte
	writes [][2]uint16
	failOn byte
}

func (b *fakeBus) ReadWord(cmd byte) (uint16, error) {
	if b.failOn != 0 && cmd == b.failOn {
		return 0, errors.New("nack")
	}
	return b.words[cmd], nil
}

func (b *fakeBus) WriteWord(cmd byte, val uint16) error {
	b.writes = append(b.writes, [2]uint16{uint16(cmd), val})
	return nil
}

func (b *fakeBus) ReadBlock(cmd byte) ([]byte, error) {
	return b.page, nil
}

func newFakeBus() *fakeBus {
	page := make([]byte, 31)
	page[updateStatusOffset] = 0x05
	page[2], page[3] = 0x00, 0xFA
	return &fakeBus{
		words: map[byte]uint16{
			0x09: 8100,
			0x0A: 0xFE0C, // -500mA
			0x0C: 3,
			0x14: 2000,
			0x15: 8400,
			0x16: 0x0020,
			0x3F: 4050,
			0x3E: 4049,
			0x3D: 0,
			0x3C: 0,
			0x50: 0x0080,
			0x51: 0,
			0x54: 0x0003,
		},
		page: page,
	}
}

func TestReadTelemetry(t *testing.T) {
	bus := newFakeBus()
	m := New(bus)
	now := time.Now()

	s, err := m.ReadTelemetry(now)
	require.NoError(t, err)
	assert.True(t, s.Valid)
	assert.Equal(t, now, s.Timestamp)
	assert.Equal(t, uint16(8100), s.VoltageMV)
	assert.Equal(t, int16(-500), s.CurrentMA)
	assert.Equal(t, uint16(8400), s.ChargingVoltageMV)
	assert.Equal(t, uint16(2000), s.ChargingCurrentMA)
	assert.Equal(t, uint16(3), s.MaxError)
	assert.Equal(t, [telemetry.Cells]uint16{4050, 4049, 0, 0}, s.CellVoltageMV)
	assert.Equal(t, uint8(0x05), s.UpdateStatus)
	assert.Equal(t, telemetry.Flags{QEN: true, VOK: true, FC: true, CUV: true}, s.Flags)

	assert.Equal(t, [][2]uint16{{0x77, 0x0052}}, bus.writes)
}

func TestReadTelemetryFailure(t *testing.T) {
	bus := newFakeBus()
	bus.failOn = 0x54

	s, err := New(bus).ReadTelemetry(time.Now())
	assert.Error(t, err)
	assert.False(t, s.Valid)
}

func TestEnableLearning(t *testing.T) {
	bus := newFakeBus()
	require.NoError(t, New(bus).EnableLearning())
	assert.Equal(t, [][2]uint16{{0x00, 0x0021}}, bus.writes)
}

func TestTaperCurrent(t *testing.T) {
	bus := newFakeBus()
	v, err := New(bus).TaperCurrent()
	require.NoError(t, err)
	assert.Equal(t, uint16(250), v)
	assert.Equal(t, [][2]uint16{{0x77, 0x0024}}, bus.writes)
}

func TestUpdateStatusOverSMBus(t *testing.T) {
	r := make([]byte, 33)
	r[0] = 31
	r[1+updateStatusOffset] = 0x06
	playback := &i2ctest.Playback{Ops: []i2ctest.IO{
		{Addr: DefaultAddress, W: []byte{0x77, 0x52, 0x00}},
		{Addr: DefaultAddress, W: []byte{0x78}, R: r},
	}}
	m := New(smbus.New(playback, DefaultAddress))

	status, err := m.UpdateStatus()
	require.NoError(t, err)
	assert.Equal(t, uint8(0x06), status)
	require.NoError(t, playback.Close())
}

func TestUpdateStatusShortPage(t *testing.T) {
	bus := newFakeBus()
	bus.page = []byte{0x01, 0x02}
	_, err := New(bus).UpdateStatus()
	assert.Error(t, err)
}

func TestRegisterString(t *testing.T) {
	assert.Equal(t, "CellVoltage1", CellVoltage1.String())
	assert.Equal(t, "CellVoltage4", CellVoltage4.String())
	assert.Equal(t, "OperationStatus", OperationStatus.String())
	assert.Equal(t, "Register(0x99)", Register(0x99).String())
}
