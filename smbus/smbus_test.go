/*
bm2-bench-controller - SMBus transactions over a periph I2C bus
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

package smbus

import (
	"errors"
	"testing"
	"time"

	"github.com/sigurn/crc8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"
)

func init() {
	sleepFn = func(time.Duration) {}
}

func TestReadWord(t *testing.T) {
	bus := &i2ctest.Playback{Ops: []i2ctest.IO{
		{Addr: 0x0B, W: []byte{0x09}, R: []byte{0xA4, 0x1F}},
	}}
	d := New(bus, 0x0B)

	v, err := d.ReadWord(0x09)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1FA4), v)
	require.NoError(t, bus.Close())
}

func TestWriteWord(t *testing.T) {
	bus := &i2ctest.Playback{Ops: []i2ctest.IO{
		{Addr: 0x0B, W: []byte{0x00, 0x21, 0x00}},
	}}
	d := New(bus, 0x0B)

	require.NoError(t, d.WriteWord(0x00, 0x0021))
	require.NoError(t, bus.Close())
}

func TestReadBlock(t *testing.T) {
	r := make([]byte, 33)
	r[0] = 4
	copy(r[1:], []byte{0x52, 0x00, 0x11, 0x22})
	bus := &i2ctest.Playback{Ops: []i2ctest.IO{
		{Addr: 0x0B, W: []byte{0x78}, R: r},
	}}
	d := New(bus, 0x0B)

	data, err := d.ReadBlock(0x78)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x52, 0x00, 0x11, 0x22}, data)
}

func TestReadBlockBadLength(t *testing.T) {
	r := make([]byte, 33)
	r[0] = 40
	bus := &i2ctest.Playback{Ops: []i2ctest.IO{{Addr: 0x0B, W: []byte{0x78}, R: r}}}

	_, err := New(bus, 0x0B).ReadBlock(0x78)
	assert.Error(t, err)
}

func TestReadWordPEC(t *testing.T) {
	table := crc8.MakeTable(crc8.CRC8)
	pec := crc8.Checksum([]byte{0x16, 0x09, 0x17, 0xA4, 0x1F}, table)

	bus := &i2ctest.Playback{Ops: []i2ctest.IO{
		{Addr: 0x0B, W: []byte{0x09}, R: []byte{0xA4, 0x1F, pec}},
		{Addr: 0x0B, W: []byte{0x09}, R: []byte{0xA4, 0x1F, pec ^ 0xFF}},
	}}
	d := New(bus, 0x0B)
	d.PEC = true

	v, err := d.ReadWord(0x09)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1FA4), v)

	_, err = d.ReadWord(0x09)
	assert.ErrorIs(t, err, ErrBadPEC)
}

func TestWriteWordPEC(t *testing.T) {
	table := crc8.MakeTable(crc8.CRC8)
	pec := crc8.Checksum([]byte{0x16, 0x00, 0x21, 0x00}, table)

	bus := &i2ctest.Playback{Ops: []i2ctest.IO{
		{Addr: 0x0B, W: []byte{0x00, 0x21, 0x00, pec}},
	}}
	d := New(bus, 0x0B)
	d.PEC = true
	require.NoError(t, d.WriteWord(0x00, 0x0021))
	require.NoError(t, bus.Close())
}

type flakyBus struct {
	failures int
	calls    int
}

func (b *flakyBus) String() string                    { return "flaky" }
func (b *flakyBus) SetSpeed(f physic.Frequency) error { return nil }
func (b *flakyBus) Tx(addr uint16, w, r []byte) error {
	b.calls++
	if b.calls <= b.failures {
		return errors.New("nack")
	}
	for i := range r {
		r[i] = 0x01
	}
	return nil
}

func TestRetry(t *testing.T) {
	bus := &flakyBus{failures: 2}
	v, err := New(bus, 0x0B).ReadWord(0x0C)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0101), v)
	assert.Equal(t, 3, bus.calls)

	bus = &flakyBus{failures: 5}
	_, err = New(bus, 0x0B).ReadWord(0x0C)
	assert.Error(t, err)
	assert.Equal(t, defaultAttempts, bus.calls)
}
