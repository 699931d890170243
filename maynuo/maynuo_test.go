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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type write struct {
	address  uint16
	quantity uint16
	value    []byte
}

type fakeClient struct {
	writes    []write
	registers map[uint16][]byte
	err       error
}

func (c *fakeClient) WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.writes = append(c.writes, write{address, quantity, value})
	return []byte{0, byte(quantity)}, nil
}

func (c *fakeClient) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.registers[address], nil
}

func TestSetModeConstantCurrent(t *testing.T) {
	c := &fakeClient{}
	l := &Load{client: c, name: "test"}

	require.NoError(t, l.SetMode(ConstantCurrent, 0.5))
	require.Equal(t, []write{
		{0x0A00, 1, []byte{0x00, 0x01}},
		{0x0A01, 2, []byte{0x3F, 0x00, 0x00, 0x00}},
	}, c.writes)
}

func TestSetModeConstantVoltage(t *testing.T) {
	c := &fakeClient{}
	l := &Load{client: c, name: "test"}

	require.NoError(t, l.SetMode(ConstantVoltage, 2))
	assert.Equal(t, uint16(0x0A03), c.writes[1].address)
	assert.Equal(t, []byte{0x40, 0x00, 0x00, 0x00}, c.writes[1].value)

	assert.Error(t, l.SetMode(Mode(9), 1))
}

func TestOnOff(t *testing.T) {
	c := &fakeClient{}
	l := &Load{client: c, name: "test"}

	require.NoError(t, l.LoadOn())
	require.NoError(t, l.LoadOff())
	assert.Equal(t, []write{
		{0x0A00, 1, []byte{0x00, 42}},
		{0x0A00, 1, []byte{0x00, 43}},
	}, c.writes)
}

func TestReadback(t *testing.T) {
	c := &fakeClient{registers: map[uint16][]byte{
		0x0B00: {0x41, 0x01, 0x99, 0x9A},
		0x0B02: {0x3F, 0x00},
	}}
	l := &Load{client: c, name: "test"}

	v, err := l.Voltage()
	require.NoError(t, err)
	assert.InDelta(t, 8.1, v, 1e-5)

	_, err = l.Current()
	assert.Error(t, err)
}

func TestClientError(t *testing.T) {
	l := &Load{client: &fakeClient{err: errors.New("timeout")}, name: "test"}
	assert.Error(t, l.LoadOn())
	assert.Error(t, l.SetMode(ConstantCurrent, 0.5))
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "CC", ConstantCurrent.String())
	assert.Equal(t, "CR", ConstantResistance.String())
	assert.Equal(t, "Mode(7)", Mode(7).String())
}
