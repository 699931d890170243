/*
bm2-bench-controller - Korad KA3005P bench power supply
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

package korad

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	sleepFn = func(time.Duration) {}
}

// fakePort records writes and answers reads from a fixed reply.
type fakePort struct {
	written []string
	reply   *bytes.Buffer
	closed  bool
}

func newFakePort(reply string) *fakePort {
	return &fakePort{reply: bytes.NewBufferString(reply)}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.written = append(p.written, string(b))
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	if p.reply.Len() == 0 {
		return 0, io.EOF
	}
	return p.reply.Read(b)
}

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func TestCommands(t *testing.T) {
	port := newFakePort("")
	s := New(port, "test")

	require.NoError(t, s.SetVoltage(8.4))
	require.NoError(t, s.SetCurrent(2))
	require.NoError(t, s.OutputOn())
	require.NoError(t, s.OutputOff())

	assert.Equal(t, []string{"VSET1:08.40", "ISET1:2.000", "OUT1", "OUT0"}, port.written)
}

func TestSetpointRange(t *testing.T) {
	s := New(newFakePort(""), "test")
	assert.Error(t, s.SetVoltage(31))
	assert.Error(t, s.SetVoltage(-1))
	assert.Error(t, s.SetCurrent(5.5))
}

func TestIdentify(t *testing.T) {
	port := newFakePort("KORAD KA3005P V5.8 SN:03379314")
	s := New(port, "test")

	idn, err := s.Identify()
	require.NoError(t, err)
	assert.Equal(t, "KORAD KA3005P V5.8 SN:03379314", idn)
	assert.Equal(t, []string{"*IDN?"}, port.written)
}

func TestNoResponse(t *testing.T) {
	_, err := New(newFakePort(""), "test").Identify()
	assert.Error(t, err)
}

func TestOutputReadback(t *testing.T) {
	port := newFakePort("08.39")
	s := New(port, "test")

	v, err := s.OutputVoltage()
	require.NoError(t, err)
	assert.InDelta(t, 8.39, v, 1e-9)

	_, err = New(newFakePort("xx.xx"), "test").OutputCurrent()
	assert.Error(t, err)
}

func TestClose(t *testing.T) {
	port := newFakePort("")
	require.NoError(t, New(port, "test").Close())
	assert.True(t, port.closed)
}

func TestFindNoCandidates(t *testing.T) {
	_, err := Find(nil)
	assert.ErrorIs(t, err, ErrNotFound)
}
