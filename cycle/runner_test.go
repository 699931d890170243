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
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/TheCacophonyProject/bm2-bench-controller/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now    time.Time
	sleeps int
	// onSleep runs before each sleep returns.
	onSleep func(n int) error
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.sleeps++
	c.now = c.now.Add(d)
	if c.onSleep != nil {
		return c.onSleep(c.sleeps)
	}
	return nil
}

func newRunner(t *testing.T, s Settings, bench *FakeBench, clk *fakeClock) *Runner {
	return &Runner{
		Settings: s,
		Openers:  bench.Openers(),
		LogPath:  filepath.Join(t.TempDir(), "cycle.tsv"),
		Now:      clk.Now,
		Sleep:    clk.Sleep,
	}
}

func TestRunCompletes(t *testing.T) {
	bench := NewFakeBench()
	bench.Monitor.Readings = []telemetry.Raw{
		reading(), // prime
		reading(cuv),
		reading(),
		reading(qen),
		reading(fullyCharged),
		reading(maxError(3), updateStatus(0x05)),
		reading(cuv),
		reading(maxError(1), updateStatus(0x06)),
	}
	clk := &fakeClock{now: t0}
	obs := &recordingObserver{}
	r := newRunner(t, fastSettings(), bench, clk)
	r.Observer = obs

	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, 6, clk.sleeps)
	assert.Len(t, obs.changes, 7)
	assert.Equal(t, 1, bench.Monitor.LearningEnabled)

	assert.False(t, bench.Relay.Calls[0], "relay opened first")
	assert.Equal(t, []string{"LoadOff", "SetMode(CC, 0.50)"}, bench.Load.Calls[:2])
	assert.Equal(t, []string{"OutputOff", "SetCurrent(2.00)", "SetVoltage(8.40)"}, bench.Supply.Calls[:3])

	assert.True(t, bench.Monitor.Closed)
	assert.True(t, bench.Supply.Closed)
	assert.True(t, bench.Load.Closed)
	assert.True(t, bench.Relay.Closed)

	rows := readRows(t, r.LogPath, '\t')
	assert.Len(t, rows, 8)
	assert.Equal(t, "MaxErrorWait", rows[7][15])
}

func TestRunCancelled(t *testing.T) {
	bench := NewFakeBench()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clk := &fakeClock{now: t0}
	clk.onSleep = func(n int) error {
		if n == 2 {
			cancel()
			return ctx.Err()
		}
		return nil
	}
	r := newRunner(t, DefaultSettings(), bench, clk)

	err := r.Run(ctx)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorContains(t, err, "InitialDischarge")

	assert.Equal(t, false, bench.Relay.Calls[len(bench.Relay.Calls)-1])
	assert.Equal(t, "LoadOff", bench.Load.Calls[len(bench.Load.Calls)-1])
	assert.Equal(t, "OutputOff", bench.Supply.Calls[len(bench.Supply.Calls)-1])
	assert.True(t, bench.Relay.Closed)
}

func TestRunSafetyViolationStopsCommands(t *testing.T) {
	s := fastSettings()
	s.ChargeVoltage = 16.8
	bench := NewFakeBench()
	balanced := cells(4100, 4100, 4100, 4100)
	bench.Monitor.Readings = []telemetry.Raw{
		reading(balanced),
		reading(balanced, cuv),
		reading(balanced),
		reading(cells(4100, 3900, 4100, 4100), qen),
	}
	r := newRunner(t, s, bench, &fakeClock{now: t0})

	err := r.Run(context.Background())
	assert.ErrorIs(t, err, ErrSafetyViolation)

	assert.Equal(t, []bool{false, true, false}, bench.Relay.Calls)
	assert.Equal(t, []string{"LoadOff", "SetMode(CC, 0.50)", "SetMode(CC, 0.50)", "LoadOn", "LoadOff"}, bench.Load.Calls)
	assert.Equal(t, 0, bench.Monitor.LearningEnabled)
	assert.True(t, bench.Load.Closed)
}

func TestRunRejectsSettingsBeforeHardware(t *testing.T) {
	s := DefaultSettings()
	s.ChargeVoltage = 14.4
	bench := NewFakeBench()
	r := newRunner(t, s, bench, &fakeClock{now: t0})

	assert.ErrorIs(t, r.Run(context.Background()), ErrSafetyViolation)
	assert.Empty(t, bench.Opens)
	_, err := os.Stat(r.LogPath)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestRunPrimeFailure(t *testing.T) {
	bench := NewFakeBench()
	bench.OpenErrors["relay"] = 1
	r := newRunner(t, DefaultSettings(), bench, &fakeClock{now: t0})

	err := r.Run(context.Background())
	assert.ErrorIs(t, err, ErrTransientDevice)
	assert.ErrorContains(t, err, "initialising relay")
}

func TestRunWarnsOnChargingVoltageMismatch(t *testing.T) {
	buf := captureLog(t)
	bench := NewFakeBench()
	bench.Monitor.Readings = []telemetry.Raw{reading(func(r *telemetry.Raw) { r.ChargingVoltageMV = 8200 })}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := newRunner(t, DefaultSettings(), bench, &fakeClock{now: t0})

	assert.ErrorIs(t, r.Run(ctx), ErrCancelled)
	assert.Contains(t, buf.String(), "BM2 communications may be in error")
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))
}
