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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TheCacophonyProject/bm2-bench-controller/cycle"
	"github.com/TheCacophonyProject/bm2-bench-controller/internal/config"
	"github.com/TheCacophonyProject/bm2-bench-controller/telemetry"
	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2023, 6, 1, 9, 0, 0, 0, time.UTC)

func TestProcArgs(t *testing.T) {
	args, err := procArgs([]string{})
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfigFile, args.Config)
	assert.Equal(t, "", args.Output)
	assert.Equal(t, "info", args.LogLevel)

	args, err = procArgs([]string{"-c", "bench.toml", "--output", "run1.tsv", "-l", "debug"})
	require.NoError(t, err)
	assert.Equal(t, "bench.toml", args.Config)
	assert.Equal(t, "run1.tsv", args.Output)
	assert.Equal(t, "debug", args.LogLevel)
}

func TestDefaultLogPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/data", "learning-cycle-20230601-090000.tsv"),
		defaultLogPath(config.Output{Dir: "/data", Delimiter: "\t"}, start))
	assert.Equal(t, "learning-cycle-20230601-090000.csv",
		defaultLogPath(config.Output{Dir: ".", Delimiter: ","}, start))
}

func TestHardwareOpenErrors(t *testing.T) {
	cfg := config.Default()
	cfg.Load.Port = filepath.Join(t.TempDir(), "ttyUSB9")
	cfg.Supply.Port = filepath.Join(t.TempDir(), "ttyUSB8")

	o := hardwareOpeners(cfg)
	l, err := o.Load()
	assert.Error(t, err)
	assert.Nil(t, l)

	s, err := o.Supply()
	assert.Error(t, err)
	assert.Nil(t, s)
}

func TestEventsOnPhaseChange(t *testing.T) {
	var events []eventclient.Event
	r := newEventReporter(func(e eventclient.Event) error {
		events = append(events, e)
		return nil
	}, start)

	snap := telemetry.New(start.Add(90*time.Minute), telemetry.Raw{VoltageMV: 8350, MaxError: 3})
	r.PhaseChanged(cycle.Charge, cycle.VokWait, snap)
	require.Len(t, events, 1)
	assert.Equal(t, phaseEvent, events[0].Type)
	assert.Equal(t, map[string]interface{}{
		"from":      "Charge",
		"to":        "VokWait",
		"voltageMV": 8350,
		"maxError":  3,
	}, events[0].Details)

	snap = telemetry.New(start.Add(20*time.Hour), telemetry.Raw{MaxError: 1})
	r.PhaseChanged(cycle.MaxErrorWait, cycle.Complete, snap)
	require.Len(t, events, 3)
	assert.Equal(t, completeEvent, events[2].Type)
	assert.Equal(t, 1200, events[2].Details["runtimeMinutes"])
}

func TestEventsAborted(t *testing.T) {
	var events []eventclient.Event
	r := newEventReporter(func(e eventclient.Event) error {
		events = append(events, e)
		return errors.New("event reporter not running")
	}, start)

	r.aborted("LearningSetup", fmt.Errorf("%w: cell imbalance", cycle.ErrSafetyViolation))
	require.Len(t, events, 1)
	assert.Equal(t, abortedEvent, events[0].Type)
	assert.Equal(t, "LearningSetup", events[0].Details["phase"])
	assert.Equal(t, "safety violation: cell imbalance", events[0].Details["error"])
}

func TestStatusTracker(t *testing.T) {
	s := newStatusTracker("cycle.tsv", start)
	assert.Equal(t, "InitialDischarge", s.Get().Phase)
	assert.True(t, s.Get().Running)

	snap := telemetry.New(start.Add(time.Minute), telemetry.Raw{VoltageMV: 7000})
	s.Telemetry(time.Minute, cycle.InitialDischarge, snap)
	s.PhaseChanged(cycle.InitialDischarge, cycle.LowRest, snap)

	got := s.Get()
	assert.Equal(t, "LowRest", got.Phase)
	assert.Equal(t, 60.0, got.ElapsedSeconds)
	assert.Equal(t, uint16(7000), got.Last.VoltageMV)

	s.finish(cycle.ErrCancelled)
	got = s.Get()
	assert.False(t, got.Running)
	assert.Equal(t, "learning cycle cancelled", got.Error)
}

func TestServiceStatus(t *testing.T) {
	status := newStatusTracker("cycle.tsv", start)
	s := service{status: status, stop: func() {}}

	out, dbusErr := s.Status()
	require.Nil(t, dbusErr)
	var got Status
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "InitialDischarge", got.Phase)
	assert.Equal(t, "cycle.tsv", got.LogPath)
	assert.True(t, got.Running)
}

func TestServiceStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	status := newStatusTracker("cycle.tsv", start)
	s := service{status: status, stop: cancel}

	require.Nil(t, s.Stop())
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	status.finish(nil)
	dbusErr := s.Stop()
	require.NotNil(t, dbusErr)
	assert.True(t, strings.HasPrefix(dbusErr.Name, dbusName+"."))
}
