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

	"github.com/TheCacophonyProject/bm2-bench-controller/maynuo"
	"github.com/TheCacophonyProject/bm2-bench-controller/telemetry"
)

// FakeMonitor replays scripted register values. The last reading repeats
// once the script runs out.
type FakeMonitor struct {
	Readings []telemetry.Raw
	// FailReads holds read indexes that return an error.
	FailReads map[int]bool
	// FailEnable is the number of EnableLearning calls that fail.
	FailEnable int

	Reads           int
	LearningEnabled int
	Closed          bool
}

func (f *FakeMonitor) ReadTelemetry(now time.Time) (telemetry.Snapshot, error) {
	i := f.Reads
	f.Reads++
	if f.FailReads[i] {
		return telemetry.Invalid(now), fmt.Errorf("fake monitor: read %d failed", i)
	}
	if len(f.Readings) == 0 {
		return telemetry.New(now, telemetry.Raw{}), nil
	}
	return telemetry.New(now, f.Readings[min(i, len(f.Readings)-1)]), nil
}

func (f *FakeMonitor) EnableLearning() error {
	if f.FailEnable > 0 {
		f.FailEnable--
		return fmt.Errorf("fake monitor: IT_ENABLE failed")
	}
	f.LearningEnabled++
	return nil
}

func (f *FakeMonitor) Close() error {
	f.Closed = true
	return nil
}

// FakeSupply records commands in Calls.
type FakeSupply struct {
	Calls []string
	// Fail is the number of upcoming commands that fail.
	Fail int

	Voltage float64
	Current float64
	On      bool
	Closed  bool
}

func (f *FakeSupply) call(name string) error {
	if f.Fail > 0 {
		f.Fail--
		return fmt.Errorf("fake supply: %s failed", name)
	}
	f.Calls = append(f.Calls, name)
	return nil
}

func (f *FakeSupply) SetVoltage(volts float64) error {
	if err := f.call(fmt.Sprintf("SetVoltage(%.2f)", volts)); err != nil {
		return err
	}
	f.Voltage = volts
	return nil
}

func (f *FakeSupply) SetCurrent(amps float64) error {
	if err := f.call(fmt.Sprintf("SetCurrent(%.2f)", amps)); err != nil {
		return err
	}
	f.Current = amps
	return nil
}

func (f *FakeSupply) OutputOn() error {
	if err := f.call("OutputOn"); err != nil {
		return err
	}
	f.On = true
	return nil
}

func (f *FakeSupply) OutputOff() error {
	if err := f.call("OutputOff"); err != nil {
		return err
	}
	f.On = false
	return nil
}

func (f *FakeSupply) Close() error {
	f.Closed = true
	return nil
}

// FakeLoad records commands in Calls.
type FakeLoad struct {
	Calls []string
	Fail  int

	Mode   maynuo.Mode
	Value  float64
	On     bool
	Closed bool
}

func (f *FakeLoad) call(name string) error {
	if f.Fail > 0 {
		f.Fail--
		return fmt.Errorf("fake load: %s failed", name)
	}
	f.Calls = append(f.Calls, name)
	return nil
}

func (f *FakeLoad) SetMode(mode maynuo.Mode, value float64) error {
	if err := f.call(fmt.Sprintf("SetMode(%s, %.2f)", mode, value)); err != nil {
		return err
	}
	f.Mode, f.Value = mode, value
	return nil
}

func (f *FakeLoad) LoadOn() error {
	if err := f.call("LoadOn"); err != nil {
		return err
	}
	f.On = true
	return nil
}

func (f *FakeLoad) LoadOff() error {
	if err := f.call("LoadOff"); err != nil {
		return err
	}
	f.On = false
	return nil
}

func (f *FakeLoad) Close() error {
	f.Closed = true
	return nil
}

type FakeRelay struct {
	Calls     []bool
	Fail      int
	Connected bool
	Closed    bool
}

func (f *FakeRelay) Connect(on bool) error {
	if f.Fail > 0 {
		f.Fail--
		return fmt.Errorf("fake relay: connect(%t) failed", on)
	}
	f.Calls = append(f.Calls, on)
	f.Connected = on
	return nil
}

func (f *FakeRelay) Close() error {
	f.Closed = true
	return nil
}

// FakeBench bundles one fake of each device and counts how often each is
// opened.
type FakeBench struct {
	Monitor *FakeMonitor
	Supply  *FakeSupply
	Load    *FakeLoad
	Relay   *FakeRelay

	Opens map[string]int
	// OpenErrors makes the next open of the named device fail.
	OpenErrors map[string]int
}

func NewFakeBench() *FakeBench {
	return &FakeBench{
		Monitor:    &FakeMonitor{},
		Supply:     &FakeSupply{},
		Load:       &FakeLoad{},
		Relay:      &FakeRelay{},
		Opens:      map[string]int{},
		OpenErrors: map[string]int{},
	}
}

func (b *FakeBench) open(name string) error {
	if b.OpenErrors[name] > 0 {
		b.OpenErrors[name]--
		return fmt.Errorf("fake bench: opening %s failed", name)
	}
	b.Opens[name]++
	return nil
}

func (b *FakeBench) Openers() Openers {
	return Openers{
		Monitor: func() (Monitor, error) {
			if err := b.open("monitor"); err != nil {
				return nil, err
			}
			b.Monitor.Closed = false
			return b.Monitor, nil
		},
		Supply: func() (PowerSupply, error) {
			if err := b.open("supply"); err != nil {
				return nil, err
			}
			b.Supply.Closed = false
			return b.Supply, nil
		},
		Load: func() (Load, error) {
			if err := b.open("load"); err != nil {
				return nil, err
			}
			b.Load.Closed = false
			return b.Load, nil
		},
		Relay: func() (Relay, error) {
			if err := b.open("relay"); err != nil {
				return nil, err
			}
			b.Relay.Closed = false
			return b.Relay, nil
		},
	}
}

// ResetCalls clears recorded commands on every device.
func (b *FakeBench) ResetCalls() {
	b.Supply.Calls = nil
	b.Load.Calls = nil
	b.Relay.Calls = nil
}
