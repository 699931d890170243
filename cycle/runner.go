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
	"fmt"
	"math"
	"time"

	"github.com/TheCacophonyProject/bm2-bench-controller/maynuo"
)

// Runner drives a Controller from start up to Complete, a fatal error or
// cancellation of its context.
type Runner struct {
	Settings  Settings
	Openers   Openers
	LogPath   string
	Delimiter rune
	Observer  Observer

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func (r *Runner) Run(ctx context.Context) error {
	if err := r.Settings.Validate(); err != nil {
		return err
	}
	now := r.Now
	if now == nil {
		now = time.Now
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	devices := NewDeviceSet(r.Openers)
	defer devices.Close()

	logger := NewCycleLogger(r.LogPath, r.Delimiter)
	if err := logger.Start(); err != nil {
		return err
	}

	log.Info("Initialising hardware")
	if err := prime(devices, r.Settings, now()); err != nil {
		return err
	}

	start := now()
	ctrl := NewController(r.Settings, devices, logger, r.Observer, start)
	for {
		if err := ctx.Err(); err != nil {
			log.Warnf("Stopping in %s: %v", ctrl.Phase(), err)
			safeOff(devices)
			return fmt.Errorf("%w in %s: %w", ErrCancelled, ctrl.Phase(), err)
		}
		if err := ctrl.Tick(now()); err != nil {
			log.Errorf("Aborting learning cycle in %s: %v", ctrl.Phase(), err)
			return err
		}
		if ctrl.Done() {
			return nil
		}
		// A cancelled sleep is picked up at the top of the loop.
		_ = sleep(ctx, r.Settings.PollInterval)
	}
}

// prime puts every instrument in a known off state with the cycle's setpoints
// loaded. The load is opened before the supply so port autodetection skips
// the load's port.
func prime(d *DeviceSet, s Settings, now time.Time) error {
	if err := d.WithRelay(func(r Relay) error { return r.Connect(false) }); err != nil {
		return fmt.Errorf("initialising relay: %w", err)
	}
	if err := d.WithLoad(func(l Load) error {
		if err := l.LoadOff(); err != nil {
			return err
		}
		return l.SetMode(maynuo.ConstantCurrent, s.DischargeCurrent)
	}); err != nil {
		return fmt.Errorf("initialising load: %w", err)
	}
	if err := d.WithSupply(func(ps PowerSupply) error {
		if err := ps.OutputOff(); err != nil {
			return err
		}
		if err := ps.SetCurrent(s.ChargeCurrent); err != nil {
			return err
		}
		return ps.SetVoltage(s.ChargeVoltage)
	}); err != nil {
		return fmt.Errorf("initialising power supply: %w", err)
	}
	return d.WithMonitor(func(m Monitor) error {
		snap, err := m.ReadTelemetry(now)
		if err != nil {
			return err
		}
		expected := s.ChargeVoltage * 1000
		if math.Abs(float64(snap.ChargingVoltageMV)-expected) > float64(s.ChargeVoltageToleranceMV) {
			log.Warnf("BM2 communications may be in error, charging voltage is %dmV, expected %.0fmV", snap.ChargingVoltageMV, expected)
		}
		return nil
	})
}

// safeOff opens the relay and turns both instruments off, carrying on past
// failures.
func safeOff(d *DeviceSet) {
	if err := d.WithRelay(func(r Relay) error { return r.Connect(false) }); err != nil {
		log.Errorf("Failed to open relay: %v", err)
	}
	if err := d.WithLoad(func(l Load) error { return l.LoadOff() }); err != nil {
		log.Errorf("Failed to turn load off: %v", err)
	}
	if err := d.WithSupply(func(ps PowerSupply) error { return ps.OutputOff() }); err != nil {
		log.Errorf("Failed to turn power supply off: %v", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
