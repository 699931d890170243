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
	"errors"
	"fmt"
	"time"

	"github.com/TheCacophonyProject/bm2-bench-controller/maynuo"
	"github.com/TheCacophonyProject/bm2-bench-controller/telemetry"
)

// Controller is the learning cycle state machine. It is driven by calling
// Tick once per poll and is not safe for concurrent use.
type Controller struct {
	settings Settings
	devices  *DeviceSet
	logger   *CycleLogger
	observer Observer

	start        time.Time
	phase        Phase
	previous     Phase
	phaseEntered time.Time
	lastMessage  time.Time
	debounce     map[Phase]*Debounce

	// applied is set once the phase's instrument outputs have been commanded
	// and cleared on entry or when a command fails.
	applied         bool
	learningEnabled bool
}

// NewController returns a controller at InitialDischarge. logger and observer
// may be nil.
func NewController(settings Settings, devices *DeviceSet, logger *CycleLogger, observer Observer, start time.Time) *Controller {
	c := &Controller{
		settings:    settings,
		devices:     devices,
		logger:      logger,
		observer:    observer,
		start:       start,
		phase:       InitialDischarge,
		previous:    phaseNone,
		lastMessage: start,
		debounce:    map[Phase]*Debounce{},
	}
	for _, p := range Phases[:len(Phases)-1] {
		c.debounce[p] = NewDebounce(exitConditionNames[p], settings.Threshold(p))
	}
	return c
}

var exitConditionNames = map[Phase]string{
	InitialDischarge: "CUV",
	LowRest:          "rest elapsed",
	LearningSetup:    "QEN && !RDIS",
	Charge:           "FC",
	VokWait:          "OCV taken",
	FinalDischarge:   "CUV",
	MaxErrorWait:     "MaxError",
}

func (c *Controller) Phase() Phase {
	return c.phase
}

func (c *Controller) Done() bool {
	return c.phase == Complete
}

// Streak returns the current debounce streak of the phase's exit condition.
func (c *Controller) Streak() int {
	if d, ok := c.debounce[c.phase]; ok {
		return d.Streak()
	}
	return 0
}

// Tick runs one poll: read, log, entry actions, outputs, exit evaluation.
// Only fatal errors are returned; transient ones are logged and retried on
// the next tick.
func (c *Controller) Tick(now time.Time) error {
	if c.Done() {
		return nil
	}
	snap, err := c.readTelemetry(now)
	c.record(now, snap)
	if err != nil {
		log.Warnf("%s: %v, skipping this tick", c.phase, err)
		return nil
	}

	if c.phase != c.previous {
		c.previous = c.phase
		if err := c.enter(snap, now); err != nil {
			return err
		}
	}

	c.periodicMessage(snap, now)

	if err := c.act(snap); err != nil {
		if IsFatal(err) {
			return err
		}
		log.Warnf("%s: %v, retrying next tick", c.phase, err)
		return nil
	}

	if c.debounce[c.phase].Observe(c.exitCondition(snap, now)) {
		c.transition(snap, now)
	}
	return nil
}

func (c *Controller) readTelemetry(now time.Time) (telemetry.Snapshot, error) {
	snap := telemetry.Invalid(now)
	err := c.devices.WithMonitor(func(m Monitor) error {
		s, err := m.ReadTelemetry(now)
		if err != nil {
			return err
		}
		if !s.Valid {
			return errors.New("monitor returned an invalid snapshot")
		}
		snap = s
		return nil
	})
	if err != nil {
		return snap, fmt.Errorf("%w: %w", ErrInvalidTelemetry, err)
	}
	return snap, nil
}

func (c *Controller) record(now time.Time, snap telemetry.Snapshot) {
	elapsed := now.Sub(c.start)
	if c.logger != nil {
		if err := c.logger.Append(elapsed, c.phase, snap); err != nil {
			log.Errorf("Failed to log tick: %v", err)
		}
	}
	if c.observer != nil && snap.Valid {
		c.observer.Telemetry(elapsed, c.phase, snap)
	}
}

func (c *Controller) enter(snap telemetry.Snapshot, now time.Time) error {
	c.debounce[c.phase].Reset()
	c.phaseEntered = now
	c.applied = false
	c.learningEnabled = false

	switch c.phase {
	case InitialDischarge:
		log.Infof("Starting learning cycle by discharging the pack at %.2fA from %dmV", c.settings.DischargeCurrent, snap.VoltageMV)
	case LowRest:
		log.Infof("Pack is discharged after %s, resting for %s", c.runtime(now), c.settings.RestDuration)
		if limit := c.settings.TerminationVoltageMV(); int(snap.VoltageMV) > limit {
			log.Warnf("Pack voltage %dmV is above the termination voltage of %dmV", snap.VoltageMV, limit)
		}
		if snap.Flags.SafetyFault {
			log.Warnf("Safety fault active, SafetyStatus 0x%04X", snap.SafetyStatus)
		}
	case LearningSetup:
		cells := c.settings.Cells()
		if !CellVoltagesGood(snap, cells, c.settings.CellImbalanceLimitMV) {
			return fmt.Errorf("%w: cell imbalance of %dmV across %d cells exceeds %dmV %v",
				ErrSafetyViolation, snap.CellSpread(cells), cells, c.settings.CellImbalanceLimitMV, snap.CellVoltageMV[:cells])
		}
		log.Infof("Resting complete after %s, cells balanced within %dmV, sending IT_ENABLE", c.runtime(now), snap.CellSpread(cells))
	case Charge:
		log.Infof("IT_ENABLE accepted after %s, charging at %.2fV %.2fA", c.runtime(now), c.settings.ChargeVoltage, c.settings.ChargeCurrent)
	case VokWait:
		log.Infof("Pack is charged after %s at %dmV, waiting for the OCV measurement", c.runtime(now), snap.VoltageMV)
	case FinalDischarge:
		log.Infof("OCV measurement taken after %s, discharging again from %dmV", c.runtime(now), snap.VoltageMV)
	case MaxErrorWait:
		log.Infof("Pack is discharged after %s at %dmV, waiting for MaxError to drop", c.runtime(now), snap.VoltageMV)
		if snap.Flags.SafetyFault {
			log.Warnf("Safety fault active, SafetyStatus 0x%04X", snap.SafetyStatus)
		}
	}
	return nil
}

func (c *Controller) act(snap telemetry.Snapshot) error {
	if !c.applied {
		if err := c.applyOutputs(); err != nil {
			return err
		}
		c.applied = true
	}

	switch c.phase {
	case LearningSetup:
		if !c.learningEnabled {
			if err := c.devices.WithMonitor(func(m Monitor) error { return m.EnableLearning() }); err != nil {
				return err
			}
			c.learningEnabled = true
			log.Info("IT_ENABLE sent")
		}
	case FinalDischarge:
		if snap.Flags.VOK {
			log.Warn("VOK has not been reset")
		}
	}
	return nil
}

func (c *Controller) applyOutputs() error {
	switch c.phase {
	case InitialDischarge, FinalDischarge:
		return c.discharge()
	case LowRest, MaxErrorWait:
		return c.disconnectLoad()
	case Charge:
		return c.charge()
	case VokWait:
		return c.disconnectSupply()
	}
	return nil
}

// discharge routes the pack to the load only.
func (c *Controller) discharge() error {
	if err := c.devices.WithSupply(func(ps PowerSupply) error { return ps.OutputOff() }); err != nil {
		return err
	}
	if err := c.devices.WithLoad(func(l Load) error {
		if err := l.SetMode(maynuo.ConstantCurrent, c.settings.DischargeCurrent); err != nil {
			return err
		}
		return l.LoadOn()
	}); err != nil {
		return err
	}
	return c.devices.WithRelay(func(r Relay) error { return r.Connect(true) })
}

// charge routes the pack to the supply only.
func (c *Controller) charge() error {
	if err := c.devices.WithLoad(func(l Load) error { return l.LoadOff() }); err != nil {
		return err
	}
	if err := c.devices.WithSupply(func(ps PowerSupply) error {
		if err := ps.SetVoltage(c.settings.ChargeVoltage); err != nil {
			return err
		}
		if err := ps.SetCurrent(c.settings.ChargeCurrent); err != nil {
			return err
		}
		return ps.OutputOn()
	}); err != nil {
		return err
	}
	return c.devices.WithRelay(func(r Relay) error { return r.Connect(true) })
}

func (c *Controller) disconnectLoad() error {
	if err := c.devices.WithRelay(func(r Relay) error { return r.Connect(false) }); err != nil {
		return err
	}
	return c.devices.WithLoad(func(l Load) error { return l.LoadOff() })
}

func (c *Controller) disconnectSupply() error {
	if err := c.devices.WithRelay(func(r Relay) error { return r.Connect(false) }); err != nil {
		return err
	}
	return c.devices.WithSupply(func(ps PowerSupply) error { return ps.OutputOff() })
}

func (c *Controller) exitCondition(snap telemetry.Snapshot, now time.Time) bool {
	f := snap.Flags
	switch c.phase {
	case InitialDischarge, FinalDischarge:
		return f.CUV
	case LowRest:
		return now.Sub(c.phaseEntered) >= c.settings.RestDuration
	case LearningSetup:
		return f.QEN && !f.RDIS
	case Charge:
		return f.FC
	case VokWait:
		return !f.VOK && snap.MaxError == c.settings.VokMaxError && snap.UpdateStatus == c.settings.QmaxUpdateStatus
	case MaxErrorWait:
		return snap.MaxError == c.settings.FinalMaxError && !f.VOK && snap.UpdateStatus == c.settings.RaUpdateStatus
	}
	return false
}

func (c *Controller) transition(snap telemetry.Snapshot, now time.Time) {
	from := c.phase
	c.phase = from.Next()
	log.Infof("%s finished after %s, moving to %s", from, c.runtime(now), c.phase)
	if c.phase == Complete {
		log.Infof("Learning cycle has been completed successfully after %s", c.runtime(now))
	}
	if c.observer != nil {
		c.observer.PhaseChanged(from, c.phase, snap)
	}
}

func (c *Controller) periodicMessage(snap telemetry.Snapshot, now time.Time) {
	if c.phase == MaxErrorWait || now.Sub(c.lastMessage) < c.settings.MessagePeriod {
		return
	}
	c.lastMessage = now
	if c.phase == VokWait {
		log.Infof("After %s the OCV measurement is yet to be taken", c.runtime(now))
		return
	}
	log.Infof("After %s voltage is %.3fV, current is %dmA", c.runtime(now), float64(snap.VoltageMV)/1000, snap.CurrentMA)
}

func (c *Controller) runtime(now time.Time) string {
	return fmt.Sprintf("%.0f mins", now.Sub(c.start).Minutes())
}
