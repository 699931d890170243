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
	"io"
	"time"

	"github.com/TheCacophonyProject/bm2-bench-controller/maynuo"
	"github.com/TheCacophonyProject/bm2-bench-controller/telemetry"
)

type Monitor interface {
	ReadTelemetry(now time.Time) (telemetry.Snapshot, error)
	EnableLearning() error
	io.Closer
}

type PowerSupply interface {
	SetVoltage(volts float64) error
	SetCurrent(amps float64) error
	OutputOn() error
	OutputOff() error
	io.Closer
}

type Load interface {
	SetMode(mode maynuo.Mode, value float64) error
	LoadOn() error
	LoadOff() error
	io.Closer
}

// Relay connects the pack to the bench instruments.
type Relay interface {
	Connect(on bool) error
	io.Closer
}

// Openers open a fresh handle for each kind of device.
type Openers struct {
	Monitor func() (Monitor, error)
	Supply  func() (PowerSupply, error)
	Load    func() (Load, error)
	Relay   func() (Relay, error)
}

type handle[T io.Closer] struct {
	name string
	open func() (T, error)
	dev  T
	held bool
}

func (h *handle[T]) get() (T, error) {
	if h.held {
		return h.dev, nil
	}
	var zero T
	if h.open == nil {
		return zero, fmt.Errorf("%w: no %s configured", ErrConfiguration, h.name)
	}
	dev, err := h.open()
	if err != nil {
		return zero, fmt.Errorf("%w: opening %s: %w", ErrTransientDevice, h.name, err)
	}
	log.Debugf("Opened %s", h.name)
	h.dev, h.held = dev, true
	return dev, nil
}

func (h *handle[T]) drop() {
	if !h.held {
		return
	}
	if err := h.dev.Close(); err != nil {
		log.Warnf("Closing %s: %v", h.name, err)
	}
	var zero T
	h.dev, h.held = zero, false
}

// use runs fn against the device, dropping the handle if fn fails so the
// next call reopens it.
func use[T io.Closer](h *handle[T], fn func(T) error) error {
	dev, err := h.get()
	if err != nil {
		return err
	}
	if err := fn(dev); err != nil {
		h.drop()
		return fmt.Errorf("%w: %s: %w", ErrTransientDevice, h.name, err)
	}
	return nil
}

// DeviceSet owns the instrument handles for one learning cycle. Handles are
// opened on first use and closed by Close.
type DeviceSet struct {
	monitor handle[Monitor]
	supply  handle[PowerSupply]
	load    handle[Load]
	relay   handle[Relay]
}

func NewDeviceSet(o Openers) *DeviceSet {
	return &DeviceSet{
		monitor: handle[Monitor]{name: "battery monitor", open: o.Monitor},
		supply:  handle[PowerSupply]{name: "power supply", open: o.Supply},
		load:    handle[Load]{name: "DC load", open: o.Load},
		relay:   handle[Relay]{name: "relay", open: o.Relay},
	}
}

func (d *DeviceSet) WithMonitor(fn func(Monitor) error) error {
	return use(&d.monitor, fn)
}

func (d *DeviceSet) WithSupply(fn func(PowerSupply) error) error {
	return use(&d.supply, fn)
}

func (d *DeviceSet) WithLoad(fn func(Load) error) error {
	return use(&d.load, fn)
}

func (d *DeviceSet) WithRelay(fn func(Relay) error) error {
	return use(&d.relay, fn)
}

// Close releases every open handle without commanding the devices.
func (d *DeviceSet) Close() {
	d.relay.drop()
	d.load.drop()
	d.supply.drop()
	d.monitor.drop()
}
