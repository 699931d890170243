/*
bm2-bench-controller - Learning cycle relay
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

// Package relay switches the pack between the bench instruments and
// open circuit through a GPIO driven relay.
package relay

import (
	"fmt"
	"io"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

const (
	BackendPeriph   = "periph"
	BackendGPIOCdev = "gpiocdev"
)

type output interface {
	Out(l gpio.Level) error
}

type Relay struct {
	out       output
	name      string
	activeLow bool
	connected bool
}

// New wraps a pin. The relay starts out disconnected.
func New(out output, name string, activeLow bool) (*Relay, error) {
	r := &Relay{out: out, name: name, activeLow: activeLow}
	if err := r.Connect(false); err != nil {
		return nil, err
	}
	return r, nil
}

// Open returns a relay on the named pin using the given GPIO backend.
func Open(backend, pin string, activeLow bool) (*Relay, error) {
	switch backend {
	case BackendPeriph, "":
		return OpenPeriph(pin, activeLow)
	case BackendGPIOCdev:
		return OpenGPIOCdev(pin, activeLow)
	}
	return nil, fmt.Errorf("unknown relay backend '%s'", backend)
}

// OpenPeriph drives the relay through periph's pin registry, e.g. "GPIO17".
func OpenPeriph(pinName string, activeLow bool) (*Relay, error) {
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return nil, fmt.Errorf("failed to init %s pin", pinName)
	}
	return New(pin, pinName, activeLow)
}

func (r *Relay) String() string {
	return "relay(" + r.name + ")"
}

// Connect closes the relay when on is set, opening it otherwise.
func (r *Relay) Connect(on bool) error {
	level := gpio.Level(on != r.activeLow)
	if err := r.out.Out(level); err != nil {
		return fmt.Errorf("%s: %w", r, err)
	}
	r.connected = on
	return nil
}

func (r *Relay) Connected() bool {
	return r.connected
}

// Close releases the pin, leaving it at its last level.
func (r *Relay) Close() error {
	if c, ok := r.out.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
