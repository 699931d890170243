//go:build linux

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

package relay

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/warthog618/go-gpiocdev"
	"periph.io/x/conn/v3/gpio"
)

const defaultChip = "gpiochip0"

type cdevLine struct {
	line *gpiocdev.Line
}

func (c *cdevLine) Out(l gpio.Level) error {
	v := 0
	if l == gpio.High {
		v = 1
	}
	return c.line.SetValue(v)
}

func (c *cdevLine) Close() error {
	return c.line.Close()
}

// OpenGPIOCdev drives the relay through the GPIO character device. pin is a
// line offset, optionally prefixed with the chip, e.g. "17" or "gpiochip0:17".
func OpenGPIOCdev(pin string, activeLow bool) (*Relay, error) {
	chip, offset, err := parseLine(pin)
	if err != nil {
		return nil, err
	}
	initial := 0
	if activeLow {
		initial = 1
	}
	line, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(initial))
	if err != nil {
		return nil, fmt.Errorf("request line %d on %s: %w", offset, chip, err)
	}
	r, err := New(&cdevLine{line: line}, pin, activeLow)
	if err != nil {
		line.Close()
		return nil, err
	}
	return r, nil
}

func parseLine(pin string) (string, int, error) {
	chip := defaultChip
	if c, o, ok := strings.Cut(pin, ":"); ok {
		chip, pin = c, o
	}
	offset, err := strconv.Atoi(strings.TrimPrefix(pin, "GPIO"))
	if err != nil || offset < 0 {
		return "", 0, fmt.Errorf("invalid gpio line '%s'", pin)
	}
	return chip, offset, nil
}
