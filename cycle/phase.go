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

// Package cycle runs a bq34z651 Impedance Track learning cycle on a BM2 pack:
// discharge, rest, IT_ENABLE, charge, wait for the OCV measurement,
// discharge again and wait for MaxError to drop. Each poll reads the gauge,
// logs a row, drives the instruments for the current phase and evaluates a
// debounced exit condition.
package cycle

import (
	"fmt"
	"strings"
)

type Phase int

const (
	InitialDischarge Phase = iota
	LowRest
	LearningSetup
	Charge
	VokWait
	FinalDischarge
	MaxErrorWait
	Complete
)

// phaseNone is the previous phase before the first tick.
const phaseNone Phase = -1

var Phases = []Phase{
	InitialDischarge,
	LowRest,
	LearningSetup,
	Charge,
	VokWait,
	FinalDischarge,
	MaxErrorWait,
	Complete,
}

func (p Phase) String() string {
	switch p {
	case InitialDischarge:
		return "InitialDischarge"
	case LowRest:
		return "LowRest"
	case LearningSetup:
		return "LearningSetup"
	case Charge:
		return "Charge"
	case VokWait:
		return "VokWait"
	case FinalDischarge:
		return "FinalDischarge"
	case MaxErrorWait:
		return "MaxErrorWait"
	case Complete:
		return "Complete"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Next returns the phase that follows p. Complete is terminal.
func (p Phase) Next() Phase {
	if p < InitialDischarge || p >= Complete {
		return Complete
	}
	return p + 1
}

// ParsePhase accepts phase names case insensitively, with or without
// dashes, so "vok-wait" and "VokWait" are the same phase.
func ParsePhase(s string) (Phase, error) {
	name := strings.ToLower(strings.ReplaceAll(s, "-", ""))
	for _, p := range Phases {
		if strings.ToLower(p.String()) == name {
			return p, nil
		}
	}
	return phaseNone, fmt.Errorf("unknown phase '%s'", s)
}
