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

import "errors"

var (
	// ErrTransientDevice is a failed command or read on one instrument. The
	// handle is dropped and reopened on the next tick.
	ErrTransientDevice = errors.New("transient device error")

	// ErrInvalidTelemetry means the tick produced no usable snapshot.
	ErrInvalidTelemetry = errors.New("invalid telemetry")

	// ErrPersistence is a failure writing the cycle log.
	ErrPersistence = errors.New("cycle log error")

	// ErrSafetyViolation ends the run without commanding the instruments again.
	ErrSafetyViolation = errors.New("safety violation")

	// ErrConfiguration is raised before any hardware is touched.
	ErrConfiguration = errors.New("configuration error")

	ErrCancelled = errors.New("learning cycle cancelled")
)

// IsFatal reports whether err must stop the run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrSafetyViolation) || errors.Is(err, ErrConfiguration) || errors.Is(err, ErrCancelled)
}
