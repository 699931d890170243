//go:build !linux

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

import "errors"

func OpenGPIOCdev(pin string, activeLow bool) (*Relay, error) {
	return nil, errors.New("gpiocdev relay backend requires linux")
}
