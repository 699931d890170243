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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	chip, offset, err := parseLine("17")
	require.NoError(t, err)
	assert.Equal(t, "gpiochip0", chip)
	assert.Equal(t, 17, offset)

	chip, offset, err = parseLine("gpiochip4:GPIO22")
	require.NoError(t, err)
	assert.Equal(t, "gpiochip4", chip)
	assert.Equal(t, 22, offset)

	_, _, err = parseLine("SS")
	assert.Error(t, err)
}
