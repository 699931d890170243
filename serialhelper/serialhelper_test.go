/*
bm2-bench-controller - Exclusive access to bench instrument serial ports
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

package serialhelper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ttyUSB0")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	first, err := Lock(path, 0, 0)
	require.NoError(t, err)

	_, err = Lock(path, 0, 0)
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))

	require.NoError(t, Release(first))

	second, err := Lock(path, 0, 0)
	require.NoError(t, err)
	require.NoError(t, Release(second))
}

func TestLockMissingDevice(t *testing.T) {
	_, err := Lock(filepath.Join(t.TempDir(), "missing"), 0, 0)
	require.Error(t, err)
	assert.False(t, IsUnavailable(err))
}

func TestCandidates(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"ttyUSB1", "ttyUSB0", "ttyACM0", "ttyS0"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}
	old := CandidatePatterns
	defer func() { CandidatePatterns = old }()
	CandidatePatterns = []string{filepath.Join(dir, "ttyUSB*"), filepath.Join(dir, "ttyACM*")}

	assert.Equal(t, []string{
		filepath.Join(dir, "ttyACM0"),
		filepath.Join(dir, "ttyUSB0"),
		filepath.Join(dir, "ttyUSB1"),
	}, Candidates())
}

func TestReleaseNil(t *testing.T) {
	assert.NoError(t, Release(nil))
}
