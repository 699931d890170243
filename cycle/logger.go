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
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/TheCacophonyProject/bm2-bench-controller/telemetry"
)

var Header = []string{
	"elapsed_seconds",
	"voltage",
	"current",
	"chargingVoltage",
	"chargingCurrent",
	"operationStatus",
	"safetyAlert",
	"safetyStatus",
	"maxError",
	"batteryStatus",
	"cellVoltage1",
	"cellVoltage2",
	"cellVoltage3",
	"cellVoltage4",
	"updateStatus",
	"phase",
}

// CycleLogger appends one delimited row per tick. The file is opened and
// closed for every row so a crash loses at most the row being written.
type CycleLogger struct {
	Path      string
	Delimiter rune
}

func NewCycleLogger(path string, delimiter rune) *CycleLogger {
	if delimiter == 0 {
		delimiter = '\t'
	}
	return &CycleLogger{Path: path, Delimiter: delimiter}
}

// Start writes the header row. An existing non-empty file is appended to.
func (l *CycleLogger) Start() error {
	info, err := os.Stat(l.Path)
	if err == nil && info.Size() > 0 {
		log.Warnf("%s already has data, appending to it", l.Path)
		return nil
	}
	return l.write(Header)
}

func (l *CycleLogger) Append(elapsed time.Duration, phase Phase, snap telemetry.Snapshot) error {
	return l.write(Record(elapsed, phase, snap))
}

func (l *CycleLogger) write(row []string) error {
	file, err := os.OpenFile(l.Path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	w := csv.NewWriter(file)
	w.Comma = l.Delimiter
	if err := w.Write(row); err != nil {
		file.Close()
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		file.Close()
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

// Record flattens a tick into a log row. Rows for invalid snapshots keep the
// elapsed time and phase and leave the telemetry columns blank.
func Record(elapsed time.Duration, phase Phase, s telemetry.Snapshot) []string {
	row := make([]string, len(Header))
	row[0] = strconv.FormatFloat(elapsed.Seconds(), 'f', 1, 64)
	row[len(row)-1] = phase.String()
	if !s.Valid {
		return row
	}
	row[1] = strconv.Itoa(int(s.VoltageMV))
	row[2] = strconv.Itoa(int(s.CurrentMA))
	row[3] = strconv.Itoa(int(s.ChargingVoltageMV))
	row[4] = strconv.Itoa(int(s.ChargingCurrentMA))
	row[5] = fmt.Sprintf("0x%04X", s.OperationStatus)
	row[6] = fmt.Sprintf("0x%04X", s.SafetyAlert)
	row[7] = fmt.Sprintf("0x%04X", s.SafetyStatus)
	row[8] = strconv.Itoa(int(s.MaxError))
	row[9] = fmt.Sprintf("0x%04X", s.BatteryStatus)
	for i, mv := range s.CellVoltageMV {
		row[10+i] = strconv.Itoa(int(mv))
	}
	row[14] = fmt.Sprintf("0x%02X", s.UpdateStatus)
	return row
}

// ParseRecord reads a row written by Record. ok is false for rows written for
// invalid snapshots.
func ParseRecord(row []string) (elapsed time.Duration, phase Phase, raw telemetry.Raw, ok bool, err error) {
	if len(row) != len(Header) {
		return 0, phaseNone, raw, false, fmt.Errorf("expected %d columns, got %d", len(Header), len(row))
	}
	secs, err := strconv.ParseFloat(row[0], 64)
	if err != nil {
		return 0, phaseNone, raw, false, err
	}
	elapsed = time.Duration(secs * float64(time.Second))
	if phase, err = ParsePhase(row[len(row)-1]); err != nil {
		return 0, phaseNone, raw, false, err
	}
	if row[1] == "" {
		return elapsed, phase, raw, false, nil
	}

	p := fieldParser{row: row}
	raw.VoltageMV = uint16(p.uint(1, 10, 16))
	raw.CurrentMA = int16(p.int(2))
	raw.ChargingVoltageMV = uint16(p.uint(3, 10, 16))
	raw.ChargingCurrentMA = uint16(p.uint(4, 10, 16))
	raw.OperationStatus = uint16(p.uint(5, 0, 16))
	raw.SafetyAlert = uint16(p.uint(6, 0, 16))
	raw.SafetyStatus = uint16(p.uint(7, 0, 16))
	raw.MaxError = uint16(p.uint(8, 10, 16))
	raw.BatteryStatus = uint16(p.uint(9, 0, 16))
	for i := range raw.CellVoltageMV {
		raw.CellVoltageMV[i] = uint16(p.uint(10+i, 10, 16))
	}
	raw.UpdateStatus = uint8(p.uint(14, 0, 8))
	if p.err != nil {
		return 0, phaseNone, telemetry.Raw{}, false, p.err
	}
	return elapsed, phase, raw, true, nil
}

// fieldParser keeps the first error so a row can be parsed without checking
// every column.
type fieldParser struct {
	row []string
	err error
}

func (p *fieldParser) uint(i, base, bits int) uint64 {
	if p.err != nil {
		return 0
	}
	s := p.row[i]
	if base == 0 {
		s = strings.ToLower(s)
	}
	v, err := strconv.ParseUint(s, base, bits)
	if err != nil {
		p.err = fmt.Errorf("column %s: %w", Header[i], err)
	}
	return v
}

func (p *fieldParser) int(i int) int64 {
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseInt(p.row[i], 10, 16)
	if err != nil {
		p.err = fmt.Errorf("column %s: %w", Header[i], err)
	}
	return v
}
