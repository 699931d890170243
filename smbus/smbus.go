/*
bm2-bench-controller - SMBus transactions over a periph I2C bus
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

package smbus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sigurn/crc8"
	"periph.io/x/conn/v3/i2c"
)

const (
	defaultAttempts      = 3
	defaultRetryInterval = 20 * time.Millisecond
	maxBlockLen          = 32
)

var ErrBadPEC = errors.New("smbus: PEC mismatch")

var pecTable = crc8.MakeTable(crc8.CRC8)

var sleepFn = time.Sleep

// Device is a single SMBus target. Words are little endian as SMBus
// requires. When PEC is set a CRC-8 packet error code is appended to writes and
// checked on reads.
type Device struct {
	Addr          uint16
	PEC           bool
	Attempts      int
	RetryInterval time.Duration

	mu  sync.Mutex
	bus i2c.Bus
}

func New(bus i2c.Bus, addr uint16) *Device {
	return &Device{
		Addr:          addr,
		Attempts:      defaultAttempts,
		RetryInterval: defaultRetryInterval,
		bus:           bus,
	}
}

func (d *Device) String() string {
	return fmt.Sprintf("%s:0x%02X", d.bus, d.Addr)
}

// ReadWord reads a 16 bit value from command register cmd.
func (d *Device) ReadWord(cmd byte) (uint16, error) {
	n := 2
	if d.PEC {
		n++
	}
	read := make([]byte, n)
	if err := d.tx([]byte{cmd}, read); err != nil {
		return 0, fmt.Errorf("read word 0x%02X: %w", cmd, err)
	}
	if d.PEC {
		if err := d.checkPEC(cmd, read[:2], read[2]); err != nil {
			return 0, fmt.Errorf("read word 0x%02X: %w", cmd, err)
		}
	}
	return uint16(read[0]) | uint16(read[1])<<8, nil
}

// WriteWord writes a 16 bit value to command register cmd.
func (d *Device) WriteWord(cmd byte, val uint16) error {
	write := []byte{cmd, byte(val), byte(val >> 8)}
	if d.PEC {
		write = append(write, d.writePEC(write))
	}
	if err := d.tx(write, nil); err != nil {
		return fmt.Errorf("write word 0x%02X: %w", cmd, err)
	}
	return nil
}

// ReadBlock reads a block whose first byte is its length and returns the data
// without the length byte.
func (d *Device) ReadBlock(cmd byte) ([]byte, error) {
	n := 1 + maxBlockLen
	if d.PEC {
		n++
	}
	read := make([]byte, n)
	if err := d.tx([]byte{cmd}, read); err != nil {
		return nil, fmt.Errorf("read block 0x%02X: %w", cmd, err)
	}
	count := int(read[0])
	if count > maxBlockLen {
		return nil, fmt.Errorf("read block 0x%02X: invalid length %d", cmd, count)
	}
	if d.PEC {
		if err := d.checkPEC(cmd, read[:1+count], read[1+count]); err != nil {
			return nil, fmt.Errorf("read block 0x%02X: %w", cmd, err)
		}
	}
	return read[1 : 1+count], nil
}

// WriteBlock writes data prefixed with its length to command register cmd.
func (d *Device) WriteBlock(cmd byte, data []byte) error {
	if len(data) > maxBlockLen {
		return fmt.Errorf("write block 0x%02X: %d bytes is too long", cmd, len(data))
	}
	write := append([]byte{cmd, byte(len(data))}, data...)
	if d.PEC {
		write = append(write, d.writePEC(write))
	}
	if err := d.tx(write, nil); err != nil {
		return fmt.Errorf("write block 0x%02X: %w", cmd, err)
	}
	return nil
}

func (d *Device) writePEC(write []byte) byte {
	return crc8.Checksum(append([]byte{byte(d.Addr << 1)}, write...), pecTable)
}

func (d *Device) checkPEC(cmd byte, data []byte, received byte) error {
	msg := append([]byte{byte(d.Addr << 1), cmd, byte(d.Addr<<1) | 1}, data...)
	calculated := crc8.Checksum(msg, pecTable)
	if calculated != received {
		return fmt.Errorf("%w: received 0x%02X, calculated 0x%02X", ErrBadPEC, received, calculated)
	}
	return nil
}

func (d *Device) tx(write, read []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	attempts := 0
	for {
		err := d.bus.Tx(d.Addr, write, read)
		if err == nil {
			return nil
		}
		attempts++
		if attempts >= max(d.Attempts, 1) {
			return err
		}
		sleepFn(d.RetryInterval)
	}
}
