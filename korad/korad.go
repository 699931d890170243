/*
bm2-bench-controller - Korad KA3005P bench power supply
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

// Package korad drives a Korad KA3005P single channel supply over its USB
// serial interface. The protocol has no terminators, so every command is
// followed by a short quiet period before the next one is accepted.
package korad

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/TheCacophonyProject/bm2-bench-controller/serialhelper"
)

const (
	Model = "KA3005P"

	baudRate     = 9600
	readTimeout  = 500 * time.Millisecond
	commandDelay = 50 * time.Millisecond
	idnPrefix    = "KORAD"
	maxVoltage   = 30.0
	maxCurrent   = 5.0
)

var ErrNotFound = errors.New("no Korad power supply was detected")

var sleepFn = time.Sleep

// Supply is a KA3005P on an open port.
type Supply struct {
	port io.ReadWriter
	name string
}

// New wraps an already open port.
func New(port io.ReadWriter, name string) *Supply {
	return &Supply{port: port, name: name}
}

// Open opens and locks the supply on the given device. An empty path scans the
// USB serial devices for one answering *IDN? as a Korad.
func Open(path string) (*Supply, error) {
	if path == "" {
		return Find(serialhelper.Candidates())
	}
	p, err := serialhelper.Open(path, baudRate, readTimeout)
	if err != nil {
		return nil, err
	}
	return New(p, path), nil
}

// Find returns the first supply found on the candidate ports. Ports held by
// another handle are skipped.
func Find(candidates []string) (*Supply, error) {
	for _, path := range candidates {
		p, err := serialhelper.Open(path, baudRate, readTimeout)
		if err != nil {
			log.Debugf("Skipping %s: %v", path, err)
			continue
		}
		s := New(p, path)
		idn, err := s.Identify()
		if err == nil && strings.HasPrefix(idn, idnPrefix) {
			log.Infof("Found '%s' on %s", idn, path)
			return s, nil
		}
		log.Debugf("%s is not a Korad supply (%q, %v)", path, idn, err)
		p.Close()
	}
	return nil, ErrNotFound
}

func (s *Supply) String() string {
	return fmt.Sprintf("%s(%s)", Model, s.name)
}

func (s *Supply) Identify() (string, error) {
	return s.query("*IDN?", 0)
}

func (s *Supply) SetVoltage(volts float64) error {
	if volts < 0 || volts > maxVoltage {
		return fmt.Errorf("voltage %.2fV out of range", volts)
	}
	return s.command(fmt.Sprintf("VSET1:%05.2f", volts))
}

func (s *Supply) SetCurrent(amps float64) error {
	if amps < 0 || amps > maxCurrent {
		return fmt.Errorf("current %.3fA out of range", amps)
	}
	return s.command(fmt.Sprintf("ISET1:%05.3f", amps))
}

func (s *Supply) OutputOn() error {
	return s.command("OUT1")
}

func (s *Supply) OutputOff() error {
	return s.command("OUT0")
}

// OutputVoltage reads back the measured output voltage.
func (s *Supply) OutputVoltage() (float64, error) {
	return s.queryFloat("VOUT1?", 5)
}

// OutputCurrent reads back the measured output current.
func (s *Supply) OutputCurrent() (float64, error) {
	return s.queryFloat("IOUT1?", 5)
}

func (s *Supply) Close() error {
	if c, ok := s.port.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *Supply) command(cmd string) error {
	log.Debugf("%s <- %s", s, cmd)
	n, err := s.port.Write([]byte(cmd))
	if err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	if n != len(cmd) {
		return fmt.Errorf("%s: wrote %d bytes, expected %d", cmd, n, len(cmd))
	}
	sleepFn(commandDelay)
	return nil
}

// query sends cmd and reads the reply. With want > 0 it stops after that many
// bytes, otherwise it reads until the port goes quiet.
func (s *Supply) query(cmd string, want int) (string, error) {
	if err := s.command(cmd); err != nil {
		return "", err
	}
	var reply []byte
	buf := make([]byte, 64)
	for want <= 0 || len(reply) < want {
		n, err := s.port.Read(buf)
		reply = append(reply, buf[:n]...)
		if err == io.EOF || n == 0 {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%s: %w", cmd, err)
		}
	}
	if len(reply) == 0 {
		return "", fmt.Errorf("%s: no response", cmd)
	}
	return strings.TrimSpace(string(reply)), nil
}

func (s *Supply) queryFloat(cmd string, want int) (float64, error) {
	reply, err := s.query(cmd, want)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(reply, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: bad response %q", cmd, reply)
	}
	return v, nil
}
