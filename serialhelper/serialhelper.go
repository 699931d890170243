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
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/TheCacophonyProject/bm2-bench-controller/logging"
	"github.com/tarm/serial"
)

var log = logging.NewLogger("info")

// SetLogger replaces the package logger.
func SetLogger(l *logging.Logger) {
	log = l
}

// CandidatePatterns are the device nodes USB serial instruments show up as.
var CandidatePatterns = []string{"/dev/ttyUSB*", "/dev/ttyACM*"}

type SerialUnavailableError struct {
	msg string
}

func (e *SerialUnavailableError) Error() string {
	return e.msg
}

func NewSerialUnavailableError(msg string) error {
	return &SerialUnavailableError{msg: msg}
}

// IsUnavailable reports whether err came from a port held by someone else.
func IsUnavailable(err error) bool {
	var e *SerialUnavailableError
	return errors.As(err, &e)
}

// Candidates lists serial device nodes that could hold an instrument.
func Candidates() []string {
	var ports []string
	for _, pattern := range CandidatePatterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		ports = append(ports, matches...)
	}
	sort.Strings(ports)
	return ports
}

// Lock takes an exclusive flock on the serial device at path. The returned
// file must be passed to Release once the port is no longer needed.
func Lock(path string, retries int, wait time.Duration) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|syscall.O_NOCTTY, 0666)
	if err != nil {
		return nil, err
	}
	for i := retries; ; i-- {
		err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			return f, nil
		}
		if errno, ok := err.(syscall.Errno); !ok || errno != syscall.EWOULDBLOCK {
			f.Close()
			return nil, err
		}
		if process, err := getLockingProcess(path); err == nil && process != "" {
			log.Debugf("%s is locked by process: %s", path, process)
		}
		if i <= 0 {
			f.Close()
			return nil, NewSerialUnavailableError(fmt.Sprintf("failed to get lock on %s, might be in use by other process", path))
		}
		log.Debugf("%s is locked, retrying %d more times in %s", path, i, wait)
		time.Sleep(wait)
	}
}

func Release(f *os.File) error {
	if f == nil {
		return nil
	}
	unlockErr := syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	closeErr := f.Close()
	return errors.Join(unlockErr, closeErr)
}

func getLockingProcess(path string) (string, error) {
	cmd := exec.Command("fuser", path)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err != nil {
		if exitError, ok := err.(*exec.ExitError); ok && exitError.ExitCode() == 1 {
			return "", nil
		}
		return "", fmt.Errorf("failed to execute fuser: %v", err)
	}
	return output.String(), nil
}

// Port is an open serial port holding the device lock.
type Port struct {
	*serial.Port
	Name string
	lock *os.File
}

// Open locks the device and opens it 8N1 at the given baud rate.
func Open(path string, baud int, readTimeout time.Duration) (*Port, error) {
	lock, err := Lock(path, 0, 0)
	if err != nil {
		return nil, err
	}
	c := &serial.Config{Name: path, Baud: baud, ReadTimeout: readTimeout}
	p, err := serial.OpenPort(c)
	if err != nil {
		Release(lock)
		return nil, err
	}
	return &Port{Port: p, Name: path, lock: lock}, nil
}

func (p *Port) Close() error {
	closeErr := p.Port.Close()
	return errors.Join(closeErr, Release(p.lock))
}
