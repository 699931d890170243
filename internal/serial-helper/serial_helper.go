/*
bm2-bench-controller - Serial port helper
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
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/TheCacophonyProject/bm2-bench-controller/korad"
	"github.com/TheCacophonyProject/bm2-bench-controller/logging"
	"github.com/TheCacophonyProject/bm2-bench-controller/serialhelper"
	"github.com/alexflint/go-arg"
)

type Args struct {
	List *List `arg:"subcommand:list" help:"List the USB serial ports and whether they are in use."`
	Hold *Hold `arg:"subcommand:hold" help:"Hold the lock on a port, for checking that other tools skip it."`
	logging.LogArgs
}

type List struct {
	Identify bool `arg:"--identify" help:"Ask free ports for a Korad *IDN? reply"`
}

type Hold struct {
	Port     string        `arg:"positional,required" help:"The serial device to lock"`
	Duration time.Duration `arg:"--duration" default:"20s" help:"How long to hold the lock"`
}

var (
	log     = logging.NewLogger("info")
	version = "<not set>"
)

var defaultArgs = Args{}

func procArgs(input []string) (Args, error) {
	args := defaultArgs

	parser, err := arg.NewParser(arg.Config{}, &args)
	if err != nil {
		return Args{}, err
	}
	err = parser.Parse(input)
	if errors.Is(err, arg.ErrHelp) {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if errors.Is(err, arg.ErrVersion) {
		fmt.Println(version)
		os.Exit(0)
	}
	return args, err
}

func Run(inputArgs []string, ver string) error {
	version = ver
	args, err := procArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}
	log = logging.NewLogger(args.LogLevel)
	serialhelper.SetLogger(log)
	korad.SetLogger(log)

	log.Infof("Running version: %s", version)

	switch {
	case args.Hold != nil:
		return hold(args.Hold.Port, args.Hold.Duration)
	case args.List != nil:
		for _, line := range list(serialhelper.Candidates(), args.List.Identify) {
			log.Info(line)
		}
		return nil
	default:
		return errors.New("no subcommand given")
	}
}

// portState describes one port without keeping it open.
func portState(path string, identify bool) string {
	lock, err := serialhelper.Lock(path, 0, 0)
	if serialhelper.IsUnavailable(err) {
		return path + ": in use"
	}
	if err != nil {
		return fmt.Sprintf("%s: %v", path, err)
	}
	serialhelper.Release(lock)
	if !identify {
		return path + ": free"
	}

	s, err := korad.Open(path)
	if err != nil {
		return fmt.Sprintf("%s: free, %v", path, err)
	}
	defer s.Close()
	idn, err := s.Identify()
	if err != nil || !strings.HasPrefix(idn, "KORAD") {
		return path + ": free, not a Korad supply"
	}
	return fmt.Sprintf("%s: free, %s", path, idn)
}

func list(ports []string, identify bool) []string {
	if len(ports) == 0 {
		return []string{"No USB serial ports found"}
	}
	lines := make([]string, 0, len(ports))
	for _, path := range ports {
		lines = append(lines, portState(path, identify))
	}
	return lines
}

var sleepFn = time.Sleep

func hold(path string, d time.Duration) error {
	log.Printf("Locking %s", path)
	lock, err := serialhelper.Lock(path, 3, time.Second)
	if err != nil {
		return err
	}
	log.Println("Lock acquired")
	sleepFn(d)
	log.Println("Releasing lock")
	return serialhelper.Release(lock)
}
