/*
bm2-bench-controller - Battery bench controller
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

package main

import (
	"fmt"
	"os"

	benchsmbus "github.com/TheCacophonyProject/bm2-bench-controller/internal/bench-smbus"
	learningcycle "github.com/TheCacophonyProject/bm2-bench-controller/internal/learning-cycle"
	serialhelper "github.com/TheCacophonyProject/bm2-bench-controller/internal/serial-helper"
	"github.com/TheCacophonyProject/bm2-bench-controller/logging"
)

var log *logging.Logger

func main() {
	err := runMain()
	if err != nil {
		log.Fatal(err)
	}
}

var version = "<not set>"

func runMain() error {
	log = logging.NewLogger("info")
	if len(os.Args) < 2 {
		log.Info("Usage: bench-controller <learning-cycle|smbus|serial-helper> [args]")
		return fmt.Errorf("no subcommand given")
	}

	subcommand := os.Args[1]
	args := os.Args[2:]

	var err error
	switch subcommand {
	case "learning-cycle":
		err = learningcycle.Run(args, version)
	case "smbus":
		err = benchsmbus.Run(args, version)
	case "serial-helper":
		err = serialhelper.Run(args, version)
	default:
		err = fmt.Errorf("unknown subcommand: %s", subcommand)
	}

	return err
}
