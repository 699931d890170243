/*
bm2-bench-controller - Battery monitor SMBus tool
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

package benchsmbus

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/TheCacophonyProject/bm2-bench-controller/bq34z651"
	"github.com/TheCacophonyProject/bm2-bench-controller/logging"
	"github.com/alexflint/go-arg"
)

type Args struct {
	Read         *Read       `arg:"subcommand:read"          help:"Read a word register."`
	Write        *Write      `arg:"subcommand:write"         help:"Write a word register."`
	Telemetry    *subcommand `arg:"subcommand:telemetry"     help:"Read everything the learning cycle logs."`
	ITEnable     *subcommand `arg:"subcommand:it-enable"     help:"Send IT_ENABLE to start Impedance Track learning."`
	UpdateStatus *subcommand `arg:"subcommand:update-status" help:"Read the Impedance Track update status."`
	TaperCurrent *subcommand `arg:"subcommand:taper-current" help:"Read the charge termination taper current."`
	Bus          string      `arg:"--bus" default:"1" help:"I2C bus name"`
	Address      string      `arg:"--address" default:"0x0B" help:"SMBus address of the gauge, in hex (0xnn)"`
	PEC          bool        `arg:"--pec" help:"Use packet error checking"`
	logging.LogArgs
}

type subcommand struct {
}

type Read struct {
	Reg string `arg:"positional,required" help:"The register you want to read, in hex (0xnn)"`
}

type Write struct {
	Reg string `arg:"positional,required" help:"The register you want to write, in hex (0xnn)"`
	Val string `arg:"positional,required" help:"The word you want to write, in hex (0xnnnn)"`
}

var (
	log     = logging.NewLogger("info")
	version = "<not set>"
)

var openMonitor = func(bus string, addr uint16, pec bool) (*bq34z651.Monitor, error) {
	return bq34z651.Open(bus, addr, pec)
}

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

	log.Infof("Running version: %s", version)

	address, err := hexStringToByte(args.Address)
	if err != nil {
		return err
	}
	m, err := openMonitor(args.Bus, uint16(address), args.PEC)
	if err != nil {
		return err
	}
	defer m.Close()

	switch {
	case args.Read != nil:
		return read(m, args.Read)
	case args.Write != nil:
		return write(m, args.Write)
	case args.Telemetry != nil:
		return readTelemetry(m)
	case args.ITEnable != nil:
		if err := m.EnableLearning(); err != nil {
			return err
		}
		log.Info("IT_ENABLE sent")
	case args.UpdateStatus != nil:
		status, err := m.UpdateStatus()
		if err != nil {
			return err
		}
		log.Infof("Update status: 0x%02X", status)
	case args.TaperCurrent != nil:
		taper, err := m.TaperCurrent()
		if err != nil {
			return err
		}
		log.Infof("Taper current: %dmA", taper)
	default:
		return errors.New("no subcommand given")
	}
	return nil
}

func read(m *bq34z651.Monitor, read *Read) error {
	reg, err := hexStringToByte(read.Reg)
	if err != nil {
		return err
	}
	r := bq34z651.Register(reg)
	log.Printf("Reading %s", r)
	v, err := m.ReadRegister(r)
	if err != nil {
		return err
	}
	log.Printf("%s: 0x%04X (%d)", r, v, v)
	return nil
}

func write(m *bq34z651.Monitor, args *Write) error {
	reg, err := hexStringToByte(args.Reg)
	if err != nil {
		return err
	}
	val, err := hexStringToWord(args.Val)
	if err != nil {
		return err
	}
	r := bq34z651.Register(reg)
	log.Printf("Writing 0x%04X to %s", val, r)
	return m.WriteRegister(r, val)
}

func readTelemetry(m *bq34z651.Monitor) error {
	snap, err := m.ReadTelemetry(time.Now())
	if err != nil {
		return err
	}
	log.Printf("Voltage: %dmV, current: %dmA", snap.VoltageMV, snap.CurrentMA)
	log.Printf("Charging voltage: %dmV, charging current: %dmA", snap.ChargingVoltageMV, snap.ChargingCurrentMA)
	log.Printf("Cells: %v mV", snap.CellVoltageMV)
	log.Printf("OperationStatus: 0x%04X %+v", snap.OperationStatus, snap.Flags)
	log.Printf("SafetyAlert: 0x%04X, SafetyStatus: 0x%04X, BatteryStatus: 0x%04X", snap.SafetyAlert, snap.SafetyStatus, snap.BatteryStatus)
	log.Printf("MaxError: %d%%, update status: 0x%02X", snap.MaxError, snap.UpdateStatus)
	return nil
}

func hexStringToByte(hexStr string) (byte, error) {
	v, err := parseHex(hexStr, 8)
	return byte(v), err
}

func hexStringToWord(hexStr string) (uint16, error) {
	v, err := parseHex(hexStr, 16)
	return uint16(v), err
}

func parseHex(hexStr string, bits int) (uint64, error) {
	if want := 2 + bits/4; len(hexStr) != want {
		return 0, fmt.Errorf("invalid hex string length: %d, expected %d", len(hexStr), want)
	}
	if !strings.HasPrefix(hexStr, "0x") {
		return 0, fmt.Errorf("invalid hex string prefix, should be '0x': %s", hexStr)
	}
	return strconv.ParseUint(hexStr[2:], 16, bits)
}
