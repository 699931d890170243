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

package learningcycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/TheCacophonyProject/bm2-bench-controller/cycle"
	"github.com/TheCacophonyProject/bm2-bench-controller/internal/config"
	"github.com/TheCacophonyProject/bm2-bench-controller/korad"
	"github.com/TheCacophonyProject/bm2-bench-controller/logging"
	"github.com/TheCacophonyProject/bm2-bench-controller/maynuo"
	"github.com/TheCacophonyProject/bm2-bench-controller/mqttpub"
	"github.com/TheCacophonyProject/bm2-bench-controller/serialhelper"
	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"
	"github.com/alexflint/go-arg"
)

type Args struct {
	Config string `arg:"-c, --config" help:"TOML config file"`
	Output string `arg:"-o, --output" help:"Cycle log file. Defaults to a timestamped file in the configured output directory"`
	logging.LogArgs
}

var (
	log     = logging.NewLogger("info")
	version = "<not set>"
)

var defaultArgs = Args{
	Config: config.DefaultConfigFile,
}

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
	cycle.SetLogger(log)
	korad.SetLogger(log)
	maynuo.SetLogger(log)
	serialhelper.SetLogger(log)
	mqttpub.SetLogger(log)

	log.Infof("Running version: %s", version)

	cfg, err := config.Load(args.Config)
	if err != nil {
		return err
	}
	settings, err := cfg.Settings()
	if err != nil {
		return err
	}

	start := time.Now()
	logPath := args.Output
	if logPath == "" {
		logPath = defaultLogPath(cfg.Output, start)
	}
	log.Infof("Logging cycle to %s", logPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	status := newStatusTracker(logPath, start)
	observers := cycle.Observers{status}

	var events *eventReporter
	if cfg.Events.Enabled {
		events = newEventReporter(eventclient.AddEvent, start)
		observers = append(observers, events)
	}

	if cfg.MQTT.Enabled {
		pub, err := mqttpub.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID)
		if err != nil {
			log.Warnf("MQTT publishing disabled: %v", err)
		} else {
			defer pub.Close()
			observers = append(observers, mqttpub.NewObserver(pub, cfg.MQTT.Topic))
		}
	}

	if cfg.DBus.Enabled {
		if err := startService(status, cancel); err != nil {
			log.Warnf("Failed to start dbus service: %v", err)
		}
	}

	runner := &cycle.Runner{
		Settings:  settings,
		Openers:   hardwareOpeners(cfg),
		LogPath:   logPath,
		Delimiter: cfg.Delimiter(),
		Observer:  observers,
	}
	err = runner.Run(ctx)
	status.finish(err)
	if events != nil && err != nil {
		events.aborted(status.Get().Phase, err)
	}
	return err
}

func defaultLogPath(out config.Output, start time.Time) string {
	ext := ".tsv"
	if out.Delimiter == "," {
		ext = ".csv"
	}
	return filepath.Join(out.Dir, "learning-cycle-"+start.Format("20060102-150405")+ext)
}
