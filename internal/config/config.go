/*
bm2-bench-controller - Configuration
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

// Package config loads the bench controller's TOML configuration. Every
// section starts from its defaults and only keys present in the file
// override them.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"
	"unicode/utf8"

	"github.com/TheCacophonyProject/bm2-bench-controller/cycle"
	"github.com/TheCacophonyProject/bm2-bench-controller/relay"
	"github.com/spf13/viper"
)

const DefaultConfigFile = "/etc/cacophony/bm2-bench.toml"

const (
	CycleKey   = "cycle"
	MonitorKey = "monitor"
	SupplyKey  = "supply"
	LoadKey    = "load"
	RelayKey   = "relay"
	OutputKey  = "output"
	MQTTKey    = "mqtt"
	EventsKey  = "events"
	DBusKey    = "dbus"
)

// Supported instrument models.
const (
	MonitorBQ34Z651 = "bq34z651"
	SupplyKA3005P   = "ka3005p"
	LoadM9711       = "m9711"
)

type Cycle struct {
	DischargeCurrent         float64        `mapstructure:"discharge-current"`
	ChargeCurrent            float64        `mapstructure:"charge-current"`
	ChargeVoltage            float64        `mapstructure:"charge-voltage"`
	RestDuration             time.Duration  `mapstructure:"rest-duration"`
	PollInterval             time.Duration  `mapstructure:"poll-interval"`
	MessagePeriod            time.Duration  `mapstructure:"message-period"`
	DebounceThreshold        int            `mapstructure:"debounce-threshold"`
	PhaseDebounce            map[string]int `mapstructure:"phase-debounce"`
	TerminationCellMV        int            `mapstructure:"termination-cell-mv"`
	CellImbalanceLimitMV     int            `mapstructure:"cell-imbalance-limit-mv"`
	ChargeVoltageToleranceMV int            `mapstructure:"charge-voltage-tolerance-mv"`
	VokMaxError              uint16         `mapstructure:"vok-max-error"`
	FinalMaxError            uint16         `mapstructure:"final-max-error"`
	QmaxUpdateStatus         uint8          `mapstructure:"qmax-update-status"`
	RaUpdateStatus           uint8          `mapstructure:"ra-update-status"`
}

func DefaultCycle() Cycle {
	s := cycle.DefaultSettings()
	return Cycle{
		DischargeCurrent:         s.DischargeCurrent,
		ChargeCurrent:            s.ChargeCurrent,
		ChargeVoltage:            s.ChargeVoltage,
		RestDuration:             s.RestDuration,
		PollInterval:             s.PollInterval,
		MessagePeriod:            s.MessagePeriod,
		DebounceThreshold:        s.DebounceThreshold,
		TerminationCellMV:        s.TerminationCellMV,
		CellImbalanceLimitMV:     s.CellImbalanceLimitMV,
		ChargeVoltageToleranceMV: s.ChargeVoltageToleranceMV,
		VokMaxError:              s.VokMaxError,
		FinalMaxError:            s.FinalMaxError,
		QmaxUpdateStatus:         s.QmaxUpdateStatus,
		RaUpdateStatus:           s.RaUpdateStatus,
	}
}

type Monitor struct {
	Model   string `mapstructure:"model"`
	Bus     string `mapstructure:"i2c-bus"`
	Address uint16 `mapstructure:"address"`
	PEC     bool   `mapstructure:"pec"`
}

func DefaultMonitor() Monitor {
	return Monitor{Model: MonitorBQ34Z651, Bus: "1", Address: 0x0B}
}

// Supply is the bench power supply. An empty Port is autodetected.
type Supply struct {
	Model string `mapstructure:"model"`
	Port  string `mapstructure:"port"`
}

func DefaultSupply() Supply {
	return Supply{Model: SupplyKA3005P}
}

type Load struct {
	Model   string `mapstructure:"model"`
	Port    string `mapstructure:"port"`
	SlaveID byte   `mapstructure:"slave-id"`
}

func DefaultLoad() Load {
	return Load{Model: LoadM9711, Port: "/dev/ttyUSB0", SlaveID: 1}
}

type Relay struct {
	Backend   string `mapstructure:"backend"`
	Pin       string `mapstructure:"pin"`
	ActiveLow bool   `mapstructure:"active-low"`
}

func DefaultRelay() Relay {
	return Relay{Backend: relay.BackendPeriph, Pin: "GPIO17"}
}

type Output struct {
	Dir       string `mapstructure:"dir"`
	Delimiter string `mapstructure:"delimiter"`
}

func DefaultOutput() Output {
	return Output{Dir: ".", Delimiter: "\t"}
}

type MQTT struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client-id"`
	Topic    string `mapstructure:"topic"`
}

func DefaultMQTT() MQTT {
	return MQTT{
		Broker:   "tcp://localhost:1883",
		ClientID: "bm2-bench-controller",
		Topic:    "bench/bm2/learning-cycle",
	}
}

type Events struct {
	Enabled bool `mapstructure:"enabled"`
}

type DBus struct {
	Enabled bool `mapstructure:"enabled"`
}

type Config struct {
	Cycle   Cycle
	Monitor Monitor
	Supply  Supply
	Load    Load
	Relay   Relay
	Output  Output
	MQTT    MQTT
	Events  Events
	DBus    DBus
}

func Default() *Config {
	return &Config{
		Cycle:   DefaultCycle(),
		Monitor: DefaultMonitor(),
		Supply:  DefaultSupply(),
		Load:    DefaultLoad(),
		Relay:   DefaultRelay(),
		Output:  DefaultOutput(),
		MQTT:    DefaultMQTT(),
	}
}

// Load reads path and validates the result. A missing DefaultConfigFile gives
// the defaults; any other missing file is an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFile
	}
	c := Default()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == DefaultConfigFile {
		return c, c.Validate()
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", cycle.ErrConfiguration, path, err)
	}

	sections := []struct {
		key string
		out interface{}
	}{
		{CycleKey, &c.Cycle},
		{MonitorKey, &c.Monitor},
		{SupplyKey, &c.Supply},
		{LoadKey, &c.Load},
		{RelayKey, &c.Relay},
		{OutputKey, &c.Output},
		{MQTTKey, &c.MQTT},
		{EventsKey, &c.Events},
		{DBusKey, &c.DBus},
	}
	for _, s := range sections {
		if !v.IsSet(s.key) {
			continue
		}
		if err := v.UnmarshalKey(s.key, s.out); err != nil {
			return nil, fmt.Errorf("%w: section [%s]: %w", cycle.ErrConfiguration, s.key, err)
		}
	}
	return c, c.Validate()
}

// Validate checks everything that can be checked without hardware.
func (c *Config) Validate() error {
	if c.Monitor.Model != MonitorBQ34Z651 {
		return fmt.Errorf("%w: unsupported battery monitor '%s'", cycle.ErrConfiguration, c.Monitor.Model)
	}
	if c.Supply.Model != SupplyKA3005P {
		return fmt.Errorf("%w: unsupported power supply '%s'", cycle.ErrConfiguration, c.Supply.Model)
	}
	if c.Load.Model != LoadM9711 {
		return fmt.Errorf("%w: unsupported DC load '%s'", cycle.ErrConfiguration, c.Load.Model)
	}
	if c.Load.Port == "" {
		return fmt.Errorf("%w: no DC load port", cycle.ErrConfiguration)
	}
	if c.Load.Port == c.Supply.Port {
		return fmt.Errorf("%w: power supply and DC load both on %s", cycle.ErrConfiguration, c.Load.Port)
	}
	switch c.Relay.Backend {
	case relay.BackendPeriph, relay.BackendGPIOCdev:
	default:
		return fmt.Errorf("%w: unknown relay backend '%s'", cycle.ErrConfiguration, c.Relay.Backend)
	}
	if c.Relay.Pin == "" {
		return fmt.Errorf("%w: no relay pin", cycle.ErrConfiguration)
	}
	if utf8.RuneCountInString(c.Output.Delimiter) != 1 {
		return fmt.Errorf("%w: delimiter must be a single character, got %q", cycle.ErrConfiguration, c.Output.Delimiter)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("%w: mqtt enabled without a broker", cycle.ErrConfiguration)
	}
	s, err := c.Settings()
	if err != nil {
		return err
	}
	return s.Validate()
}

// Delimiter is the cycle log's column separator.
func (c *Config) Delimiter() rune {
	r, _ := utf8.DecodeRuneInString(c.Output.Delimiter)
	return r
}

func (c *Config) Settings() (cycle.Settings, error) {
	cc := c.Cycle
	s := cycle.Settings{
		DischargeCurrent:         cc.DischargeCurrent,
		ChargeCurrent:            cc.ChargeCurrent,
		ChargeVoltage:            cc.ChargeVoltage,
		RestDuration:             cc.RestDuration,
		PollInterval:             cc.PollInterval,
		MessagePeriod:            cc.MessagePeriod,
		DebounceThreshold:        cc.DebounceThreshold,
		TerminationCellMV:        cc.TerminationCellMV,
		CellImbalanceLimitMV:     cc.CellImbalanceLimitMV,
		ChargeVoltageToleranceMV: cc.ChargeVoltageToleranceMV,
		VokMaxError:              cc.VokMaxError,
		FinalMaxError:            cc.FinalMaxError,
		QmaxUpdateStatus:         cc.QmaxUpdateStatus,
		RaUpdateStatus:           cc.RaUpdateStatus,
	}
	if len(cc.PhaseDebounce) > 0 {
		s.PhaseDebounce = map[cycle.Phase]int{}
	}
	for name, threshold := range cc.PhaseDebounce {
		p, err := cycle.ParsePhase(name)
		if err != nil {
			return s, fmt.Errorf("%w: phase-debounce: %w", cycle.ErrConfiguration, err)
		}
		s.PhaseDebounce[p] = threshold
	}
	return s, nil
}
