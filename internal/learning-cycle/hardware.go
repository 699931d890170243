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
	"github.com/TheCacophonyProject/bm2-bench-controller/bq34z651"
	"github.com/TheCacophonyProject/bm2-bench-controller/cycle"
	"github.com/TheCacophonyProject/bm2-bench-controller/internal/config"
	"github.com/TheCacophonyProject/bm2-bench-controller/korad"
	"github.com/TheCacophonyProject/bm2-bench-controller/maynuo"
	"github.com/TheCacophonyProject/bm2-bench-controller/relay"
)

// hardwareOpeners opens the configured bench instruments. Each call gives a
// fresh handle so a device that drops off can be reopened.
func hardwareOpeners(cfg *config.Config) cycle.Openers {
	return cycle.Openers{
		Monitor: func() (cycle.Monitor, error) {
			m, err := bq34z651.Open(cfg.Monitor.Bus, cfg.Monitor.Address, cfg.Monitor.PEC)
			if err != nil {
				return nil, err
			}
			return m, nil
		},
		Supply: func() (cycle.PowerSupply, error) {
			s, err := korad.Open(cfg.Supply.Port)
			if err != nil {
				return nil, err
			}
			log.Infof("Using power supply %s", s)
			return s, nil
		},
		Load: func() (cycle.Load, error) {
			l, err := maynuo.Open(cfg.Load.Port, cfg.Load.SlaveID)
			if err != nil {
				return nil, err
			}
			log.Infof("Using DC load %s", l)
			return l, nil
		},
		Relay: func() (cycle.Relay, error) {
			r, err := relay.Open(cfg.Relay.Backend, cfg.Relay.Pin, cfg.Relay.ActiveLow)
			if err != nil {
				return nil, err
			}
			return r, nil
		},
	}
}
