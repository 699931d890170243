/*
bm2-bench-controller - MQTT telemetry
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

// Package mqttpub publishes learning cycle telemetry and phase changes to an
// MQTT broker.
package mqttpub

import (
	"encoding/json"
	"time"

	"github.com/TheCacophonyProject/bm2-bench-controller/cycle"
	"github.com/TheCacophonyProject/bm2-bench-controller/logging"
	"github.com/TheCacophonyProject/bm2-bench-controller/telemetry"
)

const DefaultTopic = "bench/bm2/learning-cycle"

var log = logging.NewLogger("info")

func SetLogger(l *logging.Logger) {
	log = l
}

// Publisher sends payloads to a broker.
type Publisher interface {
	Publish(topic string, payload []byte) error
	Close() error
}

// TelemetryPayload is published once per valid tick.
type TelemetryPayload struct {
	Phase          string             `json:"phase"`
	ElapsedSeconds float64            `json:"elapsedSeconds"`
	Snapshot       telemetry.Snapshot `json:"snapshot"`
}

// PhasePayload is published on every phase change.
type PhasePayload struct {
	Timestamp string `json:"timestamp"`
	From      string `json:"from"`
	To        string `json:"to"`
	VoltageMV uint16 `json:"voltageMV"`
	MaxError  uint16 `json:"maxError"`
}

func FormatTelemetry(elapsed time.Duration, phase cycle.Phase, snap telemetry.Snapshot) ([]byte, error) {
	return json.Marshal(TelemetryPayload{
		Phase:          phase.String(),
		ElapsedSeconds: elapsed.Seconds(),
		Snapshot:       snap,
	})
}

func FormatPhase(from, to cycle.Phase, snap telemetry.Snapshot) ([]byte, error) {
	return json.Marshal(PhasePayload{
		Timestamp: snap.Timestamp.UTC().Format(time.RFC3339),
		From:      from.String(),
		To:        to.String(),
		VoltageMV: snap.VoltageMV,
		MaxError:  snap.MaxError,
	})
}

// Observer publishes what the controller reports. Publish failures are logged
// and never stop the cycle.
type Observer struct {
	pub   Publisher
	topic string
}

func NewObserver(pub Publisher, topic string) *Observer {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Observer{pub: pub, topic: topic}
}

func (o *Observer) TelemetryTopic() string {
	return o.topic + "/telemetry"
}

func (o *Observer) PhaseTopic() string {
	return o.topic + "/phase"
}

func (o *Observer) Telemetry(elapsed time.Duration, phase cycle.Phase, snap telemetry.Snapshot) {
	payload, err := FormatTelemetry(elapsed, phase, snap)
	if err != nil {
		log.Errorf("Failed to format telemetry: %v", err)
		return
	}
	if err := o.pub.Publish(o.TelemetryTopic(), payload); err != nil {
		log.Warnf("Failed to publish telemetry: %v", err)
	}
}

func (o *Observer) PhaseChanged(from, to cycle.Phase, snap telemetry.Snapshot) {
	payload, err := FormatPhase(from, to, snap)
	if err != nil {
		log.Errorf("Failed to format phase change: %v", err)
		return
	}
	if err := o.pub.Publish(o.PhaseTopic(), payload); err != nil {
		log.Warnf("Failed to publish phase change: %v", err)
	}
}
