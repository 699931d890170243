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

package mqttpub

// Message is one publish recorded by FakePublisher.
type Message struct {
	Topic   string
	Payload []byte
}

// FakePublisher records publishes for tests.
type FakePublisher struct {
	Messages []Message
	// PublishError, if set, is returned by Publish.
	PublishError error
	Closed       bool
}

func (f *FakePublisher) Publish(topic string, payload []byte) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Messages = append(f.Messages, Message{Topic: topic, Payload: payload})
	return nil
}

func (f *FakePublisher) Close() error {
	f.Closed = true
	return nil
}
