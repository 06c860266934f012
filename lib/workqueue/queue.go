// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package workqueue coordinates copy jobs between the redirect front end and
// the copy workers. The queue provides redelivery with a cap; messages which
// exceed the cap overflow into a dead-letter queue which is drained for
// observability only.
package workqueue

import (
	"errors"
	"fmt"
)

// Message is a copy job. Producers only ever enqueue "put" actions; the
// action field exists so poisoned or foreign payloads are identifiable in
// the dead-letter queue.
type Message struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Action string `json:"action"`
}

// Validate returns an error if m is not a well-formed copy job.
func (m *Message) Validate() error {
	if m.ID == "" {
		return errors.New("message missing id")
	}
	if m.URL == "" {
		return errors.New("message missing url")
	}
	if m.Action != "put" {
		return fmt.Errorf("message has unknown action %q", m.Action)
	}
	return nil
}

// Sender enqueues copy jobs.
type Sender interface {
	Send(m *Message) error
}

// Handler processes a single copy job. A nil return acks the message; an
// error leaves it unacked so the queue redelivers it.
type Handler func(m *Message) error

// DeadHandler observes a raw dead-lettered body. Raw because a parse failure
// may be what dead-lettered the message in the first place.
type DeadHandler func(body string)
