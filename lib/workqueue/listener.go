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
package workqueue

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/uber/cloud-mirror/utils/log"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/cenkalti/backoff"
	"github.com/uber-go/tally"
	"go.uber.org/atomic"
)

// Listener is a long-lived queue consumer. Messages are processed
// concurrently within a batch; a message is acked only when its handler
// succeeds, so failures ride the queue's redelivery path until they
// dead-letter.
type Listener struct {
	queue   *Queue
	stats   tally.Scope
	stopped *atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewListener creates a new Listener on q.
func NewListener(q *Queue, stats tally.Scope) *Listener {
	return &Listener{
		queue:   q,
		stats:   stats.SubScope("queue"),
		stopped: atomic.NewBool(false),
		done:    make(chan struct{}),
	}
}

// Stop halts the receive loop and waits for in-flight handlers.
func (l *Listener) Stop() {
	if l.stopped.Swap(true) {
		return
	}
	close(l.done)
	l.wg.Wait()
}

// Run consumes the primary queue until Stop is called. Returns a non-nil
// error only on fatal queue API failures, which must terminate the process.
func (l *Listener) Run(h Handler) error {
	return l.consume(l.queue.url, func(msg *sqs.Message) bool {
		var m Message
		if err := json.Unmarshal([]byte(aws.StringValue(msg.Body)), &m); err != nil {
			log.With("body", aws.StringValue(msg.Body)).Errorf("Error parsing job: %s", err)
			l.stats.Counter("payload-errors").Inc(1)
			// Unacked. The message keeps riding redelivery until it
			// dead-letters, where the payload is preserved for inspection.
			return false
		}
		if err := m.Validate(); err != nil {
			log.With("body", aws.StringValue(msg.Body)).Errorf("Invalid job: %s", err)
			l.stats.Counter("payload-errors").Inc(1)
			return false
		}
		if err := h(&m); err != nil {
			log.With("id", m.ID, "url", m.URL).Errorf("Error processing job: %s", err)
			return false
		}
		return true
	})
}

// RunDead drains the dead-letter queue until Stop is called. Bodies are
// passed raw and always acked; the dead-letter queue exists for observability,
// not retry.
func (l *Listener) RunDead(h DeadHandler) error {
	return l.consume(l.queue.deadURL, func(msg *sqs.Message) bool {
		l.stats.Counter("dead-letters").Inc(1)
		h(aws.StringValue(msg.Body))
		return true
	})
}

// extendLease keeps msg invisible while its handler runs. A copy can outlive
// the queue's visibility timeout by hours; without extension the message is
// redelivered mid-flight, declined on the single-flight lock, and the wasted
// receives count toward the dead-letter cap. The returned release must be
// called when the handler finishes, failed or not, so redelivery of failures
// is not delayed.
func (l *Listener) extendLease(url string, msg *sqs.Message) (release func()) {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(l.queue.config.VisibilityTimeout / 2)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if _, err := l.queue.sqs.ChangeMessageVisibility(
					&sqs.ChangeMessageVisibilityInput{
						QueueUrl:      aws.String(url),
						ReceiptHandle: msg.ReceiptHandle,
						VisibilityTimeout: aws.Int64(
							int64(l.queue.config.VisibilityTimeout.Seconds())),
					}); err != nil {
					log.Errorf("Error extending message lease: %s", err)
				}
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

func (l *Listener) consume(url string, process func(*sqs.Message) bool) error {
	if url == "" {
		return fmt.Errorf("queue not initialized")
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     time.Second,
		RandomizationFactor: 0.5,
		Multiplier:          2,
		MaxInterval:         time.Minute,
		MaxElapsedTime:      0, // Retry transient receive errors forever.
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	for {
		select {
		case <-l.done:
			return nil
		default:
		}

		out, err := l.queue.sqs.ReceiveMessage(&sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(url),
			MaxNumberOfMessages: aws.Int64(l.queue.config.BatchSize),
			WaitTimeSeconds:     aws.Int64(int64(l.queue.config.WaitTime.Seconds())),
		})
		if err != nil {
			if IsFatal(err) {
				return fmt.Errorf("receive: %s", err)
			}
			d := b.NextBackOff()
			log.Errorf("Transient receive error (retrying in %s): %s", d, err)
			select {
			case <-l.done:
				return nil
			case <-time.After(d):
			}
			continue
		}
		b.Reset()

		for _, msg := range out.Messages {
			msg := msg
			l.wg.Add(1)
			go func() {
				defer l.wg.Done()
				release := l.extendLease(url, msg)
				ok := process(msg)
				release()
				if !ok {
					return
				}
				if _, err := l.queue.sqs.DeleteMessage(&sqs.DeleteMessageInput{
					QueueUrl:      aws.String(url),
					ReceiptHandle: msg.ReceiptHandle,
				}); err != nil {
					log.Errorf("Error acking message: %s", err)
				}
			}()
		}
		// Wait for the batch so a slow handler cannot pile up receives
		// beyond the configured concurrency.
		l.wg.Wait()
	}
}
