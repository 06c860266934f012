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
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sqs"
)

// SQSMock is an in-memory SQS implementation for testing. Messages received
// but not deleted are immediately visible again on the next receive, with
// their receive count incremented; messages exceeding the redrive cap move
// to the bound dead-letter queue.
type SQSMock struct {
	mu sync.Mutex

	// ReceiveErr, if set, fails every receive.
	ReceiveErr error

	receiveErrs map[string]error
	queues      map[string]*mockQueue
	extensions  map[string][]string
	nextSeq     int
}

type mockQueue struct {
	name            string
	messages        []*mockMessage
	maxReceiveCount int
	deadURL         string
}

type mockMessage struct {
	body         string
	handle       string
	receiveCount int
}

// NewSQSMock returns a new SQSMock.
func NewSQSMock() *SQSMock {
	return &SQSMock{
		receiveErrs: make(map[string]error),
		queues:      make(map[string]*mockQueue),
		extensions:  make(map[string][]string),
	}
}

// FailReceives fails every subsequent receive on the queue at url with err.
func (m *SQSMock) FailReceives(url string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receiveErrs[url] = err
}

// Extensions returns the receipt handles whose visibility was extended on the
// queue at url, one entry per extension.
func (m *SQSMock) Extensions(url string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.extensions[url]...)
}

func mockURL(name string) string {
	return "https://sqs.mock.amazonaws.com/" + name
}

// Bodies returns the bodies currently visible on the queue at url.
func (m *SQSMock) Bodies(url string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[url]
	if !ok {
		return nil
	}
	var bodies []string
	for _, msg := range q.messages {
		bodies = append(bodies, msg.body)
	}
	return bodies
}

// CreateQueue implements SQS.
func (m *SQSMock) CreateQueue(input *sqs.CreateQueueInput) (*sqs.CreateQueueOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := *input.QueueName
	url := mockURL(name)
	q, ok := m.queues[url]
	if !ok {
		q = &mockQueue{name: name}
		m.queues[url] = q
	}
	if redrive, ok := input.Attributes["RedrivePolicy"]; ok {
		var policy map[string]string
		if err := json.Unmarshal([]byte(*redrive), &policy); err != nil {
			return nil, fmt.Errorf("bad redrive policy: %s", err)
		}
		// The arn encodes the dead-letter queue name (see GetQueueAttributes).
		arn := policy["deadLetterTargetArn"]
		q.deadURL = mockURL(arn[strings.LastIndex(arn, ":")+1:])
		n, err := strconv.Atoi(policy["maxReceiveCount"])
		if err != nil {
			return nil, fmt.Errorf("bad maxReceiveCount: %s", err)
		}
		q.maxReceiveCount = n
	}
	return &sqs.CreateQueueOutput{QueueUrl: aws.String(url)}, nil
}

// GetQueueAttributes implements SQS.
func (m *SQSMock) GetQueueAttributes(
	input *sqs.GetQueueAttributesInput) (*sqs.GetQueueAttributesOutput, error) {

	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[*input.QueueUrl]
	if !ok {
		return nil, fmt.Errorf("queue %s does not exist", *input.QueueUrl)
	}
	return &sqs.GetQueueAttributesOutput{
		Attributes: map[string]*string{
			"QueueArn": aws.String("arn:aws:sqs:mock:000000000000:" + q.name),
			"ApproximateNumberOfMessages": aws.String(
				strconv.Itoa(len(q.messages))),
			"ApproximateNumberOfMessagesNotVisible": aws.String("0"),
		},
	}, nil
}

// SendMessage implements SQS.
func (m *SQSMock) SendMessage(input *sqs.SendMessageInput) (*sqs.SendMessageOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[*input.QueueUrl]
	if !ok {
		return nil, fmt.Errorf("queue %s does not exist", *input.QueueUrl)
	}
	m.nextSeq++
	q.messages = append(q.messages, &mockMessage{
		body:   *input.MessageBody,
		handle: strconv.Itoa(m.nextSeq),
	})
	return &sqs.SendMessageOutput{}, nil
}

// ReceiveMessage implements SQS.
func (m *SQSMock) ReceiveMessage(
	input *sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ReceiveErr != nil {
		return nil, m.ReceiveErr
	}
	if err := m.receiveErrs[*input.QueueUrl]; err != nil {
		return nil, err
	}
	q, ok := m.queues[*input.QueueUrl]
	if !ok {
		return nil, fmt.Errorf("queue %s does not exist", *input.QueueUrl)
	}
	limit := int(aws.Int64Value(input.MaxNumberOfMessages))
	if limit == 0 {
		limit = 1
	}
	var out []*sqs.Message
	var remaining []*mockMessage
	for _, msg := range q.messages {
		if len(out) == limit {
			remaining = append(remaining, msg)
			continue
		}
		msg.receiveCount++
		if q.maxReceiveCount > 0 && msg.receiveCount > q.maxReceiveCount {
			if dead, ok := m.queues[q.deadURL]; ok {
				dead.messages = append(dead.messages, &mockMessage{
					body:   msg.body,
					handle: msg.handle + "-dead",
				})
			}
			continue
		}
		out = append(out, &sqs.Message{
			Body:          aws.String(msg.body),
			ReceiptHandle: aws.String(msg.handle),
		})
		remaining = append(remaining, msg)
	}
	q.messages = remaining
	if len(out) == 0 {
		// Approximate long polling so empty receives do not spin hot.
		m.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		m.mu.Lock()
	}
	return &sqs.ReceiveMessageOutput{Messages: out}, nil
}

// ChangeMessageVisibility implements SQS. The mock has no visibility clock,
// so extensions are only recorded for inspection.
func (m *SQSMock) ChangeMessageVisibility(
	input *sqs.ChangeMessageVisibilityInput) (*sqs.ChangeMessageVisibilityOutput, error) {

	m.mu.Lock()
	defer m.mu.Unlock()
	url := *input.QueueUrl
	if _, ok := m.queues[url]; !ok {
		return nil, fmt.Errorf("queue %s does not exist", url)
	}
	m.extensions[url] = append(m.extensions[url], *input.ReceiptHandle)
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

// DeleteMessage implements SQS.
func (m *SQSMock) DeleteMessage(input *sqs.DeleteMessageInput) (*sqs.DeleteMessageOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[*input.QueueUrl]
	if !ok {
		return nil, fmt.Errorf("queue %s does not exist", *input.QueueUrl)
	}
	var remaining []*mockMessage
	for _, msg := range q.messages {
		if msg.handle != *input.ReceiptHandle {
			remaining = append(remaining, msg)
		}
	}
	q.messages = remaining
	return &sqs.DeleteMessageOutput{}, nil
}
