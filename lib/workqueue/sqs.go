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
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
)

// SQS defines the operations we use in the sqs api. Useful for mocking.
type SQS interface {
	CreateQueue(input *sqs.CreateQueueInput) (*sqs.CreateQueueOutput, error)
	GetQueueAttributes(input *sqs.GetQueueAttributesInput) (*sqs.GetQueueAttributesOutput, error)
	SendMessage(input *sqs.SendMessageInput) (*sqs.SendMessageOutput, error)
	ReceiveMessage(input *sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error)
	ChangeMessageVisibility(
		input *sqs.ChangeMessageVisibilityInput) (*sqs.ChangeMessageVisibilityOutput, error)
	DeleteMessage(input *sqs.DeleteMessageInput) (*sqs.DeleteMessageOutput, error)
}

// Queue wraps one region's copy queue and its dead-letter companion.
type Queue struct {
	config  Config
	sqs     SQS
	url     string
	deadURL string
}

// Option allows setting optional Queue parameters.
type Option func(*Queue)

// WithSQS configures a Queue with a custom SQS implementation.
func WithSQS(s SQS) Option {
	return func(q *Queue) { q.sqs = s }
}

// NewQueue creates a new Queue. Init must be called before use.
func NewQueue(config Config, region string, auth AuthConfig, opts ...Option) (*Queue, error) {
	config = config.applyDefaults()
	if config.Name == "" {
		return nil, errors.New("invalid config: name required")
	}
	if config.BatchSize > 10 {
		return nil, errors.New("invalid config: batch_size exceeds sqs limit of 10")
	}

	creds := credentials.NewStaticCredentials(
		auth.SQS.AccessKeyID, auth.SQS.AccessSecretKey, auth.SQS.SessionToken)

	awsConfig := aws.NewConfig().WithRegion(region).WithCredentials(creds)
	if config.Endpoint != "" {
		awsConfig = awsConfig.WithEndpoint(config.Endpoint)
	}
	if config.DisableSSL {
		awsConfig = awsConfig.WithDisableSSL(config.DisableSSL)
	}

	q := &Queue{
		config: config,
		sqs:    sqs.New(session.New(), awsConfig),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Init creates the dead-letter queue first, reads back its identity, then
// creates the primary queue bound to it with the configured redelivery cap.
// Idempotent for unchanged attributes.
func (q *Queue) Init() error {
	deadOut, err := q.sqs.CreateQueue(&sqs.CreateQueueInput{
		QueueName: aws.String(q.config.Name + q.config.DeadLetterSuffix),
	})
	if err != nil {
		return fmt.Errorf("create dead-letter queue: %s", err)
	}
	q.deadURL = *deadOut.QueueUrl

	attrOut, err := q.sqs.GetQueueAttributes(&sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(q.deadURL),
		AttributeNames: []*string{aws.String("QueueArn")},
	})
	if err != nil {
		return fmt.Errorf("get dead-letter queue arn: %s", err)
	}
	deadArn, ok := attrOut.Attributes["QueueArn"]
	if !ok {
		return errors.New("dead-letter queue has no arn")
	}

	redrive, err := json.Marshal(map[string]string{
		"deadLetterTargetArn": *deadArn,
		"maxReceiveCount":     strconv.Itoa(q.config.MaxReceiveCount),
	})
	if err != nil {
		return fmt.Errorf("marshal redrive policy: %s", err)
	}

	out, err := q.sqs.CreateQueue(&sqs.CreateQueueInput{
		QueueName: aws.String(q.config.Name),
		Attributes: map[string]*string{
			"RedrivePolicy": aws.String(string(redrive)),
			"VisibilityTimeout": aws.String(
				strconv.Itoa(int(q.config.VisibilityTimeout.Seconds()))),
		},
	})
	if err != nil {
		return fmt.Errorf("create queue: %s", err)
	}
	q.url = *out.QueueUrl
	return nil
}

// URL returns the primary queue url.
func (q *Queue) URL() string { return q.url }

// DeadURL returns the dead-letter queue url.
func (q *Queue) DeadURL() string { return q.deadURL }

// Send implements Sender.
func (q *Queue) Send(m *Message) error {
	if m == nil {
		return errors.New("nil message")
	}
	if err := m.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %s", err)
	}
	_, err = q.sqs.SendMessage(&sqs.SendMessageInput{
		QueueUrl:    aws.String(q.url),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("send message: %s", err)
	}
	return nil
}

// Depth returns the approximate number of visible and in-flight messages on
// the primary queue.
func (q *Queue) Depth() (visible, inFlight int64, err error) {
	out, err := q.sqs.GetQueueAttributes(&sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(q.url),
		AttributeNames: []*string{
			aws.String("ApproximateNumberOfMessages"),
			aws.String("ApproximateNumberOfMessagesNotVisible"),
		},
	})
	if err != nil {
		return 0, 0, fmt.Errorf("get queue attributes: %s", err)
	}
	parse := func(name string) int64 {
		v, ok := out.Attributes[name]
		if !ok {
			return 0
		}
		n, err := strconv.ParseInt(*v, 10, 64)
		if err != nil {
			return 0
		}
		return n
	}
	return parse("ApproximateNumberOfMessages"),
		parse("ApproximateNumberOfMessagesNotVisible"), nil
}

// fatal codes terminate the process: the operator must fix credentials or
// configuration, redelivery cannot.
var _fatalCodes = map[string]bool{
	"InvalidClientTokenId":        true,
	"UnrecognizedClientException": true,
	"AccessDenied":                true,
	"AccessDeniedException":       true,
	"SignatureDoesNotMatch":       true,
	"InvalidAccessKeyId":          true,
	sqs.ErrCodeQueueDoesNotExist:  true,
}

// IsFatal returns true if err indicates an authentication or API error which
// the process cannot recover from.
func IsFatal(err error) bool {
	awsErr, ok := err.(awserr.Error)
	if !ok {
		return false
	}
	return _fatalCodes[awsErr.Code()]
}
