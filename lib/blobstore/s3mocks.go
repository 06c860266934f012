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
package blobstore

import (
	"bytes"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3Mock is an in-memory S3 implementation for testing.
type S3Mock struct {
	mu sync.Mutex

	// UploadErr, if set, fails every upload.
	UploadErr error

	objects   map[string]*mockObject
	buckets   map[string]bool
	lifecycle map[string]*s3.BucketLifecycleConfiguration
}

type mockObject struct {
	data     []byte
	input    *s3manager.UploadInput
	metadata map[string]string
}

// NewS3Mock returns a new S3Mock.
func NewS3Mock() *S3Mock {
	return &S3Mock{
		objects:   make(map[string]*mockObject),
		buckets:   make(map[string]bool),
		lifecycle: make(map[string]*s3.BucketLifecycleConfiguration),
	}
}

// Object returns the stored bytes and upload input for key.
func (m *S3Mock) Object(key string) ([]byte, *s3manager.UploadInput) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[key]
	if !ok {
		return nil, nil
	}
	return o.data, o.input
}

// Lifecycle returns the lifecycle configuration installed on bucket.
func (m *S3Mock) Lifecycle(bucket string) *s3.BucketLifecycleConfiguration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lifecycle[bucket]
}

// CreateBucket implements S3.
func (m *S3Mock) CreateBucket(input *s3.CreateBucketInput) (*s3.CreateBucketOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.buckets[*input.Bucket] {
		return nil, awserr.New(s3.ErrCodeBucketAlreadyOwnedByYou, "already owned", nil)
	}
	m.buckets[*input.Bucket] = true
	return &s3.CreateBucketOutput{}, nil
}

// PutBucketLifecycleConfiguration implements S3.
func (m *S3Mock) PutBucketLifecycleConfiguration(
	input *s3.PutBucketLifecycleConfigurationInput) (*s3.PutBucketLifecycleConfigurationOutput, error) {

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lifecycle[*input.Bucket] = input.LifecycleConfiguration
	return &s3.PutBucketLifecycleConfigurationOutput{}, nil
}

// UploadWithContext implements S3.
func (m *S3Mock) UploadWithContext(
	ctx aws.Context,
	input *s3manager.UploadInput,
	options ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {

	if m.UploadErr != nil {
		return nil, m.UploadErr
	}
	var buf bytes.Buffer
	chunk := make([]byte, 4096)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := input.Body.Read(chunk)
		buf.Write(chunk[:n])
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[*input.Key] = &mockObject{data: buf.Bytes(), input: input}
	return &s3manager.UploadOutput{}, nil
}

// HeadObject implements S3.
func (m *S3Mock) HeadObject(input *s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[*input.Key]
	if !ok {
		return nil, awserr.New("NotFound", "not found", nil)
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(o.data))),
		ETag:          aws.String(`"mock-etag"`),
		Expiration:    aws.String(`expiry-date="Fri, 21 Dec 2032 00:00:00 GMT", rule-id="cloud-mirror-expiry"`),
	}, nil
}

// DeleteObject implements S3.
func (m *S3Mock) DeleteObject(input *s3.DeleteObjectInput) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}
