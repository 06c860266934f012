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
package cachemanager

import (
	"testing"
	"time"

	"github.com/uber/cloud-mirror/lib/blobstore"
	"github.com/uber/cloud-mirror/lib/statusstore"
	"github.com/uber/cloud-mirror/lib/urlcheck"
	"github.com/uber/cloud-mirror/lib/workqueue"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
)

const (
	_testService = "s3"
	_testRegion  = "us-west-1"
	_testBucket  = "cloud-mirror-us-west-1"
)

// fakeBlobs is the real blob client with a redirectable public url, so tests
// can point backfill probes at a local server.
type fakeBlobs struct {
	*blobstore.Client
	publicURL string
}

func (f *fakeBlobs) PublicURL(name string) string {
	if f.publicURL != "" {
		return f.publicURL
	}
	return f.Client.PublicURL(name)
}

type managerMocks struct {
	clk   *clock.Mock
	store *statusstore.LocalStore
	s3    *blobstore.S3Mock
	blobs *fakeBlobs
	sqs   *workqueue.SQSMock
	queue *workqueue.Queue
	stats tally.TestScope
}

func newManagerFixture(
	t *testing.T, config Config, patterns ...string) (*Manager, *managerMocks) {

	require := require.New(t)

	clk := clock.NewMock()
	clk.Set(time.Now())

	store := statusstore.NewLocalStore(clk)

	s3 := blobstore.NewS3Mock()
	client, err := blobstore.NewClient(blobstore.Config{
		Region: _testRegion,
		Bucket: _testBucket,
	}, blobstore.AuthConfig{}, blobstore.WithS3(s3))
	require.NoError(err)
	blobs := &fakeBlobs{Client: client}

	sqsMock := workqueue.NewSQSMock()
	queue, err := workqueue.NewQueue(
		workqueue.Config{Name: _testBucket},
		_testRegion,
		workqueue.AuthConfig{},
		workqueue.WithSQS(sqsMock))
	require.NoError(err)
	require.NoError(queue.Init())

	if len(patterns) == 0 {
		patterns = []string{`^https://origin\.example\.com/`}
	}
	validator, err := urlcheck.New(urlcheck.Config{
		AllowedPatterns: patterns,
		RedirectLimit:   5,
	})
	require.NoError(err)

	stats := tally.NewTestScope("", nil)

	m, err := New(
		config,
		_testService,
		_testRegion,
		store,
		blobs,
		queue,
		validator,
		stats,
		WithClock(clk))
	require.NoError(err)

	return m, &managerMocks{
		clk:   clk,
		store: store,
		s3:    s3,
		blobs: blobs,
		sqs:   sqsMock,
		queue: queue,
		stats: stats,
	}
}

func counterValue(stats tally.TestScope, name string) int64 {
	c, ok := stats.Snapshot().Counters()[name+"+"]
	if !ok {
		return 0
	}
	return c.Value()
}
