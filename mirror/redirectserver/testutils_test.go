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
package redirectserver

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/uber/cloud-mirror/lib/blobstore"
	"github.com/uber/cloud-mirror/lib/fleet"
	"github.com/uber/cloud-mirror/lib/statusstore"
	"github.com/uber/cloud-mirror/lib/workqueue"
	"github.com/uber/cloud-mirror/utils/httputil"
	"github.com/uber/cloud-mirror/utils/testutil"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
)

type serverMocks struct {
	clk      *clock.Mock
	store    *statusstore.LocalStore
	s3       *blobstore.S3Mock
	sqs      *workqueue.SQSMock
	stats    tally.TestScope
	fleet    *fleet.Fleet
	blobSrv  *httptest.Server
	blobMock http.HandlerFunc
	addr     string
}

// newServerFixture starts a redirect server backed by in-memory mocks. The
// pool's public blob endpoint points at a local server which answers 404
// unless a test installs its own handler via blobMock.
func newServerFixture(t *testing.T, config Config, fconfig fleet.Config) *serverMocks {
	require := require.New(t)

	clk := clock.NewMock()
	clk.Set(time.Now())

	mocks := &serverMocks{
		clk:   clk,
		store: statusstore.NewLocalStore(clk),
		s3:    blobstore.NewS3Mock(),
		sqs:   workqueue.NewSQSMock(),
		stats: tally.NewTestScope("", nil),
	}

	mocks.blobSrv = httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			if mocks.blobMock != nil {
				mocks.blobMock(w, r)
				return
			}
			w.WriteHeader(http.StatusNotFound)
		}))
	t.Cleanup(mocks.blobSrv.Close)

	if fconfig.Regions == "" {
		fconfig.Regions = "us-west-1"
	}
	if fconfig.Workers == 0 {
		fconfig.Workers = 1
	}
	if fconfig.URLCheck.AllowedPatterns == nil {
		fconfig.URLCheck.AllowedPatterns = []string{`^https://origin\.example\.com/`}
	}
	if fconfig.URLCheck.RedirectLimit == 0 {
		fconfig.URLCheck.RedirectLimit = 5
	}
	fconfig.Blobstore.PublicEndpoint = mocks.blobSrv.URL

	f, err := fleet.New(fconfig, fleet.AuthConfig{}, mocks.stats,
		fleet.WithClock(clk),
		fleet.WithStore(mocks.store),
		fleet.WithS3(mocks.s3),
		fleet.WithSQS(mocks.sqs))
	require.NoError(err)
	require.NoError(f.Init())
	mocks.fleet = f
	t.Cleanup(f.Stop)

	if config.PollInterval == 0 {
		config.PollInterval = 10 * time.Millisecond
	}
	addr, stop := testutil.StartServer(New(config, mocks.stats, f).Handler())
	t.Cleanup(stop)
	mocks.addr = addr

	return mocks
}

func (m *serverMocks) redirectURL(rawurl string) string {
	return fmt.Sprintf("http://%s/v1/redirect/s3/us-west-1/%s", m.addr, url.PathEscape(rawurl))
}

func (m *serverMocks) purgeURL(rawurl string) string {
	return fmt.Sprintf("http://%s/v1/purge/s3/us-west-1/%s", m.addr, url.PathEscape(rawurl))
}

// publicURL mirrors what the pool's blob client renders for rawurl.
func (m *serverMocks) publicURL(rawurl string) string {
	u := url.URL{Path: "/" + rawurl}
	return m.blobSrv.URL + u.String()
}

// sendNoFollow issues a request and returns the response without following
// redirects.
func sendNoFollow(method, url string, codes ...int) (*http.Response, error) {
	opts := []httputil.SendOption{
		httputil.SendRedirect(func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}),
	}
	if len(codes) > 0 {
		opts = append(opts, httputil.SendAcceptedCodes(codes...))
	}
	return httputil.Send(method, url, opts...)
}
