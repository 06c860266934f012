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
package httputil

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/stretchr/testify/require"
)

func TestSendAcceptedCodes(t *testing.T) {
	require := require.New(t)

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer s.Close()

	_, err := Get(s.URL)
	require.Error(err)
	require.True(IsStatus(err, http.StatusAccepted))

	resp, err := Get(s.URL, SendAcceptedCodes(http.StatusOK, http.StatusAccepted))
	require.NoError(err)
	require.Equal(http.StatusAccepted, resp.StatusCode)
}

func TestSendNotFound(t *testing.T) {
	require := require.New(t)

	s := httptest.NewServer(http.NotFoundHandler())
	defer s.Close()

	_, err := Head(s.URL)
	require.Error(err)
	require.True(IsNotFound(err))
}

func TestSendRetry(t *testing.T) {
	require := require.New(t)

	var count int64
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&count, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
	}))
	defer s.Close()

	resp, err := Get(s.URL, SendRetry(RetryBackoff(backoff.NewConstantBackOff(10*time.Millisecond))))
	require.NoError(err)
	require.Equal(http.StatusOK, resp.StatusCode)
	require.Equal(int64(3), atomic.LoadInt64(&count))
}

func TestSendNetworkError(t *testing.T) {
	require := require.New(t)

	_, err := Get("http://localhost:0")
	require.Error(err)
	require.True(IsNetworkError(err))
}

func TestSendRedirectPolicy(t *testing.T) {
	require := require.New(t)

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer s.Close()

	resp, err := Head(s.URL,
		SendRedirect(func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}),
		SendAcceptedCodes(http.StatusFound))
	require.NoError(err)
	require.Equal("/elsewhere", resp.Header.Get("Location"))
}
