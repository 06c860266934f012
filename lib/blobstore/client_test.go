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
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/uber/cloud-mirror/utils/randutil"

	"github.com/stretchr/testify/require"
)

func clientFixture(t *testing.T, config Config) (*Client, *S3Mock) {
	config.Region = "us-west-1"
	config.Bucket = "cloud-mirror-us-west-1"
	mock := NewS3Mock()
	c, err := NewClient(config, AuthConfig{}, WithS3(mock))
	require.NoError(t, err)
	return c, mock
}

func TestUpload(t *testing.T) {
	require := require.New(t)

	c, mock := clientFixture(t, Config{})

	blob := randutil.Text(256)
	header := http.Header{}
	header.Set("Content-Type", "application/octet-stream")
	header.Set("Content-Encoding", "gzip")
	header.Set("Cache-Control", "max-age=60")
	header.Set("Expires", "Thu, 01 Dec 1994 16:00:00 GMT")

	name := "https://origin.example.com/artifact"
	err := c.Upload(context.Background(), name, bytes.NewReader(blob), header, map[string]string{
		"upstream-url": name,
	})
	require.NoError(err)

	data, input := mock.Object(name)
	require.Equal(blob, data)
	require.Equal("application/octet-stream", *input.ContentType)
	require.Equal("gzip", *input.ContentEncoding)
	require.Nil(input.ContentDisposition)
	require.Equal("public-read", *input.ACL)

	// Metadata keys are namespaced.
	require.Equal(name, *input.Metadata["cloud-mirror-upstream-url"])
}

func TestUploadRequiresContentType(t *testing.T) {
	require := require.New(t)

	c, _ := clientFixture(t, Config{})

	err := c.Upload(
		context.Background(),
		"https://origin.example.com/artifact",
		bytes.NewReader(nil),
		http.Header{},
		nil)
	require.Error(err)
}

func TestUploadWatchdogCancels(t *testing.T) {
	require := require.New(t)

	c, _ := clientFixture(t, Config{UploadTimeout: time.Nanosecond})

	header := http.Header{}
	header.Set("Content-Type", "text/plain")

	err := c.Upload(
		context.Background(),
		"https://origin.example.com/slow",
		slowReader{},
		header,
		nil)
	require.Error(err)
}

// slowReader never finishes producing bytes.
type slowReader struct{}

func (slowReader) Read(p []byte) (int, error) {
	time.Sleep(10 * time.Millisecond)
	if len(p) > 0 {
		p[0] = 'x'
		return 1, nil
	}
	return 0, nil
}

func TestHeadAndDelete(t *testing.T) {
	require := require.New(t)

	c, _ := clientFixture(t, Config{})

	name := "https://origin.example.com/artifact"

	_, err := c.Head(name)
	require.Equal(ErrBlobNotFound, err)

	header := http.Header{}
	header.Set("Content-Type", "text/plain")
	require.NoError(c.Upload(
		context.Background(), name, bytes.NewReader(randutil.Text(16)), header, nil))

	info, err := c.Head(name)
	require.NoError(err)
	require.Equal(int64(16), info.Size)
	require.Contains(info.Expiration, "expiry-date")

	require.NoError(c.Delete(name))
	_, err = c.Head(name)
	require.Equal(ErrBlobNotFound, err)

	// Idempotent.
	require.NoError(c.Delete(name))
}

func TestEnsureBucket(t *testing.T) {
	require := require.New(t)

	c, mock := clientFixture(t, Config{LifespanDays: 14})

	require.NoError(c.EnsureBucket())
	// Second call tolerates the existing bucket.
	require.NoError(c.EnsureBucket())

	lifecycle := mock.Lifecycle("cloud-mirror-us-west-1")
	require.NotNil(lifecycle)
	require.Len(lifecycle.Rules, 1)
	require.Equal(int64(14), *lifecycle.Rules[0].Expiration.Days)
	require.Equal(int64(1), *lifecycle.Rules[0].AbortIncompleteMultipartUpload.DaysAfterInitiation)
}

func TestPublicURL(t *testing.T) {
	require := require.New(t)

	c, _ := clientFixture(t, Config{})

	u := c.PublicURL("https://origin.example.com/artifact")
	require.Equal(
		"https://cloud-mirror-us-west-1.s3-us-west-1.amazonaws.com/https://origin.example.com/artifact",
		u)
}

func TestExpirationDate(t *testing.T) {
	require := require.New(t)

	expiry, err := ExpirationDate(
		`expiry-date="Fri, 21 Dec 2032 00:00:00 GMT", rule-id="cloud-mirror-expiry"`)
	require.NoError(err)
	require.Equal(time.Date(2032, time.December, 21, 0, 0, 0, 0, time.UTC), expiry.UTC())

	_, err = ExpirationDate("garbage")
	require.Error(err)
}
