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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/uber/cloud-mirror/lib/statusstore"
	"github.com/uber/cloud-mirror/lib/urlcheck"
	"github.com/uber/cloud-mirror/utils/httputil"
	"github.com/uber/cloud-mirror/utils/log"

	"github.com/andres-erbsen/clock"
	"github.com/satori/go.uuid"
)

// The status entry written by backfill must expire before the blob itself
// does, else present could point at an evicted object.
const _backfillSafetyMargin = 30 * time.Minute

// Put mirrors rawURL into the pool's bucket. It is the worker entry point
// for dequeued copy jobs. A nil return acks the job; validation failures are
// permanent and thus acked, with the error recorded in the status entry.
func (m *Manager) Put(rawURL string) error {
	key := statusstore.CacheKey(m.poolID, rawURL)
	lock := statusstore.LockKey(key)
	session := uuid.NewV4().String()

	// The lock TTL bounds the stall if this process dies before the release.
	won, err := m.status.PutIfAbsent(lock, session, m.config.CacheTTL)
	if err != nil {
		return fmt.Errorf("acquire copy lock: %s", err)
	}
	if !won {
		m.stats.Counter("concurrent-copy.already-locked").Inc(1)
		log.With("pool", m.poolID, "url", rawURL).Info("Copy already in flight elsewhere, declining")
		return nil
	}
	defer func() {
		if err := m.status.Delete(lock); err != nil {
			log.With("pool", m.poolID, "url", rawURL).Errorf("Error releasing copy lock: %s", err)
		}
	}()

	if err := m.status.Put(key, statusFields(rawURL, StatusPending), m.config.CacheTTL); err != nil {
		return fmt.Errorf("write pending status: %s", err)
	}

	if err := m.copy(session, rawURL); err != nil {
		if derr := m.blobs.Delete(rawURL); derr != nil {
			log.With("pool", m.poolID, "url", rawURL).Errorf("Error cleaning up failed copy: %s", derr)
		}
		fields := statusFields(rawURL, StatusError)
		fields["stack"] = err.Error()
		if perr := m.status.Put(key, fields, m.config.CacheTTL); perr != nil {
			return fmt.Errorf("write error status: %s (copy failed: %s)", perr, err)
		}
		if urlcheck.IsValidationError(err) {
			// Redelivery cannot fix a bad url. The error entry drives what
			// clients see; the job itself is done.
			log.With("pool", m.poolID, "url", rawURL, "session", session).Errorf(
				"Copy failed validation: %s", err)
			return nil
		}
		return err
	}
	return m.status.Put(key, statusFields(rawURL, StatusPresent), m.config.CacheTTL)
}

func (m *Manager) copy(session, rawURL string) error {
	res, err := m.validator.Validate(rawURL)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequest("GET", res.URL, nil)
	if err != nil {
		return fmt.Errorf("create origin request: %s", err)
	}
	req = req.WithContext(ctx)
	req.Header.Set("Accept-Encoding", "*")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("get origin: %s", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return httputil.NewStatusError(resp)
	}

	// A stalled stream cancels the transfer; progress resets the fuse.
	watchdog := m.clk.AfterFunc(m.config.DownloadInactivityTimeout, cancel)
	defer watchdog.Stop()
	body := &activityReader{
		r:       resp.Body,
		timer:   watchdog,
		timeout: m.config.DownloadInactivityTimeout,
	}

	hops, err := json.Marshal(res.Hops)
	if err != nil {
		return fmt.Errorf("marshal hop chain: %s", err)
	}

	header := make(http.Header)
	for _, name := range []string{
		"Content-Type", "Content-Disposition", "Content-Encoding", "Content-MD5",
	} {
		if v := resp.Header.Get(name); v != "" {
			header.Set(name, v)
		}
	}
	if header.Get("Content-Type") == "" {
		header.Set("Content-Type", "application/octet-stream")
	}

	metadata := map[string]string{
		"upstream-etag":           resp.Header.Get("ETag"),
		"upstream-content-length": resp.Header.Get("Content-Length"),
		"upstream-url":            res.URL,
		"stored":                  m.clk.Now().UTC().Format(time.RFC3339),
		"addresses":               string(hops),
	}

	start := m.clk.Now()
	if err := m.blobs.Upload(ctx, rawURL, body, header, metadata); err != nil {
		return fmt.Errorf("upload: %s", err)
	}
	d := m.clk.Now().Sub(start)

	m.stats.Timer("copy-duration-ms").Record(d)
	m.stats.Counter("copy-size-bytes").Inc(body.n)
	if secs := d.Seconds(); secs > 0 {
		m.stats.Gauge("copy-speed-kbps").Update(float64(body.n) / 1024 / secs)
	}
	if cl := resp.ContentLength; cl >= 0 && cl != body.n {
		m.stats.Counter("content-length-mismatch").Inc(1)
		log.With("pool", m.poolID, "url", rawURL, "session", session).Errorf(
			"Copied %d bytes but origin advertised content length %d", body.n, cl)
	}
	log.With(
		"pool", m.poolID,
		"url", rawURL,
		"session", session,
		"bytes", body.n).Infof("Copied in %s", d)
	return nil
}

type activityReader struct {
	r       io.Reader
	timer   *clock.Timer
	timeout time.Duration
	n       int64
}

func (a *activityReader) Read(p []byte) (int, error) {
	n, err := a.r.Read(p)
	if n > 0 {
		a.n += int64(n)
		a.timer.Reset(a.timeout)
	}
	return n, err
}
