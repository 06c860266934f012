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

// Package cachemanager coordinates one pool's mirror cache: it answers
// redirect lookups against the status store, enqueues copy jobs, runs the
// copy itself, and purges. It is stateless beyond its injected adapters.
package cachemanager

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"

	"github.com/uber/cloud-mirror/lib/blobstore"
	"github.com/uber/cloud-mirror/lib/statusstore"
	"github.com/uber/cloud-mirror/lib/urlcheck"
	"github.com/uber/cloud-mirror/lib/workqueue"
	"github.com/uber/cloud-mirror/utils/errutil"
	"github.com/uber/cloud-mirror/utils/httputil"
	"github.com/uber/cloud-mirror/utils/log"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
)

// Status is the client-visible state of a mirrored url.
type Status string

// Stored statuses, plus the synthetic absent for a status store miss.
const (
	StatusAbsent  Status = "absent"
	StatusPending Status = "pending"
	StatusPresent Status = "present"
	StatusError   Status = "error"
)

// Redirect is the outcome of a redirect lookup.
type Redirect struct {
	Status Status `json:"status"`
	URL    string `json:"url,omitempty"`
}

// BlobClient is the subset of blobstore.Client the manager uses.
type BlobClient interface {
	Upload(ctx context.Context, name string, src io.Reader, header http.Header, metadata map[string]string) error
	Delete(name string) error
	PublicURL(name string) string
}

var _ BlobClient = (*blobstore.Client)(nil)

// Pool identity tokens are lower-case so the compound id round-trips through
// queue names and bucket names.
var _tokenRe = regexp.MustCompile(`^[a-z0-9-]{1,22}$`)

// Manager implements one pool's cache operations.
type Manager struct {
	config    Config
	service   string
	region    string
	poolID    string
	status    statusstore.Store
	blobs     BlobClient
	sender    workqueue.Sender
	validator *urlcheck.Validator
	stats     tally.Scope
	clk       clock.Clock
	client    *http.Client
}

// Option allows setting optional Manager parameters.
type Option func(*Manager)

// WithClock configures a Manager with a custom clock.
func WithClock(clk clock.Clock) Option {
	return func(m *Manager) { m.clk = clk }
}

// WithHTTPClient configures a Manager with a custom origin HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) { m.client = client }
}

// New creates a new Manager for the {service, region} pool.
func New(
	config Config,
	service string,
	region string,
	status statusstore.Store,
	blobs BlobClient,
	sender workqueue.Sender,
	validator *urlcheck.Validator,
	stats tally.Scope,
	opts ...Option) (*Manager, error) {

	config = config.applyDefaults()
	if !_tokenRe.MatchString(service) {
		return nil, fmt.Errorf("invalid service token %q", service)
	}
	if !_tokenRe.MatchString(region) {
		return nil, fmt.Errorf("invalid region token %q", region)
	}
	m := &Manager{
		config:    config,
		service:   service,
		region:    region,
		poolID:    service + "_" + region,
		status:    status,
		blobs:     blobs,
		sender:    sender,
		validator: validator,
		stats:     stats,
		clk:       clock.New(),
		// No client-level timeout; transfers are bounded by the inactivity
		// watchdog instead so large blobs are not cut off mid-stream.
		client: &http.Client{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Service returns the pool's service token.
func (m *Manager) Service() string { return m.service }

// Region returns the pool's region token.
func (m *Manager) Region() string { return m.region }

// PoolID returns the compound pool id.
func (m *Manager) PoolID() string { return m.poolID }

// GetURLForRedirect reads the status entry for rawURL. A miss first attempts
// a backfill from the blob store; if the object is gone too, the result is
// absent and the caller is expected to validate and request a copy.
func (m *Manager) GetURLForRedirect(rawURL string) (*Redirect, error) {
	key := statusstore.CacheKey(m.poolID, rawURL)
	fields, err := m.status.Get(key)
	if err != nil {
		return nil, fmt.Errorf("read status: %s", err)
	}
	if fields == nil {
		if r := m.backfill(key, rawURL); r != nil {
			return r, nil
		}
		m.stats.Counter("cache-miss").Inc(1)
		return &Redirect{Status: StatusAbsent}, nil
	}
	switch s := Status(fields["status"]); s {
	case StatusPresent:
		m.stats.Counter("cache-hit").Inc(1)
		fallthrough
	case StatusPending, StatusError:
		return &Redirect{Status: s, URL: m.blobs.PublicURL(rawURL)}, nil
	default:
		log.With("pool", m.poolID, "url", rawURL).Errorf("Unknown cached status %q, treating as absent", s)
		m.stats.Counter("cache-miss").Inc(1)
		return &Redirect{Status: StatusAbsent}, nil
	}
}

// backfill probes the blob store after a status miss. If the object still
// exists with enough life left, the status entry is re-adopted as present.
// Returns nil when the miss stands.
func (m *Manager) backfill(key, rawURL string) *Redirect {
	public := m.blobs.PublicURL(rawURL)
	resp, err := httputil.Head(public, httputil.SendTimeout(m.config.BackfillHeadTimeout))
	if err != nil {
		// Public-read buckets answer 403 for missing keys on anonymous HEAD.
		if !httputil.IsNotFound(err) && !httputil.IsStatus(err, http.StatusForbidden) {
			log.With("url", rawURL).Errorf("Error probing blob store for backfill: %s", err)
		}
		return nil
	}
	expiry, err := blobstore.ExpirationDate(resp.Header.Get("X-Amz-Expiration"))
	if err != nil {
		log.With("url", rawURL).Errorf("Error parsing blob expiration during backfill: %s", err)
		return nil
	}
	ttl := expiry.Sub(m.clk.Now()) - _backfillSafetyMargin
	if ttl > m.config.CacheTTL {
		ttl = m.config.CacheTTL
	}
	if ttl <= 0 {
		// Too close to eviction to trust. Let a fresh copy happen.
		return nil
	}
	if err := m.status.Put(key, statusFields(rawURL, StatusPresent), ttl); err != nil {
		log.With("url", rawURL).Errorf("Error adopting backfilled status: %s", err)
		return nil
	}
	m.stats.Counter("backfill").Inc(1)
	return &Redirect{Status: StatusPresent, URL: public}
}

// RequestPut marks rawURL pending and enqueues a copy job for the pool's
// workers.
func (m *Manager) RequestPut(rawURL string) error {
	key := statusstore.CacheKey(m.poolID, rawURL)
	if err := m.status.Put(key, statusFields(rawURL, StatusPending), m.config.CacheTTL); err != nil {
		return fmt.Errorf("write pending status: %s", err)
	}
	if err := m.sender.Send(&workqueue.Message{
		ID:     m.poolID,
		URL:    rawURL,
		Action: "put",
	}); err != nil {
		return fmt.Errorf("enqueue job: %s", err)
	}
	return nil
}

// Purge deletes the blob, then the status entry. Missing blob or entry is
// not an error.
func (m *Manager) Purge(rawURL string) error {
	var errs []error
	if err := m.blobs.Delete(rawURL); err != nil {
		errs = append(errs, fmt.Errorf("delete blob: %s", err))
	}
	if err := m.status.Delete(statusstore.CacheKey(m.poolID, rawURL)); err != nil {
		errs = append(errs, fmt.Errorf("delete status: %s", err))
	}
	return errutil.Join(errs)
}

// ValidateURL walks rawURL's redirect chain, enforcing the pool's policy.
func (m *Manager) ValidateURL(rawURL string) error {
	_, err := m.validator.Validate(rawURL)
	return err
}

func statusFields(rawURL string, status Status) map[string]string {
	return map[string]string{
		"url":    rawURL,
		"status": string(status),
	}
}
