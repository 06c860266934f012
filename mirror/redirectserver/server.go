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

// Package redirectserver exposes the client-facing HTTP surface: redirect
// lookups which 302 clients to a same-region mirrored copy, purges, and
// health endpoints. URLs travel as a single percent-encoded path segment.
package redirectserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/uber/cloud-mirror/lib/cachemanager"
	"github.com/uber/cloud-mirror/lib/fleet"
	"github.com/uber/cloud-mirror/lib/middleware"
	"github.com/uber/cloud-mirror/lib/urlcheck"
	"github.com/uber/cloud-mirror/utils/handler"
	"github.com/uber/cloud-mirror/utils/log"

	"github.com/andres-erbsen/clock"
	"github.com/go-chi/chi"
	"github.com/uber-go/tally"
)

var _tokenRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,22}$`)

// Server handles redirect requests.
type Server struct {
	config    Config
	stats     tally.Scope
	fleet     *fleet.Fleet
	clk       clock.Clock
	startTime time.Time
}

// Option allows setting optional Server parameters.
type Option func(*Server)

// WithClock configures a Server with a custom clock.
func WithClock(clk clock.Clock) Option {
	return func(s *Server) { s.clk = clk }
}

// New creates a new Server.
func New(config Config, stats tally.Scope, f *fleet.Fleet, opts ...Option) *Server {
	s := &Server{
		config: config.applyDefaults(),
		stats:  stats,
		fleet:  f,
		clk:    clock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.startTime = s.clk.Now()
	return s
}

// Handler returns the root http handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.LatencyTimer(s.stats))
	r.Use(middleware.HitCounter(s.stats))

	r.Get("/v1/redirect/{service}/{region}/{url}", handler.Wrap(s.redirectHandler))
	r.Get("/v1/redirect/{service}/{region}/{url}/*", handler.Wrap(s.malformedURLHandler))
	r.Delete("/v1/purge/{service}/{region}/{url}", handler.Wrap(s.purgeHandler))
	r.Delete("/v1/purge/{service}/{region}/{url}/*", handler.Wrap(s.malformedURLHandler))
	r.Get("/v1/ping", handler.Wrap(s.pingHandler))
	r.Get("/v1/api-reference", handler.Wrap(s.apiReferenceHandler))

	return r
}

// pool parses and vets the routing parameters, returning the matching pool
// manager and the decoded request url.
func (s *Server) pool(r *http.Request) (*cachemanager.Manager, string, error) {
	service := chi.URLParam(r, "service")
	region := chi.URLParam(r, "region")
	if !_tokenRe.MatchString(service) || !_tokenRe.MatchString(region) {
		return nil, "", handler.Errorf("invalid service or region").Status(http.StatusBadRequest)
	}
	rawurl, err := url.PathUnescape(chi.URLParam(r, "url"))
	if err != nil {
		return nil, "", handler.Errorf("invalid url encoding").Status(http.StatusBadRequest)
	}
	m, err := s.fleet.Manager(service, region)
	if err != nil {
		return nil, "", handler.Errorf(
			"no pool for %s in %s", service, region).Status(http.StatusNotFound)
	}
	return m, rawurl, nil
}

// redirectHandler polls the pool's status until a copy is present or the
// configured wait elapses, then 302s. Diagnostics recorded in error entries
// are never echoed to clients.
func (s *Server) redirectHandler(w http.ResponseWriter, r *http.Request) error {
	m, rawurl, err := s.pool(r)
	if err != nil {
		return err
	}

	deadline := s.clk.Now().Add(s.config.MaxWaitForCachedCopy)
	first := true
	for {
		res, err := m.GetURLForRedirect(rawurl)
		if err != nil {
			return err
		}
		switch res.Status {
		case cachemanager.StatusPresent:
			return writeRedirect(w, res.Status, res.URL)
		case cachemanager.StatusAbsent:
			if first {
				if err := m.ValidateURL(rawurl); err != nil {
					if urlcheck.IsPolicyError(err) {
						return handler.Errorf("url not allowed").Status(http.StatusForbidden)
					}
					return handler.Errorf("url failed validation").Status(http.StatusBadRequest)
				}
			}
			if err := m.RequestPut(rawurl); err != nil {
				return err
			}
		case cachemanager.StatusError:
			if err := m.RequestPut(rawurl); err != nil {
				return err
			}
		case cachemanager.StatusPending:
			// A copy is in flight. Wait for it.
		}
		first = false

		if s.clk.Now().Add(s.config.PollInterval).After(deadline) {
			s.stats.Counter("redirect-original").Inc(1)
			log.With("pool", m.PoolID(), "url", rawurl).Info("No cached copy in time, redirecting to original")
			return writeRedirect(w, res.Status, rawurl)
		}
		s.clk.Sleep(s.config.PollInterval)
	}
}

func (s *Server) purgeHandler(w http.ResponseWriter, r *http.Request) error {
	m, rawurl, err := s.pool(r)
	if err != nil {
		return err
	}
	if err := m.Purge(rawurl); err != nil {
		return fmt.Errorf("purge: %s", err)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) malformedURLHandler(w http.ResponseWriter, r *http.Request) error {
	return handler.Errorf(
		"malformed url: expected a single percent-encoded path segment").Status(http.StatusBadRequest)
}

func (s *Server) pingHandler(w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(map[string]interface{}{
		"alive":  true,
		"uptime": int64(s.clk.Now().Sub(s.startTime).Seconds()),
	})
}

func (s *Server) apiReferenceHandler(w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode([]map[string]string{
		{"method": "GET", "path": "/v1/redirect/{service}/{region}/{url}"},
		{"method": "DELETE", "path": "/v1/purge/{service}/{region}/{url}"},
		{"method": "GET", "path": "/v1/ping"},
		{"method": "GET", "path": "/v1/api-reference"},
	})
}

func writeRedirect(w http.ResponseWriter, status cachemanager.Status, location string) error {
	b, err := json.Marshal(cachemanager.Redirect{Status: status, URL: location})
	if err != nil {
		return fmt.Errorf("marshal body: %s", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Location", location)
	w.WriteHeader(http.StatusFound)
	w.Write(b)
	return nil
}
