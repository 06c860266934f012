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
package urlcheck

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/andres-erbsen/clock"
)

// Hop records a single response observed while walking a redirect chain.
type Hop struct {
	Code int       `json:"code"`
	URL  string    `json:"url"`
	Time time.Time `json:"t"`
}

// Result is the outcome of a successful validation.
type Result struct {
	// URL is the final URL of the chain, after all redirects are resolved.
	URL string

	// Header is the response header of the final hop.
	Header http.Header

	// StatusCode is the status of the final hop.
	StatusCode int

	// Hops lists every response observed, in order, final hop included.
	Hops []Hop
}

// Validator walks a redirect chain with HEAD requests, enforcing scheme and
// allowlist policy on every hop before any origin bytes are ever copied.
type Validator struct {
	config   Config
	patterns []*regexp.Regexp
	client   *http.Client
	clk      clock.Clock
}

// Option allows setting optional Validator parameters.
type Option func(*Validator)

// WithClient configures a Validator with a custom HTTP client.
func WithClient(client *http.Client) Option {
	return func(v *Validator) { v.client = client }
}

// WithClock configures a Validator with a custom clock.
func WithClock(clk clock.Clock) Option {
	return func(v *Validator) { v.clk = clk }
}

// New creates a new Validator.
func New(config Config, opts ...Option) (*Validator, error) {
	config = config.applyDefaults()
	if len(config.AllowedPatterns) == 0 {
		return nil, errors.New("invalid config: allowed_patterns required")
	}
	var patterns []*regexp.Regexp
	for _, raw := range config.AllowedPatterns {
		if !strings.HasPrefix(raw, "^") || !strings.HasSuffix(raw, "/") {
			return nil, fmt.Errorf(
				"invalid config: pattern %q must be anchored with '^' and end with '/'", raw)
		}
		p, err := regexp.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid config: compile pattern %q: %s", raw, err)
		}
		patterns = append(patterns, p)
	}
	v := &Validator{
		config:   config,
		patterns: patterns,
		client: &http.Client{
			Timeout: config.HeadTimeout,
			// Redirects are walked by hand so every hop can be vetted.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		clk: clock.New(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Check enforces scheme and allowlist policy on a single URL without issuing
// any requests.
func (v *Validator) Check(rawurl string) error {
	u, err := url.Parse(rawurl)
	if err != nil {
		return DisallowedURLError{rawurl}
	}
	if v.config.EnsureTLS && u.Scheme != "https" {
		return InsecureURLError{rawurl}
	}
	for _, p := range v.patterns {
		if p.MatchString(rawurl) {
			return nil
		}
	}
	return DisallowedURLError{rawurl}
}

// Validate walks the redirect chain starting at rawurl, checking policy at
// each hop. Returns the final URL and response metadata on success.
func (v *Validator) Validate(rawurl string) (*Result, error) {
	cur := rawurl
	var hops []Hop
	for i := 0; i < v.config.RedirectLimit; i++ {
		if err := v.Check(cur); err != nil {
			return nil, err
		}

		resp, err := v.head(cur)
		if err != nil {
			return nil, err
		}
		hops = append(hops, Hop{Code: resp.StatusCode, URL: cur, Time: v.clk.Now()})

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300,
			resp.StatusCode == http.StatusNotModified:
			return &Result{
				URL:        cur,
				Header:     resp.Header,
				StatusCode: resp.StatusCode,
				Hops:       hops,
			}, nil
		case resp.StatusCode >= 300 && resp.StatusCode < 400 &&
			resp.StatusCode != http.StatusNotModified &&
			resp.StatusCode != http.StatusUseProxy:
			next, err := v.resolveLocation(cur, resp)
			if err != nil {
				return nil, err
			}
			cur = next
		default:
			return nil, BadHTTPStatusError{cur, resp.StatusCode}
		}
	}
	return nil, TooManyRedirectsError{rawurl, v.config.RedirectLimit}
}

func (v *Validator) head(rawurl string) (*http.Response, error) {
	req, err := http.NewRequest("HEAD", rawurl, nil)
	if err != nil {
		return nil, DisallowedURLError{rawurl}
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("head %s: %s", rawurl, err)
	}
	resp.Body.Close()
	return resp, nil
}

// resolveLocation resolves a possibly relative Location header against the
// current URL.
func (v *Validator) resolveLocation(cur string, resp *http.Response) (string, error) {
	loc := resp.Header.Get("Location")
	if loc == "" {
		return "", MissingLocationError{cur}
	}
	base, err := url.Parse(cur)
	if err != nil {
		return "", DisallowedURLError{cur}
	}
	ref, err := url.Parse(loc)
	if err != nil {
		return "", MissingLocationError{cur}
	}
	return base.ResolveReference(ref).String(), nil
}
