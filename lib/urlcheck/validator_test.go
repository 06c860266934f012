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
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newValidator(t *testing.T, config Config) *Validator {
	if config.RedirectLimit == 0 {
		config.RedirectLimit = 5
	}
	v, err := New(config)
	require.NoError(t, err)
	return v
}

func allowAll() []string {
	return []string{"^.*/"}
}

func TestNewRejectsUnanchoredPatterns(t *testing.T) {
	tests := []string{
		"example.com/",
		"^example.com",
		"",
	}
	for _, pattern := range tests {
		t.Run(fmt.Sprintf("pattern %q", pattern), func(t *testing.T) {
			_, err := New(Config{AllowedPatterns: []string{pattern}})
			require.Error(t, err)
		})
	}
}

func TestValidateSingleHop(t *testing.T) {
	require := require.New(t)

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal("HEAD", r.Method)
		w.Header().Set("ETag", "abc123")
	}))
	defer s.Close()

	v := newValidator(t, Config{AllowedPatterns: allowAll()})

	res, err := v.Validate(s.URL + "/artifact")
	require.NoError(err)
	require.Equal(s.URL+"/artifact", res.URL)
	require.Equal(http.StatusOK, res.StatusCode)
	require.Equal("abc123", res.Header.Get("ETag"))
	require.Len(res.Hops, 1)
}

func TestValidateFollowsRelativeRedirects(t *testing.T) {
	require := require.New(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/middle")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/middle", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/final")
		w.WriteHeader(http.StatusMovedPermanently)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {})
	s := httptest.NewServer(mux)
	defer s.Close()

	v := newValidator(t, Config{AllowedPatterns: allowAll()})

	res, err := v.Validate(s.URL + "/start")
	require.NoError(err)
	require.Equal(s.URL+"/final", res.URL)
	require.Len(res.Hops, 3)
	require.Equal(http.StatusFound, res.Hops[0].Code)
	require.Equal(http.StatusMovedPermanently, res.Hops[1].Code)
	require.Equal(http.StatusOK, res.Hops[2].Code)
}

func TestValidateRedirectLimit(t *testing.T) {
	require := require.New(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/loop")
		w.WriteHeader(http.StatusFound)
	})
	s := httptest.NewServer(mux)
	defer s.Close()

	v := newValidator(t, Config{AllowedPatterns: allowAll(), RedirectLimit: 3})

	_, err := v.Validate(s.URL + "/loop")
	require.Error(err)
	require.IsType(TooManyRedirectsError{}, err)
}

func TestValidateZeroRedirectLimitRejectsEverything(t *testing.T) {
	require := require.New(t)

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer s.Close()

	v, err := New(Config{AllowedPatterns: allowAll(), RedirectLimit: 0})
	require.NoError(err)

	_, err = v.Validate(s.URL)
	require.Error(err)
	require.IsType(TooManyRedirectsError{}, err)
}

func TestValidateEnsureTLS(t *testing.T) {
	require := require.New(t)

	v := newValidator(t, Config{AllowedPatterns: allowAll(), EnsureTLS: true})

	_, err := v.Validate("http://example.com/artifact")
	require.Error(err)
	require.IsType(InsecureURLError{}, err)
	require.True(IsPolicyError(err))
}

func TestValidateDisallowedURL(t *testing.T) {
	require := require.New(t)

	v := newValidator(t, Config{
		AllowedPatterns: []string{"^https://allowed.example.com/"},
	})

	_, err := v.Validate("https://www.facebook.com/")
	require.Error(err)
	require.IsType(DisallowedURLError{}, err)
	require.True(IsPolicyError(err))
}

func TestValidateBadStatus(t *testing.T) {
	require := require.New(t)

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer s.Close()

	v := newValidator(t, Config{AllowedPatterns: allowAll()})

	_, err := v.Validate(s.URL)
	require.Error(err)
	require.IsType(BadHTTPStatusError{}, err)
	require.False(IsPolicyError(err))
}

func TestValidateMissingLocation(t *testing.T) {
	require := require.New(t)

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusFound)
	}))
	defer s.Close()

	v := newValidator(t, Config{AllowedPatterns: allowAll()})

	_, err := v.Validate(s.URL)
	require.Error(err)
	require.IsType(MissingLocationError{}, err)
}

func TestValidateRejectsDisallowedHopMidChain(t *testing.T) {
	require := require.New(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "https://elsewhere.example.com/blob")
		w.WriteHeader(http.StatusFound)
	})
	s := httptest.NewServer(mux)
	defer s.Close()

	v := newValidator(t, Config{
		AllowedPatterns: []string{fmt.Sprintf("^%s/", s.URL)},
	})

	_, err := v.Validate(s.URL + "/start")
	require.Error(err)
	require.IsType(DisallowedURLError{}, err)
}
