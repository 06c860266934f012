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
package statusstore

import (
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
)

// LocalStore is an in-memory Store implementation for testing.
type LocalStore struct {
	clk clock.Clock

	mu      sync.Mutex
	entries map[string]*localEntry
}

type localEntry struct {
	fields    map[string]string
	expiresAt time.Time
}

// NewLocalStore creates a new LocalStore.
func NewLocalStore(clk clock.Clock) *LocalStore {
	return &LocalStore{
		clk:     clk,
		entries: make(map[string]*localEntry),
	}
}

// Close implements Store.
func (s *LocalStore) Close() {}

func (s *LocalStore) get(key string) *localEntry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if s.clk.Now().After(e.expiresAt) {
		delete(s.entries, key)
		return nil
	}
	return e
}

// Get implements Store.
func (s *LocalStore) Get(key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.get(key)
	if e == nil {
		return nil, nil
	}
	fields := make(map[string]string, len(e.fields))
	for k, v := range e.fields {
		fields[k] = v
	}
	return fields, nil
}

// Put implements Store.
func (s *LocalStore) Put(key string, fields map[string]string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	s.entries[key] = &localEntry{copied, s.clk.Now().Add(ttl)}
	return nil
}

// PutIfAbsent implements Store.
func (s *LocalStore) PutIfAbsent(key string, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.get(key) != nil {
		return false, nil
	}
	s.entries[key] = &localEntry{
		fields:    map[string]string{"value": value},
		expiresAt: s.clk.Now().Add(ttl),
	}
	return true, nil
}

// Delete implements Store.
func (s *LocalStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}
