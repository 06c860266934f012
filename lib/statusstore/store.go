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

// Package statusstore provides a narrow key/value abstraction over the cache
// coordination store. Entries are flat string-to-string field maps with a TTL.
// The store may be flushed at any time, so a miss is always an expected
// outcome and never an error.
package statusstore

import (
	"net/url"
	"time"
)

// Store defines cache entry storage operations.
type Store interface {
	// Get returns the fields stored under key. A miss returns a nil map and
	// no error.
	Get(key string) (map[string]string, error)

	// Put atomically writes fields under key with the given TTL, replacing
	// any previous value.
	Put(key string, fields map[string]string, ttl time.Duration) error

	// PutIfAbsent writes value under key only if key does not exist. Returns
	// whether the write won.
	PutIfAbsent(key string, value string, ttl time.Duration) (bool, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error

	Close()
}

// CacheKey returns the status store key for a url within a pool. The raw url
// is stored verbatim in entry fields; percent-encoding is applied only here,
// when forming the key.
func CacheKey(poolID, rawurl string) string {
	return poolID + "_" + url.QueryEscape(rawurl)
}

// LockKey returns the single-flight lock key guarding a cache key.
func LockKey(cacheKey string) string {
	return "LOCK-" + cacheKey
}
