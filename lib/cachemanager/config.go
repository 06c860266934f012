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

import "time"

// Config defines Manager configuration.
type Config struct {
	// CacheTTL bounds the lifetime of every status entry, including the
	// single-flight lock.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// DownloadInactivityTimeout aborts an origin transfer whose stream makes
	// no progress for this long.
	DownloadInactivityTimeout time.Duration `yaml:"download_inactivity_timeout"`

	// BackfillHeadTimeout bounds the blob store probe issued on a status miss.
	BackfillHeadTimeout time.Duration `yaml:"backfill_head_timeout"`
}

func (c Config) applyDefaults() Config {
	if c.CacheTTL == 0 {
		c.CacheTTL = 24 * time.Hour
	}
	if c.DownloadInactivityTimeout == 0 {
		c.DownloadInactivityTimeout = time.Hour
	}
	if c.BackfillHeadTimeout == 0 {
		c.BackfillHeadTimeout = 60 * time.Second
	}
	return c
}
