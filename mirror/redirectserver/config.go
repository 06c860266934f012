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
package redirectserver

import "time"

// Config defines Server configuration.
type Config struct {
	// MaxWaitForCachedCopy bounds how long a redirect request polls for a
	// copy in flight before falling back to the original url. Zero falls
	// back on the first poll.
	MaxWaitForCachedCopy time.Duration `yaml:"max_wait_for_cached_copy"`

	// PollInterval is the pause between status polls.
	PollInterval time.Duration `yaml:"poll_interval"`
}

func (c Config) applyDefaults() Config {
	if c.PollInterval == 0 {
		c.PollInterval = time.Second
	}
	return c
}
