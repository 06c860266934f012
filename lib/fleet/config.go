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
package fleet

import (
	"time"

	"github.com/uber/cloud-mirror/lib/blobstore"
	"github.com/uber/cloud-mirror/lib/cachemanager"
	"github.com/uber/cloud-mirror/lib/statusstore"
	"github.com/uber/cloud-mirror/lib/urlcheck"
	"github.com/uber/cloud-mirror/lib/workqueue"
)

// Config defines Fleet configuration. One pool is built per listed region;
// buckets and queues are named "<name_prefix>-<region>".
type Config struct {
	// Service is the blob store flavor token shared by every pool, e.g. "s3".
	Service string `yaml:"service"`

	// Regions is the comma-separated list of regions to mirror into.
	Regions string `yaml:"regions"`

	// Workers is the number of copy workers per region.
	Workers int `yaml:"workers"`

	// NamePrefix names buckets and queues.
	NamePrefix string `yaml:"name_prefix"`

	// QueueDepthInterval is how often queue depth gauges are emitted.
	QueueDepthInterval time.Duration `yaml:"queue_depth_interval"`

	Redis     statusstore.RedisConfig `yaml:"redis"`
	Blobstore blobstore.Config        `yaml:"blobstore"`
	Queue     workqueue.Config        `yaml:"queue"`
	Cache     cachemanager.Config     `yaml:"cache"`
	URLCheck  urlcheck.Config         `yaml:"urlcheck"`
}

// AuthConfig defines Fleet AWS credentials.
type AuthConfig struct {
	Blobstore blobstore.AuthConfig `yaml:"blobstore"`
	Queue     workqueue.AuthConfig `yaml:"queue"`
}

func (c Config) applyDefaults() Config {
	if c.Service == "" {
		c.Service = "s3"
	}
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.NamePrefix == "" {
		c.NamePrefix = "cloud-mirror"
	}
	if c.QueueDepthInterval == 0 {
		c.QueueDepthInterval = time.Minute
	}
	return c
}
