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
package cmd

import (
	"time"

	"github.com/uber/cloud-mirror/lib/fleet"
	"github.com/uber/cloud-mirror/metrics"
	"github.com/uber/cloud-mirror/mirror/redirectserver"

	"go.uber.org/zap"
)

// Config defines mirror server configuration.
type Config struct {
	Verbose        bool
	ZapLogging     zap.Config            `yaml:"zap"`
	Metrics        metrics.Config        `yaml:"metrics"`
	Fleet          fleet.Config          `yaml:"fleet"`
	Auth           fleet.AuthConfig      `yaml:"auth"`
	RedirectServer redirectserver.Config `yaml:"redirectserver"`

	// ShutdownTimeout bounds how long in-flight requests may drain after a
	// termination signal.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}
