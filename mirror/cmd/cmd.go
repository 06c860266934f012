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
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/uber/cloud-mirror/lib/fleet"
	"github.com/uber/cloud-mirror/metrics"
	"github.com/uber/cloud-mirror/mirror/redirectserver"
	"github.com/uber/cloud-mirror/utils/configutil"
	"github.com/uber/cloud-mirror/utils/log"
	"github.com/uber/cloud-mirror/utils/shutdown"

	"github.com/spf13/cobra"
)

var (
	port       int
	configFile string
	cluster    string

	rootCmd = &cobra.Command{
		Short: "cloud-mirror copies immutable origin urls into regional object stores " +
			"and redirects clients to the closest copy.",
		Run: func(rootCmd *cobra.Command, args []string) {
			run()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().IntVarP(
		&port, "port", "", 0, "port which the redirect server listens on")
	rootCmd.PersistentFlags().StringVarP(
		&configFile, "config", "", "", "configuration file path")
	rootCmd.PersistentFlags().StringVarP(
		&cluster, "cluster", "", "", "cluster name (e.g. prod01-zone1)")
}

// Execute runs the mirror server.
func Execute() {
	rootCmd.Execute()
}

func run() {
	if port == 0 {
		panic("must specify non-zero port")
	}

	var config Config
	if err := configutil.Load(configFile, &config); err != nil {
		panic(err)
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = time.Minute
	}

	zlog := log.ConfigureLogger(config.ZapLogging)
	defer zlog.Sync()

	stats, closer, err := metrics.New(config.Metrics, cluster)
	if err != nil {
		log.Fatalf("Failed to init metrics: %s", err)
	}
	defer closer.Close()

	sd := shutdown.New(context.Background())

	f, err := fleet.New(config.Fleet, config.Auth, stats)
	if err != nil {
		log.Fatalf("Error creating fleet: %s", err)
	}
	if err := f.Start(); err != nil {
		log.Fatalf("Error starting fleet: %s", err)
	}
	sd.AddCleanup(func() error {
		f.Stop()
		return nil
	})
	go func() {
		// Worker errors are fatal: the operator must fix credentials or
		// queue configuration.
		if err := f.Wait(); err != nil {
			log.Fatalf("Fatal fleet error: %s", err)
		}
	}()

	server := redirectserver.New(config.RedirectServer, stats, f)
	hs := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: server.Handler(),
	}
	// Registered after f.Stop so the server drains before the fleet stops.
	sd.AddCleanup(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
		defer cancel()
		return hs.Shutdown(ctx)
	})
	go func() {
		if err := hs.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Error serving redirect server: %s", err)
		}
	}()
	log.Infof("Redirect server listening on %s", hs.Addr)

	sd.Wait()
}
