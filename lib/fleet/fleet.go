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

// Package fleet builds and runs every regional mirror pool in a process: per
// region one blob client, one queue, one cache manager, and a set of copy
// worker listeners, plus a dead-letter drain and a queue depth probe.
package fleet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/uber/cloud-mirror/lib/blobstore"
	"github.com/uber/cloud-mirror/lib/cachemanager"
	"github.com/uber/cloud-mirror/lib/statusstore"
	"github.com/uber/cloud-mirror/lib/urlcheck"
	"github.com/uber/cloud-mirror/lib/workqueue"
	"github.com/uber/cloud-mirror/utils/log"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// ErrPoolNotFound is returned when no pool matches a {service, region} pair.
var ErrPoolNotFound = errors.New("no pool matches service and region")

type pool struct {
	manager   *cachemanager.Manager
	blobs     *blobstore.Client
	queue     *workqueue.Queue
	listeners []*workqueue.Listener
	dead      *workqueue.Listener
	stats     tally.Scope
}

// Fleet owns every pool in the process.
type Fleet struct {
	config Config
	stats  tally.Scope
	clk    clock.Clock
	store  statusstore.Store
	s3     blobstore.S3
	sqs    workqueue.SQS
	pools  map[string]*pool

	started *atomic.Bool
	stopped *atomic.Bool
	done    chan struct{}
	eg      errgroup.Group
}

// Option allows setting optional Fleet parameters.
type Option func(*Fleet)

// WithClock configures a Fleet with a custom clock.
func WithClock(clk clock.Clock) Option {
	return func(f *Fleet) { f.clk = clk }
}

// WithStore configures a Fleet with a custom status store, bypassing redis.
func WithStore(s statusstore.Store) Option {
	return func(f *Fleet) { f.store = s }
}

// WithS3 configures every pool's blob client with a custom S3 implementation.
func WithS3(s blobstore.S3) Option {
	return func(f *Fleet) { f.s3 = s }
}

// WithSQS configures every pool's queue with a custom SQS implementation.
func WithSQS(s workqueue.SQS) Option {
	return func(f *Fleet) { f.sqs = s }
}

// New creates a Fleet and constructs every pool. Duplicate regions and
// invalid pool tokens are configuration errors.
func New(config Config, auth AuthConfig, stats tally.Scope, opts ...Option) (*Fleet, error) {
	config = config.applyDefaults()

	f := &Fleet{
		config:  config,
		stats:   stats,
		clk:     clock.New(),
		pools:   make(map[string]*pool),
		started: atomic.NewBool(false),
		stopped: atomic.NewBool(false),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}

	if f.store == nil {
		s, err := statusstore.NewRedisStore(config.Redis, stats.SubScope("statusstore"))
		if err != nil {
			return nil, fmt.Errorf("status store: %s", err)
		}
		f.store = s
	}

	var regions []string
	for _, r := range strings.Split(config.Regions, ",") {
		if r = strings.TrimSpace(r); r != "" {
			regions = append(regions, r)
		}
	}
	if len(regions) == 0 {
		return nil, errors.New("invalid config: no regions")
	}

	for _, region := range regions {
		if err := f.addPool(region, auth); err != nil {
			return nil, fmt.Errorf("pool %s: %s", region, err)
		}
	}
	return f, nil
}

func (f *Fleet) addPool(region string, auth AuthConfig) error {
	name := f.config.NamePrefix + "-" + region

	bconfig := f.config.Blobstore
	bconfig.Region = region
	bconfig.Bucket = name
	var bopts []blobstore.Option
	if f.s3 != nil {
		bopts = append(bopts, blobstore.WithS3(f.s3))
	}
	blobs, err := blobstore.NewClient(bconfig, auth.Blobstore, bopts...)
	if err != nil {
		return fmt.Errorf("blob client: %s", err)
	}

	qconfig := f.config.Queue
	qconfig.Name = name
	var qopts []workqueue.Option
	if f.sqs != nil {
		qopts = append(qopts, workqueue.WithSQS(f.sqs))
	}
	queue, err := workqueue.NewQueue(qconfig, region, auth.Queue, qopts...)
	if err != nil {
		return fmt.Errorf("queue: %s", err)
	}

	validator, err := urlcheck.New(f.config.URLCheck)
	if err != nil {
		return fmt.Errorf("url validator: %s", err)
	}

	stats := f.stats.SubScope(f.config.Service + "_" + region)
	manager, err := cachemanager.New(
		f.config.Cache,
		f.config.Service,
		region,
		f.store,
		blobs,
		queue,
		validator,
		stats,
		cachemanager.WithClock(f.clk))
	if err != nil {
		return fmt.Errorf("cache manager: %s", err)
	}

	if _, ok := f.pools[manager.PoolID()]; ok {
		return fmt.Errorf("duplicate pool %s", manager.PoolID())
	}
	f.pools[manager.PoolID()] = &pool{
		manager: manager,
		blobs:   blobs,
		queue:   queue,
		stats:   stats,
	}
	return nil
}

// Manager returns the pool manager for {service, region}.
func (f *Fleet) Manager(service, region string) (*cachemanager.Manager, error) {
	p, ok := f.pools[service+"_"+region]
	if !ok {
		return nil, ErrPoolNotFound
	}
	return p.manager, nil
}

// Init provisions every pool's bucket and queue pair. Idempotent.
func (f *Fleet) Init() error {
	for id, p := range f.pools {
		if err := p.blobs.EnsureBucket(); err != nil {
			return fmt.Errorf("pool %s: ensure bucket: %s", id, err)
		}
		if err := p.queue.Init(); err != nil {
			return fmt.Errorf("pool %s: init queue: %s", id, err)
		}
	}
	return nil
}

// Start provisions buckets and queues, then launches the copy workers, the
// dead-letter drains, and the queue depth probes. Worker errors are fatal
// and surface through Wait.
func (f *Fleet) Start() error {
	if f.started.Swap(true) {
		return errors.New("fleet already started")
	}
	if err := f.Init(); err != nil {
		return err
	}
	for id, p := range f.pools {
		id, p := id, p
		for i := 0; i < f.config.Workers; i++ {
			l := workqueue.NewListener(p.queue, p.stats)
			p.listeners = append(p.listeners, l)
			f.eg.Go(func() error {
				err := l.Run(func(m *workqueue.Message) error {
					if m.ID != id {
						// Misrouted job. Discard; redelivery cannot reroute it.
						log.With("pool", id, "job", m.ID).Errorf("Dropping job routed to wrong pool")
						return nil
					}
					return p.manager.Put(m.URL)
				})
				if err != nil {
					// A fatal queue error in one pool takes the process down;
					// the other pools' listeners must not linger.
					f.Stop()
				}
				return err
			})
		}
		p.dead = workqueue.NewListener(p.queue, p.stats)
		f.eg.Go(func() error {
			err := p.dead.RunDead(func(body string) {
				log.With("pool", id, "body", body).Errorf("Job dead-lettered")
			})
			if err != nil {
				f.Stop()
			}
			return err
		})
		go f.probeDepth(id, p)
		log.With("pool", id).Infof("Started %d copy workers", f.config.Workers)
	}
	return nil
}

// Wait blocks until a fatal worker error or Stop.
func (f *Fleet) Wait() error {
	return f.eg.Wait()
}

// Stop halts all listeners, waits for in-flight copies, and closes the store.
func (f *Fleet) Stop() {
	if f.stopped.Swap(true) {
		return
	}
	close(f.done)
	for _, p := range f.pools {
		for _, l := range p.listeners {
			l.Stop()
		}
		if p.dead != nil {
			p.dead.Stop()
		}
	}
	f.store.Close()
}

func (f *Fleet) probeDepth(id string, p *pool) {
	t := f.clk.Ticker(f.config.QueueDepthInterval)
	defer t.Stop()
	stats := p.stats.SubScope("queue")
	for {
		select {
		case <-f.done:
			return
		case <-t.C:
			visible, inFlight, err := p.queue.Depth()
			if err != nil {
				log.With("pool", id).Errorf("Error probing queue depth: %s", err)
				continue
			}
			stats.Gauge("messages-visible").Update(float64(visible))
			stats.Gauge("messages-in-flight").Update(float64(inFlight))
		}
	}
}
