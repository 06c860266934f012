// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package shutdown coordinates graceful process teardown on termination
// signals.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/uber/cloud-mirror/utils/log"
)

// Handler runs registered cleanup functions once, in LIFO order, when the
// process receives SIGINT or SIGTERM or when Shutdown is called directly.
type Handler struct {
	ctx        context.Context
	cancel     context.CancelFunc
	mu         sync.Mutex
	cleanupFns []func() error
	once       sync.Once
	done       chan struct{}
}

// New creates a Handler with a cancellable context derived from ctx and
// installs handlers for SIGINT and SIGTERM.
func New(ctx context.Context) *Handler {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handler{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigs:
			log.Infof("Received signal %v, shutting down", sig)
			h.Shutdown()
		case <-ctx.Done():
		}
	}()

	return h
}

// Context returns the handler's context. It is cancelled when shutdown
// starts.
func (h *Handler) Context() context.Context {
	return h.ctx
}

// AddCleanup registers fn to run during shutdown. Functions run in reverse
// registration order.
func (h *Handler) AddCleanup(fn func() error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleanupFns = append(h.cleanupFns, fn)
}

// Shutdown cancels the context and runs all cleanup functions. Subsequent
// calls are no-ops.
func (h *Handler) Shutdown() {
	h.once.Do(func() {
		h.cancel()

		h.mu.Lock()
		defer h.mu.Unlock()

		for i := len(h.cleanupFns) - 1; i >= 0; i-- {
			if err := h.cleanupFns[i](); err != nil {
				log.Errorf("Error during cleanup: %s", err)
			}
		}
		close(h.done)
		log.Info("Shutdown complete")
	})
}

// Wait blocks until Shutdown has finished running cleanup functions.
func (h *Handler) Wait() {
	<-h.done
}
