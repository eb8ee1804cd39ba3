// Copyright 2024 Google LLC
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

package compressfs

import (
	"context"
	"time"

	"github.com/jacobsa/compressfs/clock"
	"github.com/jacobsa/compressfs/common"
	"github.com/jacobsa/compressfs/internal/logger"
)

// drainPollInterval is how long the coordinator sleeps between drain
// sweeps while waiting for the registry and queue to empty.
const drainPollInterval = time.Second

// ShutdownCoordinator drains the Engine's registry and background queue
// after the FUSE connection has been unmounted, so no pending compression
// is abandoned by process exit, then emits a final statistics line.
type ShutdownCoordinator struct {
	engine *Engine
	clock  clock.Clock
	extra  []common.ShutdownFn
}

// NewShutdownCoordinator builds a coordinator for engine. extra shutdown
// functions (e.g. closing the log file) run after the engine drain.
func NewShutdownCoordinator(engine *Engine, clk clock.Clock, extra ...common.ShutdownFn) *ShutdownCoordinator {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &ShutdownCoordinator{engine: engine, clock: clk, extra: extra}
}

// Run pushes every idle record to the background queue and sleeps in
// one-second beats until both the registry and the queue are empty, then
// joins the worker. Cancelling ctx interrupts the wait: every queued
// record's compression is cancelled at its next poll point, leaving each
// backing file either fully converted or untouched.
func (s *ShutdownCoordinator) Run(ctx context.Context) error {
	for !s.engine.Idle() {
		s.engine.DrainForce()
		select {
		case <-ctx.Done():
			s.engine.registry.forEach(func(rec *Record) { rec.requestCancel() })
		case <-s.clock.After(drainPollInterval):
		}
		if ctx.Err() != nil {
			break
		}
	}

	s.engine.Shutdown()

	err := common.JoinShutdownFunc(s.extra...)(ctx)

	snap := s.engine.Stats()
	logger.Infof("shutdown complete: %d files compressed, %d bytes saved",
		snap.FilesCompressed, snap.BytesSaved())

	return err
}
