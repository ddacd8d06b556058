// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package proxy

import (
	"math/rand"
	"time"

	"github.com/packetd/rcproxy/internal/rescue"
	"github.com/packetd/rcproxy/logger"
	"github.com/packetd/rcproxy/metrics"
)

// runRefreshLoop drives the periodic CLUSTER NODES probe (spec §4.6
// Refresh): every tick, format and send one to a representative server.
// The reply arrives back through the ordinary backend reply path
// (deliver -> cluster.IsProbeReply -> LatchProbeReply) and wakes
// consumeProbeWakes through the pubsub bus.
func (r *Runtime) runRefreshLoop() {
	defer rescue.HandleCrash()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(r.cfg.Cluster.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sendProbe(rng)
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Runtime) sendProbe(rng *rand.Rand) {
	probe, target, err := r.refr.BuildProbe(r.msgPool, rng)
	if err != nil {
		logger.Warnf("topology probe: %v", err)
		metrics.TopologyRefreshesTotal.WithLabelValues("no_target").Inc()
		return
	}

	bc, err := r.dialBackend(target)
	if err != nil {
		logger.Warnf("topology probe dial %s: %v", target.Addr, err)
		metrics.TopologyRefreshesTotal.WithLabelValues("dial_error").Inc()
		r.msgPool.Put(probe)
		return
	}

	if err := bc.send(probe); err != nil {
		logger.Warnf("topology probe send %s: %v", target.Addr, err)
		metrics.TopologyRefreshesTotal.WithLabelValues("send_error").Inc()
		r.msgPool.Put(probe)
	}
}

// consumeProbeWakes blocks on the pubsub bus's wake queue; each wake
// means a fresh probe reply just landed in refr's probebuf, so apply
// and swap the staged topology immediately (spec §4.6 steps 4-5).
func (r *Runtime) consumeProbeWakes() {
	defer rescue.HandleCrash()

	q := r.bus.Subscribe(1)
	defer r.bus.Unsubscribe(q)

	for {
		if r.ctx.Err() != nil {
			return
		}
		if _, ok := q.PopTimeout(time.Second); !ok {
			continue
		}
		if err := r.refr.ApplyProbe(); err != nil {
			logger.Warnf("topology refresh: %v", err)
			metrics.TopologyRefreshesTotal.WithLabelValues("parse_error").Inc()
			continue
		}
		r.table.Swap()
		metrics.TopologyRefreshesTotal.WithLabelValues("ok").Inc()
	}
}
