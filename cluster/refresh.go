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

package cluster

import (
	"math/rand"
	"sync"

	"github.com/pkg/errors"

	"github.com/packetd/rcproxy/internal/bufbytes"
	"github.com/packetd/rcproxy/internal/pubsub"
	"github.com/packetd/rcproxy/message"
)

// ProbeRequest is the literal synthetic topology probe (spec §6):
// `*3\r\n$7\r\ncluster\r\n$5\r\nnodes\r\n$5\r\nextra\r\n`. The trailing
// "extra" argument carries no meaning to the server; BuildProbe writes
// these bytes directly, so the probe never passes through the request
// parser or its command table.
const ProbeRequest = "*3\r\n$7\r\ncluster\r\n$5\r\nnodes\r\n$5\r\nextra\r\n"

// ErrNoProbeTarget is returned when BuildProbe cannot find any server
// to send a topology probe to.
var ErrNoProbeTarget = errors.New("cluster: no server available for topology probe")

// Refresher drives spec §4.6's "Refresh" tick loop: periodically probing
// CLUSTER NODES on a random backend, latching the raw reply into a
// bounded buffer, and staging+swapping the slot table once an external
// parse completes.
//
// Detection of "this reply belongs to a probe, not a client request" is
// spec.md's `peer->owner == NULL` rule; in this port that's
// message.Message.Owner being nil, since Owner is the field the proxy
// package stamps with the owning client connection.
type Refresher struct {
	Table *Table
	Bus   *pubsub.PubSub

	mu          sync.Mutex
	probebuf    *bufbytes.Bytes
	probeBusy   bool
	needRefresh bool
}

// NewRefresher builds a Refresher over tbl. maxProbeBuf bounds the
// latched probe reply (spec's REDIS_PROBE_BUF_SIZE); bus, if non-nil, is
// poked with a wake message whenever a fresh probe reply lands so a
// consumer goroutine blocked in PopTimeout can parse it promptly.
func NewRefresher(tbl *Table, bus *pubsub.PubSub, maxProbeBuf int) *Refresher {
	if maxProbeBuf <= 0 {
		maxProbeBuf = 64 << 10
	}
	return &Refresher{Table: tbl, Bus: bus, probebuf: bufbytes.New(maxProbeBuf)}
}

// RequestRefresh sets the pending-refresh flag (spec's need_update_slots),
// normally called from a periodic ticker every REDIS_UPDATE_TICKS.
func (r *Refresher) RequestRefresh() {
	r.mu.Lock()
	r.needRefresh = true
	r.mu.Unlock()
}

// TakeRefreshRequest reports and clears whether a refresh is pending,
// for the main loop to check once per tick.
func (r *Refresher) TakeRefreshRequest() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	pending := r.needRefresh
	r.needRefresh = false
	return pending
}

// BuildProbe formats the synthetic CLUSTER NODES probe request and
// picks its target server by delegating to Table.PickProbeTarget.
func (r *Refresher) BuildProbe(mp *message.Pool, rng *rand.Rand) (*message.Message, *Server, error) {
	target, ok := r.Table.PickProbeTarget(rng)
	if !ok {
		return nil, nil, ErrNoProbeTarget
	}
	msg := mp.Get(true)
	if err := msg.Chain.Append([]byte(ProbeRequest)); err != nil {
		return nil, nil, err
	}
	msg.Command = "cluster"
	msg.Owner = nil // unset: marks this as a probe, never a client-owned request
	return msg, target, nil
}

// IsProbeReply reports whether msg is the server's reply to a probe
// request, per spec's `peer->owner == NULL` detection. Fragment
// sub-requests and swallowed requests (ASKING) also carry no Owner, so
// they are excluded by their FragOwner/Swallow marks.
func IsProbeReply(msg *message.Message) bool {
	return msg.Peer != nil && msg.Peer.Owner == nil && msg.Peer.FragOwner == nil && !msg.Peer.Swallow
}

// LatchProbeReply copies a probe reply's raw bytes into the bounded
// probe buffer and wakes any subscriber (spec §4.6 step 4).
func (r *Refresher) LatchProbeReply(reply *message.Message) {
	b := reply.Chain.Bytes()

	r.mu.Lock()
	r.probebuf.Reset()
	r.probebuf.Write(b)
	r.probeBusy = true
	r.mu.Unlock()

	if r.Bus != nil {
		r.Bus.Publish(struct{}{})
	}
}

// ProbeSnapshot returns the most recently latched probe reply bytes,
// for the NODE/NODES internal command (spec §4.7).
func (r *Refresher) ProbeSnapshot() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.probebuf.Clone()
}

// ApplyProbe parses the latched probe buffer and stages it onto Table,
// ready for Table.Swap on the next tick (spec §4.6 step 4-5). The
// caller (an external consumer per spec, here the refresher itself) is
// responsible for calling Table.Swap once it's satisfied the staged
// data is consistent.
func (r *Refresher) ApplyProbe() error {
	r.mu.Lock()
	buf := r.probebuf.Clone()
	r.probeBusy = false
	r.mu.Unlock()

	if len(buf) == 0 {
		return errors.New("cluster: no probe reply latched")
	}
	nodes, err := ParseNodes(buf)
	if err != nil {
		return err
	}
	r.Table.StageFromNodes(nodes)
	return nil
}
