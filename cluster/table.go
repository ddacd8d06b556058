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
)

// Table is the server pool's authoritative 16384-entry slot map plus the
// staging copy a topology refresh fills in the background (spec §3
// "Server pool": `slots[]` / `ffi_slots[]`).
//
// The core protocol path (routing) only ever reads Authoritative, while
// staging and the swap run on the refresher's goroutine and Snapshot()
// serves the admin HTTP surface's `/debug/slots` route. Every reader
// (Lookup, ServerByAddr, PendingSwap, Snapshot, PickProbeTarget) takes
// the read lock; StageFromNodes and Swap take the write lock.
type Table struct {
	mu            sync.RWMutex
	Authoritative [NumSlots]*ReplicaSet
	staging       [NumSlots]*ReplicaSet

	servers map[string]*Server // host:port -> Server, rebuilt on swap

	NeedUpdateSlots bool
	TicksLeft       int

	stagingServerUpdate bool
	stagingSlotsUpdate  bool
}

// NewTable returns an empty table with no assigned slots.
func NewTable() *Table {
	return &Table{servers: make(map[string]*Server)}
}

// Lookup returns the replica set owning slot s, or nil if unassigned.
func (t *Table) Lookup(s int) *ReplicaSet {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Authoritative[s]
}

// ServerByAddr looks up a currently known backend by host:port, used to
// resolve a `-MOVED`/`-ASK` redirect's literal address (spec §4.6
// Redirection step 2).
func (t *Table) ServerByAddr(addr string) (*Server, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	srv, ok := t.servers[addr]
	return srv, ok
}

// StageFromNodes rebuilds the staging slot table and server set from a
// freshly parsed CLUSTER NODES snapshot (spec §4.6 step 4's "external
// consumer parses probebuf and fills ffi_slots[]/ffi_server[]").
func (t *Table) StageFromNodes(nodes []NodeInfo) {
	var staging [NumSlots]*ReplicaSet
	servers := make(map[string]*Server, len(nodes))
	sets := make(map[string]*ReplicaSet, len(nodes))

	for _, n := range nodes {
		if n.Master {
			sets[n.ID] = &ReplicaSet{Master: &Server{Addr: n.Addr, Name: n.Addr, ID: n.ID}}
		}
	}
	for _, n := range nodes {
		if n.Master {
			srv := sets[n.ID].Master
			servers[srv.Addr] = srv
			continue
		}
		rs, ok := sets[n.MasterID]
		if !ok {
			continue
		}
		srv := &Server{Addr: n.Addr, Name: n.Addr, ID: n.ID}
		servers[srv.Addr] = srv
		rs.AddSlave(0, srv)
	}

	for _, n := range nodes {
		if !n.Master {
			continue
		}
		rs := sets[n.ID]
		for _, rng := range n.Slots {
			for s := rng[0]; s <= rng[1] && s < NumSlots; s++ {
				staging[s] = rs
			}
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.staging = staging
	t.servers = servers
	t.stagingServerUpdate = true
	t.stagingSlotsUpdate = true
}

// Swap promotes the staged table to authoritative (spec §4.6 step 5):
// "memcpy(slots, ffi_slots, ...)" / server-array swap, performed in one
// step since this implementation keeps server identity folded into the
// same staged snapshot rather than refreshing it independently.
func (t *Table) Swap() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stagingSlotsUpdate {
		t.Authoritative = t.staging
		t.stagingSlotsUpdate = false
	}
	t.stagingServerUpdate = false
}

// PendingSwap reports whether a staged refresh is ready to be promoted.
func (t *Table) PendingSwap() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stagingSlotsUpdate || t.stagingServerUpdate
}

// Snapshot returns a shallow copy of the authoritative slot table for
// the admin `/debug/slots` route; safe to call from any goroutine.
func (t *Table) Snapshot() [NumSlots]*ReplicaSet {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Authoritative
}

// PickProbeTarget chooses a connection target for the periodic CLUSTER
// NODES probe (spec §4.6 Refresh step 2): a random slot's nearest
// tagged slave if one is assigned, else that slot's master, else (for an
// unassigned slot) a random known server.
func (t *Table) PickProbeTarget(rng *rand.Rand) (*Server, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	slot := rng.Intn(NumSlots)
	if rs := t.Authoritative[slot]; rs != nil {
		if bucket := rs.FirstNonEmptyBucket(); len(bucket) > 0 {
			return bucket[rng.Intn(len(bucket))], true
		}
		if rs.Master != nil {
			return rs.Master, true
		}
	}

	if len(t.servers) == 0 {
		return nil, false
	}
	i, n := 0, rng.Intn(len(t.servers))
	for _, srv := range t.servers {
		if i == n {
			return srv, true
		}
		i++
	}
	return nil, false
}
