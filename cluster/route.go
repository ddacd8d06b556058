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
	"time"

	"github.com/pkg/errors"
)

// ErrNoRoute is returned when a slot has no assigned replica set yet,
// meaning the topology refresher hasn't completed an initial pass.
var ErrNoRoute = errors.New("cluster: no route for slot")

// ErrNoServer is returned when a replica set exists for a slot but
// carries no usable server for the requested access mode.
var ErrNoServer = errors.New("cluster: no server for slot")

// Router selects an outbound backend connection for a keyed command
// (component G, spec §4.6 Routing: "given a message and a key, select
// the outbound server connection").
type Router struct {
	Table *Table
	Hash  HashFunc
	Rand  *rand.Rand
}

// NewRouter builds a Router over tbl using hash fn, defaulting to
// XXHash when fn is nil.
func NewRouter(tbl *Table, fn HashFunc) *Router {
	if fn == nil {
		fn = XXHash
	}
	return &Router{Table: tbl, Hash: fn, Rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Route picks the server that should receive a command touching key.
// Writes always go to the slot's master. Reads prefer the first
// non-empty locality tag bucket of slaves, falling back to the master
// when no slave is assigned (spec §3's tagged_servers locality
// preference, §4.6 Routing).
func (r *Router) Route(key []byte, write bool) (*Server, int, error) {
	slot := SlotOf(key, r.Hash)
	rs := r.Table.Lookup(slot)
	if rs == nil {
		return nil, slot, ErrNoRoute
	}
	if write {
		if rs.Master == nil {
			return nil, slot, ErrNoServer
		}
		return rs.Master, slot, nil
	}
	if bucket := rs.FirstNonEmptyBucket(); len(bucket) > 0 {
		return bucket[r.Rand.Intn(len(bucket))], slot, nil
	}
	if rs.Master == nil {
		return nil, slot, ErrNoServer
	}
	return rs.Master, slot, nil
}

// RouteSlot resolves the server a `-MOVED`/`-ASK` redirect names, once
// the target address has already been decoded (spec §4.6 Redirection).
// The lookup is by addr alone among the table's known servers; slot is
// not consulted.
func (r *Router) RouteSlot(slot int, addr string) (*Server, bool) {
	return r.Table.ServerByAddr(addr)
}
