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

// NumTags is the number of locality/role tag buckets a replica set
// keeps its slaves sorted into (spec §3's `tagged_servers[0..4]`).
const NumTags = 5

// Server is a single backend endpoint. Connection pooling/dialing lives
// in the proxy package (component L); cluster only tracks identity and
// routing-relevant health.
type Server struct {
	Addr    string // host:port, also the server-pool hash-table key
	Name    string // logical name, defaults to Addr
	ID      string // CLUSTER NODES node id, when known

	Failures    int
	NextRetryAt int64 // unix nanos; zero means eligible now
}

// Tag is a locality/role class name attached to a slave server (e.g.
// "same-zone", "same-env"); buckets are scanned in registration order
// so bucket 0 is the nearest-preference tag.
type Tag string

// ReplicaSet is a master plus up to NumTags tag-indexed slave lists,
// spec §3's "Replica set".
type ReplicaSet struct {
	Master *Server
	Slaves [NumTags][]*Server
}

// AddSlave appends srv to the tag bucket at index bucket; an index
// outside 0..NumTags-1 is clamped to the last bucket. The
// topology loader decides tag assignment (e.g. by comparing zone labels
// to the proxy's own configured zone); this method just stores the
// result.
func (rs *ReplicaSet) AddSlave(bucket int, srv *Server) {
	if bucket < 0 || bucket >= NumTags {
		bucket = NumTags - 1
	}
	rs.Slaves[bucket] = append(rs.Slaves[bucket], srv)
}

// FirstNonEmptyBucket returns the slave list of the first populated tag
// bucket in preference order, or nil if the replica set has no slaves.
func (rs *ReplicaSet) FirstNonEmptyBucket() []*Server {
	for _, bucket := range rs.Slaves {
		if len(bucket) > 0 {
			return bucket
		}
	}
	return nil
}
