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

package cluster_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/packetd/rcproxy/cluster"
)

func TestReplicaSetFirstNonEmptyBucketPrefersLowerIndex(t *testing.T) {
	rs := &cluster.ReplicaSet{Master: &cluster.Server{Addr: "m:1"}}
	assert.Nil(t, rs.FirstNonEmptyBucket())

	near := &cluster.Server{Addr: "near:1"}
	far := &cluster.Server{Addr: "far:1"}
	rs.AddSlave(2, far)
	rs.AddSlave(0, near)

	bucket := rs.FirstNonEmptyBucket()
	assert.Equal(t, []*cluster.Server{near}, bucket)
}

func TestReplicaSetAddSlaveClampsOutOfRangeBucket(t *testing.T) {
	rs := &cluster.ReplicaSet{}
	srv := &cluster.Server{Addr: "s:1"}
	rs.AddSlave(99, srv)
	assert.Equal(t, []*cluster.Server{srv}, rs.Slaves[cluster.NumTags-1])
}
