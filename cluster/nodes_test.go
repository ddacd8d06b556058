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
	"github.com/stretchr/testify/require"

	"github.com/packetd/rcproxy/cluster"
)

const sampleNodesReply = "" +
	"07c37dfeb235213a872192d90877d0cd55635b91 127.0.0.1:30004@31004 slave e7d1eecce10fd6bb5eb35b9f99a514335d9ba9ca 0 1426238317239 4 connected\n" +
	"e7d1eecce10fd6bb5eb35b9f99a514335d9ba9ca 127.0.0.1:30001@31001 myself,master - 0 0 1 connected 0-5460\n" +
	"67ed2db8d677e59ec4a4cefb06858cf2a1a89fa1 127.0.0.1:30002@31002 master - 0 1426238316232 2 connected 5461-10922\n" +
	"292f8b365bb7edb5e285caf0b7e6ddc7265d2f4f 127.0.0.1:30003@31003 master - 0 1426238317741 3 connected 10923-16383\n"

func TestParseNodesSortsMastersBeforeSlaves(t *testing.T) {
	nodes, err := cluster.ParseNodes([]byte(sampleNodesReply))
	require.NoError(t, err)
	require.Len(t, nodes, 4)

	for i, n := range nodes {
		if !n.Master {
			for _, later := range nodes[i+1:] {
				assert.False(t, later.Master)
			}
		}
	}
	assert.True(t, nodes[0].Master)
	assert.False(t, nodes[len(nodes)-1].Master)
}

func TestParseNodesFillsSlotRangesOnMastersOnly(t *testing.T) {
	nodes, err := cluster.ParseNodes([]byte(sampleNodesReply))
	require.NoError(t, err)

	var master *cluster.NodeInfo
	for i := range nodes {
		if nodes[i].ID == "e7d1eecce10fd6bb5eb35b9f99a514335d9ba9ca" {
			master = &nodes[i]
		}
	}
	require.NotNil(t, master)
	assert.Equal(t, [][2]int{{0, 5460}}, master.Slots)
	assert.Equal(t, "127.0.0.1:30001", master.Addr)

	var slave *cluster.NodeInfo
	for i := range nodes {
		if !nodes[i].Master {
			slave = &nodes[i]
		}
	}
	require.NotNil(t, slave)
	assert.Equal(t, "e7d1eecce10fd6bb5eb35b9f99a514335d9ba9ca", slave.MasterID)
	assert.Empty(t, slave.Slots)
}

func TestParseNodesRejectsMalformedLine(t *testing.T) {
	_, err := cluster.ParseNodes([]byte("too short\n"))
	assert.Error(t, err)
}
