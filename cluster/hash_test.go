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

func TestSlotOfIsDeterministic(t *testing.T) {
	a := cluster.SlotOf([]byte("foo"), cluster.XXHash)
	b := cluster.SlotOf([]byte("foo"), cluster.XXHash)
	assert.Equal(t, a, b)
	assert.True(t, a >= 0 && a < cluster.NumSlots)
}

func TestSlotOfHonorsHashTag(t *testing.T) {
	withTag := cluster.SlotOf([]byte("user:{42}:profile"), cluster.XXHash)
	bareTag := cluster.SlotOf([]byte("42"), cluster.XXHash)
	assert.Equal(t, bareTag, withTag)

	other := cluster.SlotOf([]byte("user:{42}:followers"), cluster.XXHash)
	assert.Equal(t, withTag, other)
}

func TestSlotOfIgnoresEmptyHashTag(t *testing.T) {
	// "{}" has no content between braces, so the whole key hashes normally.
	a := cluster.SlotOf([]byte("{}abc"), cluster.XXHash)
	b := int(cluster.XXHash([]byte("{}abc")) % cluster.NumSlots)
	assert.Equal(t, a, b)
}

func TestCRC16HashMatchesKnownVector(t *testing.T) {
	// CRC16/XMODOM("123456789") = 0x31C3, the standard check value.
	assert.Equal(t, uint64(0x31C3), cluster.CRC16Hash([]byte("123456789")))
}

func TestCRC16HashIsDeterministic(t *testing.T) {
	a := cluster.CRC16Hash([]byte("some-moderately-long-key-name"))
	b := cluster.CRC16Hash([]byte("some-moderately-long-key-name"))
	assert.Equal(t, a, b)
}
