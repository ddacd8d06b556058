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

package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/rcproxy/bufchain"
)

func newTestPool() *Pool {
	return NewPool(bufchain.NewPool(64))
}

func TestPoolGetAssignsFreshChainAndID(t *testing.T) {
	p := newTestPool()

	m1 := p.Get(true)
	m2 := p.Get(true)

	require.NotNil(t, m1.Chain)
	require.NotNil(t, m2.Chain)
	assert.NotEqual(t, m1.ID, m2.ID)
	assert.True(t, m1.Request)
}

func TestPoolPutResetsAndRecycles(t *testing.T) {
	p := newTestPool()

	m := p.Get(true)
	require.NoError(t, m.Chain.Append([]byte("*1\r\n$4\r\nPING\r\n")))
	m.Type = TypePing
	m.Command = "PING"
	m.Keys = append(m.Keys, KeyRef{Chunk: m.Chain.Head(), Start: 0, End: 1})

	p.Put(m)

	assert.Equal(t, TypeUnknown, m.Type)
	assert.Equal(t, "", m.Command)
	assert.Nil(t, m.Chain)
	assert.Nil(t, m.Keys)
}

func TestKeyRefBytes(t *testing.T) {
	pool := bufchain.NewPool(64)
	chain := bufchain.NewChain(pool)
	require.NoError(t, chain.Append([]byte("foobar")))

	ref := KeyRef{Chunk: chain.Head(), Start: 0, End: 3}
	assert.Equal(t, "foo", string(ref.Bytes()))

	var zero KeyRef
	assert.True(t, zero.IsZero())
	assert.Nil(t, zero.Bytes())
}

func TestMessageMLen(t *testing.T) {
	p := newTestPool()
	m := p.Get(true)
	require.NoError(t, m.Chain.Append([]byte("hello")))
	assert.Equal(t, 5, m.MLen())

	m.Chain = nil
	assert.Equal(t, 0, m.MLen())
}

func TestFragmentLinkage(t *testing.T) {
	p := newTestPool()
	owner := p.Get(true)
	owner.NFrag = 2
	owner.FragSeq = make([]*Message, 2)

	frag0 := p.Get(true)
	frag0.FragOwner = owner
	frag0.FragID = owner.ID
	owner.FragSeq[0] = frag0

	frag1 := p.Get(true)
	frag1.FragOwner = owner
	frag1.FragID = owner.ID
	owner.FragSeq[1] = frag1

	owner.NFragDone++
	owner.NFragDone++

	assert.Equal(t, owner.NFrag, owner.NFragDone)
	assert.Same(t, owner, frag0.FragOwner)
	assert.Same(t, owner, frag1.FragOwner)
}
