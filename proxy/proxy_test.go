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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/rcproxy/bufchain"
	"github.com/packetd/rcproxy/message"
)

func TestRemainingLenSumsUnparsedAcrossChunks(t *testing.T) {
	pool := bufchain.NewPool(4)
	chain := bufchain.NewChain(pool)
	require.NoError(t, chain.Append([]byte("abcd")))
	require.NoError(t, chain.Append([]byte("ef")))

	assert.Equal(t, 6, remainingLen(chain))

	// advancing the head chunk's parse cursor should shrink the total
	chain.Head().Advance(4)
	assert.Equal(t, 2, remainingLen(chain))
}

func TestRequestOwnerDeliverOnlyFiresOnce(t *testing.T) {
	owner := &requestOwner{result: make(chan *message.Message, 1)}

	first := &message.Message{Type: message.TypeStatus}
	second := &message.Message{Type: message.TypeError}

	assert.True(t, owner.deliver(first))
	assert.False(t, owner.deliver(second))

	got := <-owner.result
	assert.Same(t, first, got)
}

func TestAllowlistEmptyPathAllowsEverything(t *testing.T) {
	a := NewAllowlist("", time.Second)
	assert.True(t, a.Allowed("10.0.0.1"))
	assert.True(t, a.Allowed("anything"))
}

func TestAllowlistReloadPicksUpNewEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "allow.txt")
	require.NoError(t, os.WriteFile(path, []byte("10.0.0.1\n# comment\n\n10.0.0.2\n"), 0o644))

	a := NewAllowlist(path, time.Millisecond)
	assert.True(t, a.Allowed("10.0.0.1"))
	assert.True(t, a.Allowed("10.0.0.2"))
	assert.False(t, a.Allowed("10.0.0.3"))

	// bump mtime so the next poll sees a change
	future := time.Now().Add(time.Second)
	require.NoError(t, os.WriteFile(path, []byte("10.0.0.3\n"), 0o644))
	require.NoError(t, os.Chtimes(path, future, future))

	changed, err := a.changed()
	require.NoError(t, err)
	assert.True(t, changed)

	require.NoError(t, a.reload())
	assert.True(t, a.Allowed("10.0.0.3"))
	assert.False(t, a.Allowed("10.0.0.1"))
}
