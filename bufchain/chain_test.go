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

package bufchain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainAppendAndBytes(t *testing.T) {
	pool := NewPool(8)
	chain := NewChain(pool)

	require.NoError(t, chain.Append([]byte("hello")))
	require.NoError(t, chain.Append([]byte(" world!")))

	assert.Equal(t, "hello world!", string(chain.Bytes()))
	assert.Equal(t, len("hello world!"), chain.Length())
}

func TestChainPrependFormat(t *testing.T) {
	pool := NewPool(32)
	chain := NewChain(pool)
	require.NoError(t, chain.Append([]byte("$1\r\na\r\n")))
	require.NoError(t, chain.PrependFormat("*%d\r\n$4\r\nmget\r\n", 2))

	assert.Equal(t, "*2\r\n$4\r\nmget\r\n$1\r\na\r\n", string(chain.Bytes()))
}

func TestChainRewind(t *testing.T) {
	pool := NewPool(32)
	chain := NewChain(pool)
	require.NoError(t, chain.Append([]byte("*1\r\n$4\r\nPING\r\n")))

	chain.Head().pos = chain.Head().last
	chain.Rewind()
	assert.Equal(t, chain.Head().start, chain.Head().pos)
}

func TestChainCopyFromStealsWholeChunk(t *testing.T) {
	pool := NewPool(4)
	src := NewChain(pool)
	require.NoError(t, src.Append([]byte("abcd")))
	require.NoError(t, src.Append([]byte("efgh")))

	dst := NewChain(pool)
	require.NoError(t, dst.CopyFrom(src, 4))

	assert.Equal(t, "abcd", string(dst.Bytes()))
	assert.Equal(t, "efgh", string(src.Bytes()))
}

func TestChainCopyFromSplitsPartialChunk(t *testing.T) {
	pool := NewPool(16)
	src := NewChain(pool)
	require.NoError(t, src.Append([]byte("abcdefgh")))

	dst := NewChain(pool)
	require.NoError(t, dst.CopyFrom(src, 3))

	assert.Equal(t, "abc", string(dst.Bytes()))
	assert.Equal(t, "defgh", string(src.Bytes()))
}
