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

package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/rcproxy/bufchain"
	"github.com/packetd/rcproxy/message"
)

func newReq(chunkSize int) (*message.Pool, *message.Message) {
	mp := message.NewPool(bufchain.NewPool(chunkSize))
	return mp, mp.Get(true)
}

func TestRequestGetSingleShot(t *testing.T) {
	_, msg := newReq(4096)
	require.NoError(t, msg.Chain.Append([]byte("*2\r\n$3\r\nGET\r\n$3\r\nfoo\r\n")))

	v := Request(msg)
	require.Equal(t, OK, v)
	assert.Equal(t, "GET", msg.Command)
	assert.Equal(t, message.TypeGet, msg.Type)
	assert.Equal(t, Arg0, ArityClass(msg.Class))
	assert.False(t, msg.Write)
	require.Len(t, msg.Keys, 1)
	assert.Equal(t, "foo", string(msg.Keys[0].Bytes()))
}

func TestRequestResumesAcrossByteByByteFeed(t *testing.T) {
	_, msg := newReq(4096)
	raw := "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n"

	var v Verdict
	for i := 0; i < len(raw); i++ {
		require.NoError(t, msg.Chain.Append([]byte{raw[i]}))
		v = Request(msg)
		if v == OK {
			assert.Equal(t, i, len(raw)-1, "should only complete on the final byte")
			break
		}
		require.Equal(t, Again, v, "byte %d (%q)", i, raw[i])
	}
	require.Equal(t, OK, v)
	assert.Equal(t, "SET", msg.Command)
	assert.True(t, msg.Write)
	require.Len(t, msg.Keys, 1)
	assert.Equal(t, "k", string(msg.Keys[0].Bytes()))
}

func TestRequestMGetCollectsAllKeysAsArgX(t *testing.T) {
	_, msg := newReq(4096)
	require.NoError(t, msg.Chain.Append([]byte("*4\r\n$4\r\nMGET\r\n$1\r\na\r\n$1\r\nb\r\n$1\r\nc\r\n")))

	require.Equal(t, OK, Request(msg))
	assert.Equal(t, message.TypeMGet, msg.Type)
	assert.True(t, msg.Fragment)
	require.Len(t, msg.Keys, 3)
	assert.Equal(t, []string{"a", "b", "c"}, keyStrings(msg.Keys))
}

func TestRequestMSetRejectsEvenNarg(t *testing.T) {
	_, msg := newReq(4096)
	// MSET k1 v1 k2 (dangling key with no value -> narg = 4, even -> error)
	require.NoError(t, msg.Chain.Append([]byte("*4\r\n$4\r\nMSET\r\n$2\r\nk1\r\n$2\r\nv1\r\n$2\r\nk2\r\n")))

	assert.Equal(t, Error, Request(msg))
	assert.ErrorIs(t, msg.Errno, ErrProtocol)
}

func TestRequestMSetAcceptsOddNargAndPairsKeysAndValues(t *testing.T) {
	_, msg := newReq(4096)
	require.NoError(t, msg.Chain.Append([]byte("*5\r\n$4\r\nMSET\r\n$2\r\nk1\r\n$2\r\nv1\r\n$2\r\nk2\r\n$2\r\nv2\r\n")))

	require.Equal(t, OK, Request(msg))
	require.Len(t, msg.Keys, 2)
	assert.Equal(t, []string{"k1", "k2"}, keyStrings(msg.Keys))
	require.Len(t, msg.Vals, 2)
	assert.Equal(t, []string{"v1", "v2"}, keyStrings(msg.Vals))
}

func TestRequestPingIsNoForward(t *testing.T) {
	_, msg := newReq(4096)
	require.NoError(t, msg.Chain.Append([]byte("*1\r\n$4\r\nPING\r\n")))

	require.Equal(t, OK, Request(msg))
	assert.True(t, msg.NoForward)
	assert.Equal(t, message.TypePing, msg.Type)
}

func TestRequestUnknownCommandErrors(t *testing.T) {
	_, msg := newReq(4096)
	require.NoError(t, msg.Chain.Append([]byte("*1\r\n$7\r\nBOGUSCM\r\n")))

	assert.Equal(t, Error, Request(msg))
}

func TestRequestEvalKeysBoundedByNumKeys(t *testing.T) {
	_, msg := newReq(4096)
	// EVAL script numkeys key1 key2
	require.NoError(t, msg.Chain.Append([]byte(
		"*5\r\n$4\r\nEVAL\r\n$6\r\nscript\r\n$1\r\n2\r\n$4\r\nkey1\r\n$4\r\nkey2\r\n")))

	require.Equal(t, OK, Request(msg))
	require.Len(t, msg.Keys, 2)
	assert.Equal(t, []string{"key1", "key2"}, keyStrings(msg.Keys))
}

func TestRequestKeyLargerThanChunkIsError(t *testing.T) {
	_, msg := newReq(16)
	require.NoError(t, msg.Chain.Append([]byte("*2\r\n$3\r\nGET\r\n$32\r\n")))

	assert.Equal(t, Error, Request(msg))
	assert.ErrorIs(t, msg.Errno, ErrKeyTooBig)
}

func keyStrings(refs []message.KeyRef) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = string(r.Bytes())
	}
	return out
}
