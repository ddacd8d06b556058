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

func newResp(chunkSize int) *message.Message {
	mp := message.NewPool(bufchain.NewPool(chunkSize))
	return mp.Get(false)
}

func TestResponseStatusLine(t *testing.T) {
	msg := newResp(4096)
	require.NoError(t, msg.Chain.Append([]byte("+OK\r\n")))

	require.Equal(t, OK, Response(msg))
	assert.Equal(t, message.TypeStatus, msg.Type)
}

func TestResponseIntegerNegative(t *testing.T) {
	msg := newResp(4096)
	require.NoError(t, msg.Chain.Append([]byte(":-7\r\n")))

	require.Equal(t, OK, Response(msg))
	assert.Equal(t, message.TypeInteger, msg.Type)
	assert.EqualValues(t, -7, msg.Integer)
}

func TestResponseBulkString(t *testing.T) {
	msg := newResp(4096)
	require.NoError(t, msg.Chain.Append([]byte("$3\r\nbar\r\n")))

	require.Equal(t, OK, Response(msg))
	assert.Equal(t, message.TypeBulk, msg.Type)
}

func TestResponseNullBulk(t *testing.T) {
	msg := newResp(4096)
	require.NoError(t, msg.Chain.Append([]byte("$-1\r\n")))

	require.Equal(t, OK, Response(msg))
	assert.EqualValues(t, -1, msg.Integer)
}

func TestResponseMultibulkOfBulks(t *testing.T) {
	msg := newResp(4096)
	require.NoError(t, msg.Chain.Append([]byte("*2\r\n$1\r\na\r\n$1\r\nb\r\n")))

	require.Equal(t, OK, Response(msg))
	assert.Equal(t, message.TypeMultibulk, msg.Type)
	assert.EqualValues(t, 2, msg.Integer)
}

func TestResponseMovedRedirect(t *testing.T) {
	msg := newResp(4096)
	require.NoError(t, msg.Chain.Append([]byte("-MOVED 3999 127.0.0.1:7001\r\n")))

	require.Equal(t, OK, Response(msg))
	assert.Equal(t, message.TypeMoved, msg.Type)
	assert.EqualValues(t, 3999, msg.Integer)
	assert.Equal(t, "127.0.0.1:7001", msg.Addr)
}

func TestResponseAskRedirect(t *testing.T) {
	msg := newResp(4096)
	require.NoError(t, msg.Chain.Append([]byte("-ASK 3999 127.0.0.1:7001\r\n")))

	require.Equal(t, OK, Response(msg))
	assert.Equal(t, message.TypeAsk, msg.Type)
	assert.EqualValues(t, 3999, msg.Integer)
	assert.Equal(t, "127.0.0.1:7001", msg.Addr)
}

func TestResponsePlainErrorIsNotReclassified(t *testing.T) {
	msg := newResp(4096)
	require.NoError(t, msg.Chain.Append([]byte("-ERR unknown command\r\n")))

	require.Equal(t, OK, Response(msg))
	assert.Equal(t, message.TypeError, msg.Type)
}

// SSCAN-style reply: [cursor, [member1, member2]] — exactly one level of
// nested multibulk.
func TestResponseNestedScanShape(t *testing.T) {
	msg := newResp(4096)
	require.NoError(t, msg.Chain.Append([]byte(
		"*2\r\n$1\r\n0\r\n*2\r\n$1\r\na\r\n$1\r\nb\r\n")))

	require.Equal(t, OK, Response(msg))
	assert.Equal(t, message.TypeMultibulk, msg.Type)
	assert.EqualValues(t, 2, msg.Integer)
}

// SSCAN-style reply with an empty inner array: [cursor, []].
func TestResponseNestedScanEmptyInner(t *testing.T) {
	msg := newResp(4096)
	require.NoError(t, msg.Chain.Append([]byte("*2\r\n$1\r\n0\r\n*0\r\n")))

	require.Equal(t, OK, Response(msg))
	assert.Equal(t, message.TypeMultibulk, msg.Type)
}

func TestResponseResumesByteByByte(t *testing.T) {
	msg := newResp(4096)
	raw := "*3\r\n$1\r\na\r\n$1\r\nb\r\n$1\r\nc\r\n"

	var v Verdict
	for i := 0; i < len(raw); i++ {
		require.NoError(t, msg.Chain.Append([]byte{raw[i]}))
		v = Response(msg)
		if v == OK {
			assert.Equal(t, i, len(raw)-1)
			break
		}
		require.Equal(t, Again, v, "byte %d (%q)", i, raw[i])
	}
	require.Equal(t, OK, v)
	assert.EqualValues(t, 3, msg.Integer)
}

func TestResponseEmptyMultibulk(t *testing.T) {
	msg := newResp(4096)
	require.NoError(t, msg.Chain.Append([]byte("*0\r\n")))

	require.Equal(t, OK, Response(msg))
	assert.EqualValues(t, 0, msg.Integer)
}

func TestResponseUnknownMarkerErrors(t *testing.T) {
	msg := newResp(4096)
	require.NoError(t, msg.Chain.Append([]byte("!nope\r\n")))

	assert.Equal(t, Error, Response(msg))
}
