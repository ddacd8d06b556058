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

package parser_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/rcproxy/bufchain"
	"github.com/packetd/rcproxy/message"
	"github.com/packetd/rcproxy/parser"
)

// feedByteByByte drives Request one byte at a time over a deliberately
// tiny chunk pool, so chunks fill up again and again while the message
// is still being parsed — forcing PARSE_REPAIR (carrying a partial token
// over whenever one straddles the boundary) and exercising
// parser.Relocate at every full chunk, not just one contrived spot.
func feedByteByByte(t *testing.T, msg *message.Message, raw string) parser.Verdict {
	t.Helper()
	for i := 0; i < len(raw); i++ {
		require.NoError(t, msg.Chain.Append([]byte{raw[i]}))
		v := parser.Request(msg)
		switch v {
		case parser.Again:
			continue
		case parser.Repair:
			require.NoError(t, parser.Relocate(msg))
			continue
		case parser.OK:
			if i != len(raw)-1 {
				t.Fatalf("PARSE_OK fired early at byte %d/%d", i, len(raw)-1)
			}
			return v
		default:
			t.Fatalf("unexpected verdict %s at byte %d", v, i)
		}
	}
	return parser.Again
}

func TestRelocateAcrossStraddlingChunks(t *testing.T) {
	mp := message.NewPool(bufchain.NewPool(8))
	msg := mp.Get(true)

	raw := "*2\r\n$3\r\nGET\r\n$5\r\nhello\r\n"
	v := feedByteByByte(t, msg, raw)

	require.Equal(t, parser.OK, v)
	assert.Equal(t, "GET", msg.Command)
	require.Len(t, msg.Keys, 1)
	assert.Equal(t, "hello", string(msg.Keys[0].Bytes()))
}

func TestRelocatePreservesKeyAndStraddlingValue(t *testing.T) {
	mp := message.NewPool(bufchain.NewPool(12))
	msg := mp.Get(true)

	raw := "*3\r\n$4\r\nMSET\r\n$6\r\nfoobar\r\n$9\r\nlongvalue\r\n"
	v := feedByteByByte(t, msg, raw)

	require.Equal(t, parser.OK, v)
	assert.Equal(t, "MSET", msg.Command)
	require.Len(t, msg.Keys, 1)
	require.Len(t, msg.Vals, 1)
	assert.Equal(t, "foobar", string(msg.Keys[0].Bytes()))
	assert.Equal(t, "longvalue", string(msg.Vals[0].Bytes()))
}
