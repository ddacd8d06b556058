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

import "github.com/packetd/rcproxy/bufchain"

// cursor walks a message's buffer chain one step at a time, always
// resuming from exactly the chunk/position the previous call left off
// at — each Chunk remembers its own parse cursor (pos), so the cursor
// itself carries no state across Parse calls beyond the *Chunk pointer
// it was last built from.
type cursor struct {
	ch *bufchain.Chunk
}

// newCursor builds a cursor starting at head, skipping forward over any
// chunks that are already fully consumed and have a successor — those
// chunks belong to a prior message or an already-parsed prefix.
func newCursor(head *bufchain.Chunk) *cursor {
	ch := head
	for ch != nil && ch.AtEnd() && ch.Next() != nil {
		ch = ch.Next()
	}
	return &cursor{ch: ch}
}

// chunk returns the chunk the cursor currently sits in.
func (c *cursor) chunk() *bufchain.Chunk {
	return c.ch
}

// full reports whether the cursor's current chunk cannot accept any more
// bytes — the signal that separates PARSE_AGAIN (more bytes will still
// land in this chunk) from PARSE_REPAIR (the in-progress token must be
// relocated to a fresh chunk).
func (c *cursor) full() bool {
	return c.ch == nil || c.ch.Avail() == 0
}

// readByte consumes and returns the next unparsed byte, advancing past
// chunk boundaries transparently. ok is false when no more bytes are
// currently available.
func (c *cursor) readByte() (byte, bool) {
	for {
		if c.ch == nil {
			return 0, false
		}
		if c.ch.AtEnd() {
			if next := c.ch.Next(); next != nil {
				c.ch = next
				continue
			}
			return 0, false
		}
		b := c.ch.Unparsed()[0]
		c.ch.Advance(1)
		return b, true
	}
}

// takeRun attempts to consume exactly n bytes as a single contiguous
// slice of the current chunk, without crossing into the next one — the
// zero-copy fast path used for key and bulk-argument bodies, which by
// invariant (spec §4.3 "key-length bound") must fit inside one chunk.
//
// ok is false if the current chunk doesn't have n unparsed bytes yet;
// the caller then falls back to deciding PARSE_AGAIN vs PARSE_REPAIR.
func (c *cursor) takeRun(n int) (ch *bufchain.Chunk, start, end int, ok bool) {
	if c.ch == nil {
		return nil, 0, 0, false
	}
	if len(c.ch.Unparsed()) < n {
		return nil, 0, 0, false
	}
	start = c.ch.Pos()
	c.ch.Advance(n)
	return c.ch, start, start + n, true
}
