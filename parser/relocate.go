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

import "github.com/packetd/rcproxy/message"

// Relocate performs the byte move spec §4.3 requires of PARSE_REPAIR's
// caller: "copy the partial token into the head of the next chunk before
// resuming." It is the one piece of the I/O-facing contract this package
// exposes directly, since getting it wrong silently corrupts a
// straddling token — the event loop (out of scope per spec §1) is only
// expected to append fresh bytes and call Relocate once per Repair
// verdict, never to touch msg.Token itself.
//
// The chunk that triggered Repair is always the chain's current tail:
// Request/Response never read ahead of what has been written, and Append
// only ever grows the tail. Relocate marks that chunk fully consumed
// (so the next Request/Response call's cursor skips straight past it) and
// writes the preserved partial token to a freshly appended chunk, ready
// to be followed by whatever new bytes the caller appends next.
func Relocate(msg *message.Message) error {
	if tail := msg.Chain.Tail(); tail != nil {
		tail.Advance(len(tail.Unparsed()))
	}
	tok := append([]byte(nil), msg.Token...)
	msg.Token = msg.Token[:0]
	if len(tok) == 0 {
		return nil
	}
	return msg.Chain.Append(tok)
}
