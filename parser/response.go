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
	"bytes"
	"strconv"

	"github.com/packetd/rcproxy/message"
)

// advanceElement moves the multibulk element countdown forward by one and
// reports whether more elements remain. It prefers the nested countdown
// (RNArg2) while inside a one-level-deep array (SSCAN/HSCAN/ZSCAN shape),
// popping back to the outer countdown (RNArg) once the nested array is
// exhausted — the nested array itself counted as exactly one outer
// element.
func advanceElement(msg *message.Message) bool {
	if msg.RNArg2 > 0 {
		msg.RNArg2--
		if msg.RNArg2 == 0 {
			msg.RNArg2 = -1
			msg.RNArg--
			return msg.RNArg > 0
		}
		return true
	}
	msg.RNArg--
	return msg.RNArg > 0
}

// reclassifyError inspects a completed `-...` line for the `MOVED ` /
// `ASK ` prefixes (spec §4.4's "7-byte lookahead") and, when matched,
// promotes msg.Type and extracts the slot and `host:port` literal.
func reclassifyError(msg *message.Message, line []byte) {
	switch {
	case bytes.HasPrefix(line, []byte("MOVED ")):
		msg.Type = message.TypeMoved
		parseRedirect(msg, line[len("MOVED "):])
	case bytes.HasPrefix(line, []byte("ASK ")):
		msg.Type = message.TypeAsk
		parseRedirect(msg, line[len("ASK "):])
	}
}

func parseRedirect(msg *message.Message, rest []byte) {
	sp := bytes.IndexByte(rest, ' ')
	if sp < 0 {
		return
	}
	if slot, err := strconv.ParseInt(string(rest[:sp]), 10, 64); err == nil {
		msg.Integer = slot
	}
	msg.Addr = string(rest[sp+1:])
}

// Response incrementally parses a reply message: status, error, integer,
// bulk, or multibulk (spec §4.4), resuming exactly where a prior call
// suspended. Multibulk replies may nest exactly one level deep, the shape
// SSCAN/HSCAN/ZSCAN use for `[cursor, [members...]]`; every element at
// either level must be a bulk string.
func Response(msg *message.Message) Verdict {
	cur := newCursor(msg.Chain.Head())

	for {
		switch msg.State {
		case message.StateStart:
			mb, v := readMarker(cur, msg)
			if v != OK {
				return v
			}
			msg.RLen = 0
			switch mb {
			case '+':
				msg.Type = message.TypeStatus
				msg.State = message.StateTypeBody
			case '-':
				msg.Type = message.TypeError
				msg.State = message.StateTypeBody
			case ':':
				msg.State = message.StateTypeLen
			case '$':
				msg.State = message.StateKeyLen
			case '*':
				msg.State = message.StateArgLen
			default:
				return fail(msg, ErrProtocol)
			}

		case message.StateTypeBody:
			switch v := scanLine(cur, msg); v {
			case OK:
				if msg.Type == message.TypeError {
					reclassifyError(msg, msg.Token)
				}
				msg.Token = nil
				msg.State = message.StateDone
				return OK
			default:
				return v
			}

		case message.StateTypeLen:
			switch v := scanLen(cur, msg); v {
			case OK:
				msg.Integer = int64(msg.RLen)
				msg.RLen = 0
				msg.Type = message.TypeInteger
				msg.State = message.StateDone
				return OK
			default:
				return v
			}

		case message.StateKeyLen:
			switch v := scanLen(cur, msg); v {
			case OK:
				n := msg.RLen
				msg.RLen = 0
				msg.Type = message.TypeBulk
				if n < -1 {
					return fail(msg, ErrProtocol)
				}
				if n == -1 {
					msg.Integer = -1
					msg.State = message.StateDone
					return OK
				}
				msg.RLen = n
				msg.State = message.StateKey
			default:
				return v
			}

		case message.StateKey:
			ch, s, e, ok := cur.takeRun(msg.RLen)
			if !ok {
				if cur.full() {
					msg.Token = append(msg.Token[:0], cur.chunk().Unparsed()...)
					return Repair
				}
				return Again
			}
			if msg.Type == message.TypeMultibulk {
				msg.Elements = append(msg.Elements, message.KeyRef{Chunk: ch, Start: s, End: e})
			}
			msg.State = message.StateKeyLF

		case message.StateKeyLF:
			switch v := scanCRLF(cur, msg); v {
			case OK:
				if msg.RNArg > 0 || msg.RNArg2 > 0 {
					if !advanceElement(msg) {
						msg.State = message.StateDone
						return OK
					}
					msg.State = message.StateArgLF
				} else {
					msg.State = message.StateDone
					return OK
				}
			default:
				return v
			}

		case message.StateArgLen:
			switch v := scanLen(cur, msg); v {
			case OK:
				n := msg.RLen
				msg.RLen = 0
				msg.Type = message.TypeMultibulk
				msg.Integer = int64(n)
				if n <= 0 {
					msg.State = message.StateDone
					return OK
				}
				msg.RNArg = n
				msg.RNArg2 = -1
				msg.State = message.StateArgLF
			default:
				return v
			}

		case message.StateArgLF:
			mb, v := readMarker(cur, msg)
			if v != OK {
				return v
			}
			msg.RLen = 0
			switch mb {
			case '$':
				msg.State = message.StateNArgLF
			case '*':
				if msg.RNArg2 != -1 {
					return fail(msg, ErrProtocol)
				}
				msg.State = message.StateTypeLenLF
			default:
				return fail(msg, ErrProtocol)
			}

		case message.StateNArgLF:
			switch v := scanLen(cur, msg); v {
			case OK:
				n := msg.RLen
				msg.RLen = 0
				if n < -1 {
					return fail(msg, ErrProtocol)
				}
				if n == -1 {
					if msg.Type == message.TypeMultibulk {
						msg.Elements = append(msg.Elements, message.KeyRef{})
					}
					if !advanceElement(msg) {
						msg.State = message.StateDone
						return OK
					}
					msg.State = message.StateArgLF
					continue
				}
				msg.RLen = n
				msg.State = message.StateKey
			default:
				return v
			}

		case message.StateTypeLenLF:
			switch v := scanLen(cur, msg); v {
			case OK:
				m := msg.RLen
				msg.RLen = 0
				if m <= 0 {
					msg.RNArg--
					if msg.RNArg == 0 {
						msg.State = message.StateDone
						return OK
					}
					msg.State = message.StateArgLF
				} else {
					msg.RNArg2 = m
					msg.State = message.StateArgLF
				}
			default:
				return v
			}

		case message.StateDone:
			return OK

		default:
			return fail(msg, ErrProtocol)
		}
	}
}
