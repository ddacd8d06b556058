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
	"strconv"

	"github.com/pkg/errors"

	"github.com/packetd/rcproxy/message"
)

var (
	// ErrProtocol is returned when the input violates the unified request
	// grammar or an unknown command is seen.
	ErrProtocol = errors.New("parser: protocol error")
	// ErrKeyTooBig is returned when a key's declared length would not fit
	// inside a single fresh chunk (spec §4.3 key-length bound).
	ErrKeyTooBig = errors.New("parser: key exceeds chunk capacity")
)

// commandMessageType maps the handful of commands the rest of the proxy
// needs to recognize by type (internal dispatch, fragmentation) to their
// message.Type; everything else forwards as TypeGeneric.
func commandMessageType(name string) message.Type {
	switch name {
	case "PING":
		return message.TypePing
	case "AUTH":
		return message.TypeAuth
	case "QUIT":
		return message.TypeQuit
	case "SELECT":
		return message.TypeSelect
	case "NODE":
		return message.TypeNode
	case "NODES":
		return message.TypeNodes
	case "SLOT":
		return message.TypeSlot
	case "SLOTS":
		return message.TypeSlots
	case "GET":
		return message.TypeGet
	case "SET":
		return message.TypeSet
	case "MGET":
		return message.TypeMGet
	case "MSET":
		return message.TypeMSet
	case "DEL":
		return message.TypeDel
	case "EVAL":
		return message.TypeEval
	case "EVALSHA":
		return message.TypeEvalSha
	default:
		return message.TypeGeneric
	}
}

func fail(msg *message.Message, err error) Verdict {
	msg.Errno = err
	msg.Error = true
	return Error
}

// isKeyPosition reports whether the trailing token at 0-based position
// idx (idx==0 is the first token after the command name) is a key, given
// the command's arity class. numKeysEval is only meaningful for ArgEval,
// where it is the value read from the `numkeys` token at idx==1.
func isKeyPosition(class ArityClass, idx int, numKeysEval int64) bool {
	switch class {
	case ArgZ:
		return false
	case Arg0, Arg1, Arg2, Arg3, ArgN:
		return idx == 0
	case ArgX:
		return true
	case ArgKVX:
		return idx%2 == 0
	case ArgEval:
		return idx >= 2 && idx < 2+int(numKeysEval)
	default:
		return false
	}
}

// nextArgState decides whether the next trailing token (computed from
// msg.NArg/msg.RNArg, which still includes the token about to be read)
// is a key or a plain argument, and returns the matching entry state.
func nextArgState(msg *message.Message) message.ParseState {
	idx := msg.NArg - 1 - msg.RNArg
	if isKeyPosition(ArityClass(msg.Class), idx, msg.Integer) {
		return message.StateKeyLen
	}
	return message.StateArgLen
}

// Request incrementally parses a request message, resuming from
// msg.State/msg.RLen/msg.RNArg/msg.NArg wherever the previous call left
// off. It recognizes only the unified request format (spec §4.3):
// `*<N>\r\n ( $<len>\r\n <bytes>\r\n ){N}`.
func Request(msg *message.Message) Verdict {
	cur := newCursor(msg.Chain.Head())

	for {
		switch msg.State {
		case message.StateStart, message.StateNArgLF:
			msg.State = message.StateNArgLF
			switch v := scanLenMarked(cur, msg, '*'); v {
			case OK:
				if msg.RLen <= 0 {
					return fail(msg, ErrProtocol)
				}
				msg.NArg = msg.RLen
				msg.RNArg = msg.NArg - 1
				msg.RLen = 0
				msg.State = message.StateTypeLen
			default:
				return v
			}

		case message.StateTypeLen, message.StateTypeLenLF:
			msg.State = message.StateTypeLenLF
			switch v := scanLenMarked(cur, msg, '$'); v {
			case OK:
				if msg.RLen < 1 || msg.RLen > maxCommandLen {
					return fail(msg, ErrProtocol)
				}
				msg.State = message.StateTypeBody
			default:
				return v
			}

		case message.StateTypeBody:
			ch, s, e, ok := cur.takeRun(msg.RLen)
			if !ok {
				if cur.full() {
					msg.Token = append(msg.Token[:0], cur.chunk().Unparsed()...)
					return Repair
				}
				return Again
			}
			name, info, known := classify(ch.Slice(s, e))
			if !known {
				return fail(msg, ErrProtocol)
			}
			msg.Command = name
			msg.Type = commandMessageType(name)
			msg.Class = int(info.Class)
			msg.Write = info.Write
			msg.NoForward = info.NoForward
			msg.Quit = info.Quit
			msg.Fragment = info.Fragment
			msg.State = message.StateTypeLF

		case message.StateTypeLF:
			switch v := scanCRLF(cur, msg); v {
			case OK:
				if ArityClass(msg.Class) == ArgKVX && msg.NArg%2 == 0 {
					return fail(msg, ErrProtocol)
				}
				if msg.RNArg == 0 {
					msg.State = message.StateDone
					return OK
				}
				msg.RLen = 0
				msg.State = nextArgState(msg)
			default:
				return v
			}

		case message.StateKeyLen, message.StateKeyLenLF:
			msg.State = message.StateKeyLenLF
			switch v := scanLenMarked(cur, msg, '$'); v {
			case OK:
				if msg.RLen < 0 {
					return fail(msg, ErrProtocol)
				}
				if msg.RLen >= msg.Chain.Pool().ChunkSize() {
					return fail(msg, ErrKeyTooBig)
				}
				msg.State = message.StateKey
			default:
				return v
			}

		case message.StateArgLen, message.StateArgLenLF:
			msg.State = message.StateArgLenLF
			switch v := scanLenMarked(cur, msg, '$'); v {
			case OK:
				if msg.RLen < 0 {
					return fail(msg, ErrProtocol)
				}
				msg.State = message.StateArg
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
			msg.Keys = append(msg.Keys, message.KeyRef{Chunk: ch, Start: s, End: e})
			msg.State = message.StateKeyLF

		case message.StateArg:
			ch, s, e, ok := cur.takeRun(msg.RLen)
			if !ok {
				if cur.full() {
					msg.Token = append(msg.Token[:0], cur.chunk().Unparsed()...)
					return Repair
				}
				return Again
			}
			switch ArityClass(msg.Class) {
			case ArgEval:
				if msg.NArg-1-msg.RNArg == 1 {
					n, err := strconv.ParseInt(string(ch.Slice(s, e)), 10, 64)
					if err != nil || n < 1 {
						return fail(msg, ErrProtocol)
					}
					msg.Integer = n
				}
			case ArgKVX:
				// odd-indexed trailing tokens are the value half of each key/value
				// pair; Vals[i] pairs positionally with Keys[i]
				msg.Vals = append(msg.Vals, message.KeyRef{Chunk: ch, Start: s, End: e})
			}
			msg.State = message.StateArgLF

		case message.StateKeyLF:
			switch v := scanCRLF(cur, msg); v {
			case OK:
				msg.RNArg--
				if msg.RNArg == 0 {
					msg.State = message.StateDone
					return OK
				}
				msg.RLen = 0
				msg.State = nextArgState(msg)
			default:
				return v
			}

		case message.StateArgLF:
			switch v := scanCRLF(cur, msg); v {
			case OK:
				msg.RNArg--
				if msg.RNArg == 0 {
					msg.State = message.StateDone
					return OK
				}
				msg.RLen = 0
				msg.State = nextArgState(msg)
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
