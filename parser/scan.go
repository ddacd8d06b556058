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

// scanLen accumulates ASCII decimal digits into msg.RLen and consumes the
// trailing CRLF, resuming correctly no matter how many separate calls it
// takes: msg.CRSeen records whether the '\r' has already been seen so a
// suspension landing exactly between '\r' and '\n' still resumes in the
// right sub-phase.
func scanLen(cur *cursor, msg *message.Message) Verdict {
	for {
		if msg.CRSeen {
			b, ok := cur.readByte()
			if !ok {
				if cur.full() {
					return Repair
				}
				return Again
			}
			if b != '\n' {
				return Error
			}
			msg.CRSeen = false
			if msg.Neg {
				msg.RLen = -msg.RLen
				msg.Neg = false
			}
			return OK
		}

		b, ok := cur.readByte()
		if !ok {
			if cur.full() {
				return Repair
			}
			return Again
		}
		if b == '\r' {
			msg.CRSeen = true
			continue
		}
		if b == '-' && msg.RLen == 0 && !msg.Neg {
			msg.Neg = true
			continue
		}
		if b < '0' || b > '9' {
			return Error
		}
		msg.RLen = msg.RLen*10 + int(b-'0')
	}
}

// scanLine accumulates raw bytes (status/error line content) into
// msg.Token until CRLF — used for +OK/-ERR style single-line replies
// where the payload isn't a decimal number.
func scanLine(cur *cursor, msg *message.Message) Verdict {
	for {
		if msg.CRSeen {
			b, ok := cur.readByte()
			if !ok {
				if cur.full() {
					return Repair
				}
				return Again
			}
			if b != '\n' {
				return Error
			}
			msg.CRSeen = false
			return OK
		}

		b, ok := cur.readByte()
		if !ok {
			if cur.full() {
				return Repair
			}
			return Again
		}
		if b == '\r' {
			msg.CRSeen = true
			continue
		}
		msg.Token = append(msg.Token, b)
	}
}

// readMarker consumes exactly one byte, used to identify which of the
// five RESP reply kinds follows. msg.RLen doubles as the marker's
// temporary holding register between suspensions (cleared by the caller
// once read).
func readMarker(cur *cursor, msg *message.Message) (byte, Verdict) {
	if !msg.MarkerSeen {
		b, ok := cur.readByte()
		if !ok {
			if cur.full() {
				return 0, Repair
			}
			return 0, Again
		}
		msg.RLen = int(b)
		msg.MarkerSeen = true
	}
	mb := byte(msg.RLen)
	msg.MarkerSeen = false
	return mb, OK
}

// scanLenMarked consumes a single required leading byte (`*` or `$`)
// before delegating to scanLen. msg.MarkerSeen survives a suspension that
// lands before the marker itself has arrived.
func scanLenMarked(cur *cursor, msg *message.Message, marker byte) Verdict {
	if !msg.MarkerSeen {
		b, ok := cur.readByte()
		if !ok {
			if cur.full() {
				return Repair
			}
			return Again
		}
		if b != marker {
			return Error
		}
		msg.MarkerSeen = true
	}
	v := scanLen(cur, msg)
	if v == OK {
		msg.MarkerSeen = false
	}
	return v
}

// scanCRLF consumes exactly two bytes, `\r` then `\n`, tracking how many
// of the two it has already matched in msg.CRLFPos.
func scanCRLF(cur *cursor, msg *message.Message) Verdict {
	for msg.CRLFPos < 2 {
		b, ok := cur.readByte()
		if !ok {
			if cur.full() {
				return Repair
			}
			return Again
		}
		want := byte('\r')
		if msg.CRLFPos == 1 {
			want = '\n'
		}
		if b != want {
			return Error
		}
		msg.CRLFPos++
	}
	msg.CRLFPos = 0
	return OK
}
