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

package fragment

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/packetd/rcproxy/message"
)

// ErrFragment is the owner's Errno when a sub-reply's type doesn't match
// what its fragment kind expects (spec §4.5: "any other type on a
// fragment marks the owner errored with EINVAL").
var ErrFragment = errors.New("fragment: unexpected sub-reply type")

// PreCoalesce runs as each sub-request's reply arrives. It validates the
// reply's type against owner's fragment kind, folding DEL's numeric
// replies into owner.Integer as they come in, and advances
// owner.NFragDone. Once PreCoalesce has run for every sub-request,
// PostCoalesce assembles the final client-facing reply.
func PreCoalesce(owner, sub *message.Message) error {
	reply := sub.Peer
	if reply == nil {
		return errors.New("fragment: sub-request has no reply yet")
	}

	var err error
	switch KindFor(owner.Type) {
	case KindCount:
		if reply.Type != message.TypeInteger {
			err = markErrored(owner)
			break
		}
		owner.Integer += reply.Integer
	case KindOK:
		if reply.Type != message.TypeStatus {
			err = markErrored(owner)
		}
	case KindJoin:
		if reply.Type != message.TypeMultibulk {
			err = markErrored(owner)
		}
	default:
		err = markErrored(owner)
	}

	// A mistyped sub-reply still counts toward completion: the owner
	// waits for every fragment to land (so a straggler never arrives
	// after the owner message has been released) and reports the
	// aggregate error once NFragDone reaches NFrag, rather than trying
	// to abandon the in-flight remainder mid-coalesce.
	owner.NFragDone++
	return err
}

func markErrored(owner *message.Message) error {
	owner.FError = true
	owner.Errno = ErrFragment
	return ErrFragment
}

// PostCoalesce runs once owner.NFragDone == owner.NFrag, assembling the
// single reply the client expects from a fresh response Message drawn
// from mp:
//
//   - DEL:  `:<sum>\r\n`
//   - MSET: `+OK\r\n`
//   - MGET: `*<nkeys>\r\n` followed by each key's bulk, copied from its
//     owning sub-request's reply (owner.FragSeq[i].Peer) at the element
//     index that sub-reply recorded for it (owner.FragKeyPos[i]) — a
//     missing sub-reply element is fatal, per spec §4.5.
func PostCoalesce(owner *message.Message, mp *message.Pool) (*message.Message, error) {
	reply := mp.Get(false)

	switch KindFor(owner.Type) {
	case KindCount:
		if err := reply.Chain.Append([]byte(":" + strconv.FormatInt(owner.Integer, 10) + "\r\n")); err != nil {
			return nil, err
		}
		reply.Type = message.TypeInteger
		reply.Integer = owner.Integer

	case KindOK:
		if err := reply.Chain.Append([]byte("+OK\r\n")); err != nil {
			return nil, err
		}
		reply.Type = message.TypeStatus

	case KindJoin:
		n := len(owner.Keys)
		if err := reply.Chain.Append([]byte("*" + strconv.Itoa(n) + "\r\n")); err != nil {
			return nil, err
		}
		for i := range owner.Keys {
			sub := owner.FragSeq[i]
			if sub == nil || sub.Peer == nil {
				return nil, errors.Errorf("fragment: key %d has no completed sub-reply", i)
			}
			pos := owner.FragKeyPos[i]
			if pos >= len(sub.Peer.Elements) {
				return nil, errors.Errorf("fragment: sub-reply missing element %d for key %d", pos, i)
			}
			el := sub.Peer.Elements[pos]
			if el.IsZero() {
				if err := reply.Chain.Append([]byte("$-1\r\n")); err != nil {
					return nil, err
				}
				continue
			}
			if err := appendBulk(reply, el.Bytes()); err != nil {
				return nil, err
			}
		}
		reply.Type = message.TypeMultibulk
		reply.Integer = int64(n)

	default:
		mp.Put(reply)
		return nil, errors.Errorf("fragment: no post-coalesce strategy for type %s", owner.Type)
	}

	return reply, nil
}
