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

package proxy

import (
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/packetd/rcproxy/cluster"
	"github.com/packetd/rcproxy/fragment"
	"github.com/packetd/rcproxy/message"
	"github.com/packetd/rcproxy/metrics"
)

// requestOwner is the Owner a client request (a direct one, or the
// owner of a fragmented one) stamps onto itself: a way back to the client connection and the
// single-slot channel its writeLoop is waiting on, plus a guard against
// delivering twice (a redirect failure racing a late legitimate reply,
// for instance).
type requestOwner struct {
	conn   *clientConn
	result chan *message.Message
	fired  atomic.Bool
}

// deliver hands reply to the waiting writeLoop exactly once; subsequent
// calls are no-ops and report false so the caller knows to release
// reply itself instead of leaking it into an already-drained channel.
func (o *requestOwner) deliver(reply *message.Message) bool {
	if o.fired.Swap(true) {
		return false
	}
	o.result <- reply
	return true
}

// deliver is the single entry point every backendConn.readLoop calls
// once a reply has been paired with its request (reply.Peer/req.Peer
// set). It routes the reply by checking, in this order: a topology
// probe (cluster.IsProbeReply), a swallowed request (Swallow), a
// -MOVED/-ASK redirect, a fragment sub-request (FragOwner), and finally
// the request's own requestOwner (spec §4.6's dispatch table).
func (r *Runtime) deliver(bc *backendConn, reply *message.Message) {
	req := reply.Peer
	if req == nil {
		r.msgPool.Put(reply)
		return
	}

	if cluster.IsProbeReply(reply) {
		r.refr.LatchProbeReply(reply)
		r.msgPool.Put(req)
		r.msgPool.Put(reply)
		return
	}

	if req.Swallow {
		r.msgPool.Put(req)
		r.msgPool.Put(reply)
		return
	}

	if reply.Type == message.TypeMoved || reply.Type == message.TypeAsk {
		r.handleRedirect(bc, reply)
		return
	}

	if req.FragOwner != nil {
		r.deliverFragmentSub(req, reply)
		return
	}

	owner, _ := req.Owner.(*requestOwner)
	if owner == nil {
		r.msgPool.Put(req)
		r.msgPool.Put(reply)
		return
	}
	if !owner.deliver(reply) {
		r.msgPool.Put(reply)
	}
	r.msgPool.Put(req)
}

// handleRedirect implements spec §4.6 Redirection: rewind and resend
// the original request against the server the -MOVED/-ASK reply named,
// preceded by a swallowed ASKING for -ASK.
func (r *Runtime) handleRedirect(bc *backendConn, reply *message.Message) {
	rd, err := cluster.PlanRedirect(reply, r.table, r.msgPool)
	if err != nil {
		r.failRequest(reply.Peer, err)
		r.msgPool.Put(reply)
		return
	}

	metrics.RedirectionsTotal.WithLabelValues(redirectKind(rd.Ask)).Inc()

	target, err := r.dialBackend(rd.Target)
	if err != nil {
		r.failRequest(rd.Request, err)
		if rd.Asking != nil {
			r.msgPool.Put(rd.Asking)
		}
		r.msgPool.Put(reply)
		return
	}

	if rd.Asking != nil {
		if err := target.send(rd.Asking); err != nil {
			r.failRequest(rd.Request, err)
			r.msgPool.Put(rd.Asking)
			r.msgPool.Put(reply)
			return
		}
	}
	if err := target.send(rd.Request); err != nil {
		r.failRequest(rd.Request, err)
	}
	r.msgPool.Put(reply)
}

func redirectKind(ask bool) string {
	if ask {
		return "ask"
	}
	return "moved"
}

// failRequest synthesizes an error reply for req and routes it
// wherever a normal reply would have gone, used for dial failures,
// unknown redirect targets, and backend-connection-closed drains.
func (r *Runtime) failRequest(req *message.Message, cause error) {
	if req == nil {
		return
	}
	if req.FragOwner != nil {
		owner := req.FragOwner
		owner.FError = true
		owner.Errno = cause
		owner.NFragDone++
		metrics.FragmentsInFlight.Dec()
		// req stays in owner.FragSeq and is released by maybeFinishFragment;
		// a reply still linked to it belongs to the caller.
		req.Peer = nil
		r.maybeFinishFragment(owner)
		return
	}

	owner, _ := req.Owner.(*requestOwner)
	if owner == nil {
		r.msgPool.Put(req)
		return
	}
	errReply := errorReply(r.msgPool, cause)
	if !owner.deliver(errReply) {
		r.msgPool.Put(errReply)
	}
	r.msgPool.Put(req)
}

func errorReply(mp *message.Pool, cause error) *message.Message {
	m := mp.Get(false)
	_ = m.Chain.Append([]byte("-ERR " + cause.Error() + "\r\n"))
	m.Type = message.TypeError
	return m
}

// deliverFragmentSub runs a fragment sub-request's pre-coalesce hook
// and, once every sibling has landed, assembles and delivers the single
// client-facing reply (spec §4.5).
func (r *Runtime) deliverFragmentSub(sub *message.Message, reply *message.Message) {
	owner := sub.FragOwner
	sub.Peer = reply
	reply.Peer = sub

	metrics.FragmentsInFlight.Dec()

	hooks, ok := fragment.Get(owner.Command)
	if !ok {
		owner.FError = true
		owner.Errno = errors.New("fragment: no hooks registered for command")
		owner.NFragDone++
	} else if err := hooks.Pre(owner, sub); err != nil {
		// owner.NFragDone already advanced by Pre; the error is only
		// surfaced to the client once every sibling has landed.
		_ = err
	}

	r.maybeFinishFragment(owner)
}

// maybeFinishFragment assembles the client-facing reply once every
// sub-request has landed, then releases every sub-request and its
// reply exactly once before delivering to the owner's requestOwner.
//
// owner.FragSeq is indexed per key, not per sub-request: two keys
// landing on the same slot share one sub-request pointer, so the
// cleanup loop below dedupes by pointer identity before releasing —
// otherwise a shared slot double-Puts the same message.
func (r *Runtime) maybeFinishFragment(owner *message.Message) {
	if owner.NFragDone < owner.NFrag {
		return
	}

	var clientReply *message.Message
	if owner.FError {
		clientReply = errorReply(r.msgPool, owner.Errno)
	} else {
		hooks, ok := fragment.Get(owner.Command)
		if !ok {
			clientReply = errorReply(r.msgPool, errors.New("fragment: no hooks registered for command"))
		} else if reply, err := hooks.Post(owner, r.msgPool); err != nil {
			clientReply = errorReply(r.msgPool, err)
		} else {
			clientReply = reply
		}
	}

	seen := make(map[*message.Message]struct{}, owner.NFrag)
	for _, sub := range owner.FragSeq {
		if sub == nil {
			continue
		}
		if _, ok := seen[sub]; ok {
			continue
		}
		seen[sub] = struct{}{}
		if sub.Peer != nil {
			r.msgPool.Put(sub.Peer)
		}
		r.msgPool.Put(sub)
	}

	ownerOwner, _ := owner.Owner.(*requestOwner)
	if ownerOwner != nil {
		if !ownerOwner.deliver(clientReply) {
			r.msgPool.Put(clientReply)
		}
	} else {
		r.msgPool.Put(clientReply)
	}
	r.msgPool.Put(owner)
}
