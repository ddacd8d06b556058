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
	"net"
	"strings"
	"sync"

	"github.com/packetd/rcproxy/cluster"
	"github.com/packetd/rcproxy/dispatch"
	"github.com/packetd/rcproxy/fragment"
	"github.com/packetd/rcproxy/internal/rescue"
	"github.com/packetd/rcproxy/message"
	"github.com/packetd/rcproxy/metrics"
	"github.com/packetd/rcproxy/parser"
)

// pendingResult is one entry in a client connection's strict-ordering
// FIFO: a size-1 channel the owning request's eventual reply lands on,
// plus whether the connection should close once this reply has been
// written. quit is captured off the originating request at enqueue
// time rather than read back off the reply, since dispatch-answered
// replies (PING/AUTH/QUIT/...) are synthesized fresh and never carry a
// Peer back to the request that produced them.
type pendingResult struct {
	ch   chan *message.Message
	quit bool
}

// clientConn is one client-facing connection: a read goroutine that
// parses requests and dispatches or forwards them, and a write goroutine
// that drains replies in the exact order their requests arrived,
// regardless of which backend answered first (spec §4.4's ordering
// guarantee).
type clientConn struct {
	rt   *Runtime
	conn net.Conn
	auth dispatch.AuthState

	results chan pendingResult
	readBuf []byte

	closeOnce sync.Once
	closed    chan struct{}
}

// handleClient accepts one client connection: checks it against the
// allowlist, wires up its read/write goroutines, and registers it so
// Shutdown can reach it later.
func (r *Runtime) handleClient(conn net.Conn) {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = conn.RemoteAddr().String()
	}
	if !r.allow.Allowed(host) {
		conn.Close()
		return
	}

	cc := &clientConn{
		rt:      r,
		conn:    conn,
		results: make(chan pendingResult, 4096),
		readBuf: make([]byte, r.cfg.Pool.ChunkSize),
		closed:  make(chan struct{}),
	}
	if r.poolCfg.Load().Password != "" {
		cc.auth.NeedAuth = true
	}

	r.addClient(cc)
	metrics.ActiveClientConns.Inc()

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		defer rescue.HandleCrash()
		cc.writeLoop()
	}()
	go func() {
		defer r.wg.Done()
		defer rescue.HandleCrash()
		cc.readLoop()
	}()
}

// readLoop parses pipelined client requests off the wire, mirroring
// backendConn.readLoop's CopyFrom-based splitting so a single Read that
// spans several requests dispatches each one separately.
func (cc *clientConn) readLoop() {
	defer cc.close()

	mp := cc.rt.msgPool
	msg := mp.Get(true)

clientLoop:
	for {
		n, err := cc.conn.Read(cc.readBuf)
		if n > 0 {
			if appendErr := msg.Chain.Append(cc.readBuf[:n]); appendErr != nil {
				mp.Put(msg)
				return
			}
		}
		if err != nil {
			mp.Put(msg)
			return
		}

		for {
			v := parser.Request(msg)
			switch v {
			case parser.Again:
				continue clientLoop
			case parser.Repair:
				if relocErr := parser.Relocate(msg); relocErr != nil {
					mp.Put(msg)
					return
				}
				continue
			case parser.Error:
				metrics.ProtocolErrorsTotal.WithLabelValues("client").Inc()
				cc.protocolError(msg)
				// writeLoop closes the connection once the error reply is out.
				<-cc.closed
				return
			case parser.OK:
				metrics.MessagesParsedTotal.WithLabelValues("request").Inc()

				remaining := remainingLen(msg.Chain)
				next := mp.Get(true)
				if remaining > 0 {
					if cpErr := next.Chain.CopyFrom(msg.Chain, remaining); cpErr != nil {
						mp.Put(next)
						return
					}
				}

				quit := msg.Quit
				cc.handle(msg)
				if quit {
					// writeLoop closes the connection once the QUIT reply is out.
					<-cc.closed
					return
				}
				msg = next
			}
		}
	}
}

func (cc *clientConn) protocolError(msg *message.Message) {
	resp := errorReply(cc.rt.msgPool, parser.ErrProtocol)
	cc.enqueueResultQuit(resp, true)
	cc.rt.msgPool.Put(msg)
}

// writeLoop drains cc.results strictly in FIFO order, blocking on each
// entry's own channel until that specific reply is ready — a fragment
// owner's reply can take longer than a plain GET queued right after it,
// but the write order still matches request arrival order.
func (cc *clientConn) writeLoop() {
	defer cc.close()
	for {
		select {
		case p, ok := <-cc.results:
			if !ok {
				return
			}
			reply, ok := <-p.ch
			if !ok {
				return
			}
			for chunk := reply.Chain.Head(); chunk != nil; chunk = chunk.Next() {
				if _, err := cc.conn.Write(chunk.Data()); err != nil {
					cc.rt.msgPool.Put(reply)
					return
				}
			}
			cc.rt.msgPool.Put(reply)
			if p.quit {
				return
			}
		case <-cc.closed:
			return
		}
	}
}

func (cc *clientConn) push(p pendingResult) bool {
	select {
	case cc.results <- p:
		return true
	case <-cc.closed:
		return false
	}
}

// enqueueResult wraps resp in a single-slot channel and pushes it onto
// the FIFO immediately, for replies that are already final at enqueue
// time (dispatch-answered commands, size-limit rejections).
func (cc *clientConn) enqueueResult(req *message.Message, resp *message.Message) {
	cc.enqueueResultQuit(resp, req.Quit)
	cc.rt.msgPool.Put(req)
}

func (cc *clientConn) enqueueResultQuit(resp *message.Message, quit bool) {
	ch := make(chan *message.Message, 1)
	ch <- resp
	cc.push(pendingResult{ch: ch, quit: quit})
}

// handle routes one fully parsed request: the NOAUTH gate and internal
// commands (dispatch), then size checks, then either fragmentation or
// direct forwarding.
func (cc *clientConn) handle(req *message.Message) {
	mp := cc.rt.msgPool
	disp := cc.rt.dispatcher()

	if resp := disp.CheckRequestSize(req, mp); resp != nil {
		metrics.RequestsTooLargeTotal.Inc()
		cc.enqueueResult(req, resp)
		return
	}

	if resp, handled := disp.Handle(req, &cc.auth, mp); handled {
		cc.enqueueResult(req, resp)
		return
	}

	if req.Fragment {
		cc.handleFragmented(req)
		return
	}
	cc.handleDirect(req)
}

func representativeKey(req *message.Message) []byte {
	if len(req.Keys) == 0 {
		return nil
	}
	return req.Keys[0].Bytes()
}

func (cc *clientConn) failDirect(req *message.Message, cause error) {
	resp := errorReply(cc.rt.msgPool, cause)
	cc.enqueueResultQuit(resp, req.Quit)
	cc.rt.msgPool.Put(req)
}

// handleDirect routes and forwards a non-fragmented request to the
// backend that owns its key's slot, registering a requestOwner so the
// eventual reply (arriving on some backendConn's readLoop goroutine)
// can find its way back to this connection's writeLoop.
func (cc *clientConn) handleDirect(req *message.Message) {
	key := representativeKey(req)
	srv, _, err := cc.rt.router.Route(key, req.Write)
	if err != nil {
		cc.failDirect(req, err)
		return
	}
	bc, err := cc.rt.dialBackend(srv)
	if err != nil {
		cc.failDirect(req, err)
		return
	}

	owner := &requestOwner{conn: cc, result: make(chan *message.Message, 1)}
	req.Owner = owner

	if err := bc.send(req); err != nil {
		req.Owner = nil
		cc.failDirect(req, err)
		return
	}

	cc.push(pendingResult{ch: owner.result, quit: req.Quit})
}

// handleFragmented splits a multi-key request across the shards its
// keys land on (spec §4.5), routes and sends each sub-request
// independently, and registers one requestOwner for the eventual joined
// reply maybeFinishFragment assembles once every sibling has answered.
func (cc *clientConn) handleFragmented(req *message.Message) {
	mp := cc.rt.msgPool
	rt := cc.rt

	subs, err := fragment.Split(req, mp, func(k []byte) int {
		return cluster.SlotOf(k, rt.router.Hash)
	})
	if err != nil {
		cc.failDirect(req, err)
		return
	}

	owner := &requestOwner{conn: cc, result: make(chan *message.Message, 1)}
	req.Owner = owner

	metrics.FragmentedCommandsTotal.WithLabelValues(strings.ToLower(req.Command)).Inc()
	metrics.FragmentsInFlight.Add(float64(len(subs)))

	repKey := make(map[*message.Message][]byte, len(subs))
	for i, k := range req.Keys {
		sub := req.FragSeq[i]
		if _, ok := repKey[sub]; !ok {
			repKey[sub] = k.Bytes()
		}
	}

	for _, sub := range subs {
		srv, _, rerr := rt.router.Route(repKey[sub], req.Write)
		if rerr != nil {
			rt.failRequest(sub, rerr)
			continue
		}
		bc, derr := rt.dialBackend(srv)
		if derr != nil {
			rt.failRequest(sub, derr)
			continue
		}
		if serr := bc.send(sub); serr != nil {
			rt.failRequest(sub, serr)
		}
	}

	cc.push(pendingResult{ch: owner.result, quit: req.Quit})
}

func (r *Runtime) addClient(cc *clientConn) {
	r.clientsMu.Lock()
	r.clients[cc] = struct{}{}
	r.clientsMu.Unlock()
}

func (r *Runtime) removeClient(cc *clientConn) {
	r.clientsMu.Lock()
	delete(r.clients, cc)
	r.clientsMu.Unlock()
}

func (cc *clientConn) close() {
	cc.closeOnce.Do(func() {
		close(cc.closed)
		cc.conn.Close()
		cc.rt.removeClient(cc)
		metrics.ActiveClientConns.Dec()
	})
}
