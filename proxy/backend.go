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
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/packetd/rcproxy/bufchain"
	"github.com/packetd/rcproxy/cluster"
	"github.com/packetd/rcproxy/internal/rescue"
	"github.com/packetd/rcproxy/message"
	"github.com/packetd/rcproxy/metrics"
	"github.com/packetd/rcproxy/parser"
)

// backendConn is one outbound connection to a cluster shard: a FIFO
// pairing of requests sent to requests read back, per spec §4.4's
// "requests and responses pair up in strict arrival order per
// connection."
type backendConn struct {
	rt   *Runtime
	srv  *cluster.Server
	conn net.Conn

	mu      sync.Mutex
	pending chan *message.Message

	readBuf []byte

	closeOnce sync.Once
	closed    chan struct{}
}

// dialBackend returns the live connection to srv, dialing and
// handshaking one if none exists yet. Double-checked locking under
// backendsMu keeps two concurrent callers from dialing the same server
// twice.
func (r *Runtime) dialBackend(srv *cluster.Server) (*backendConn, error) {
	r.backendsMu.Lock()
	if bc, ok := r.backends[srv.Addr]; ok {
		r.backendsMu.Unlock()
		return bc, nil
	}
	r.backendsMu.Unlock()

	conn, err := net.DialTimeout("tcp", srv.Addr, r.cfg.Cluster.DialTimeout)
	if err != nil {
		return nil, errors.Wrapf(err, "dial backend %s", srv.Addr)
	}

	bc := &backendConn{
		rt:      r,
		srv:     srv,
		conn:    conn,
		pending: make(chan *message.Message, 4096),
		readBuf: make([]byte, r.cfg.Pool.ChunkSize),
		closed:  make(chan struct{}),
	}

	if err := bc.postConnect(); err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "handshake backend %s", srv.Addr)
	}

	r.backendsMu.Lock()
	if existing, ok := r.backends[srv.Addr]; ok {
		r.backendsMu.Unlock()
		bc.conn.Close()
		return existing, nil
	}
	r.backends[srv.Addr] = bc
	r.backendsMu.Unlock()

	metrics.ActiveServerConns.WithLabelValues(srv.Addr).Inc()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		bc.readLoop()
	}()

	return bc, nil
}

// postConnect performs the synchronous AUTH/SELECT handshake spec §4.7
// requires before a backend connection handles any client traffic.
// SELECT is skipped against a cluster-mode backend, where it is
// meaningless (every master owns a fixed slot range, not a selectable
// logical database).
func (bc *backendConn) postConnect() error {
	pool := bc.rt.poolCfg.Load()
	if pool.Password != "" {
		if err := bc.handshake(buildCommand("AUTH", pool.Password)); err != nil {
			return err
		}
	}
	if !pool.RedisCluster {
		if err := bc.handshake(buildCommand("SELECT", strconv.Itoa(pool.Database))); err != nil {
			return err
		}
	}
	return nil
}

func buildCommand(args ...string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "*%d\r\n", len(args))
	for _, a := range args {
		fmt.Fprintf(&sb, "$%d\r\n%s\r\n", len(a), a)
	}
	return sb.String()
}

// handshake writes raw and synchronously reads until a complete reply
// parses. A protocol error or an error reply fails the handshake; any
// other complete reply counts as success. It runs before readLoop
// starts, so it owns bc.conn exclusively.
func (bc *backendConn) handshake(raw string) error {
	if _, err := bc.conn.Write([]byte(raw)); err != nil {
		return err
	}

	mp := bc.rt.msgPool
	msg := mp.Get(false)
	defer mp.Put(msg)

	buf := make([]byte, 4096)
recvLoop:
	for {
		n, err := bc.conn.Read(buf)
		if n > 0 {
			if appendErr := msg.Chain.Append(buf[:n]); appendErr != nil {
				return appendErr
			}
		}
		if err != nil {
			return err
		}

		for {
			v := parser.Response(msg)
			switch v {
			case parser.Again:
				continue recvLoop
			case parser.Repair:
				if err := parser.Relocate(msg); err != nil {
					return err
				}
				continue
			case parser.Error:
				return errors.New("backend: handshake protocol error")
			case parser.OK:
				if msg.Type == message.TypeError {
					return errors.Errorf("backend: handshake rejected: %s", msg.Chain.Bytes())
				}
				return nil
			}
		}
	}
}

// send enqueues req onto the FIFO pending queue and writes its wire
// bytes to the socket under the same mutex: splitting enqueue and write
// into separate critical sections would let two concurrent senders
// interleave so pending's order no longer matches wire order.
func (bc *backendConn) send(req *message.Message) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	select {
	case bc.pending <- req:
	default:
		return errors.New("backend: pending queue full")
	}

	for ch := req.Chain.Head(); ch != nil; ch = ch.Next() {
		if _, err := bc.conn.Write(ch.Data()); err != nil {
			return err
		}
	}
	return nil
}

// readLoop reads replies off the wire and pairs each completed one with
// the oldest still-pending request (spec §4.4's FIFO pairing). A single
// net.Conn.Read can deliver bytes spanning several pipelined replies;
// once one reply reaches parser.OK, the unconsumed suffix of its chain
// is stolen into a fresh message via Chain.CopyFrom before the
// completed reply is dispatched, so the next reply never re-parses
// bytes that already belong to it.
func (bc *backendConn) readLoop() {
	defer rescue.HandleCrash()
	defer bc.close()

	mp := bc.rt.msgPool
	msg := mp.Get(false)

readLoop:
	for {
		n, err := bc.conn.Read(bc.readBuf)
		if n > 0 {
			if appendErr := msg.Chain.Append(bc.readBuf[:n]); appendErr != nil {
				mp.Put(msg)
				return
			}
		}
		if err != nil {
			mp.Put(msg)
			return
		}

		for {
			v := parser.Response(msg)
			switch v {
			case parser.Again:
				continue readLoop
			case parser.Repair:
				if relocErr := parser.Relocate(msg); relocErr != nil {
					mp.Put(msg)
					return
				}
				continue
			case parser.Error:
				metrics.ProtocolErrorsTotal.WithLabelValues("backend").Inc()
				mp.Put(msg)
				return
			case parser.OK:
				metrics.MessagesParsedTotal.WithLabelValues("response").Inc()

				req := bc.popPending()
				if req == nil {
					mp.Put(msg)
					return
				}
				msg.Peer = req
				req.Peer = msg

				remaining := remainingLen(msg.Chain)
				next := mp.Get(false)
				if remaining > 0 {
					if cpErr := next.Chain.CopyFrom(msg.Chain, remaining); cpErr != nil {
						mp.Put(next)
						bc.rt.deliver(bc, msg)
						return
					}
				}

				bc.rt.deliver(bc, msg)
				msg = next
			}
		}
	}
}

func (bc *backendConn) popPending() *message.Message {
	select {
	case req := <-bc.pending:
		return req
	case <-bc.closed:
		return nil
	}
}

func remainingLen(chain *bufchain.Chain) int {
	n := 0
	for ch := chain.Head(); ch != nil; ch = ch.Next() {
		n += len(ch.Unparsed())
	}
	return n
}

// close tears bc down exactly once: closes the socket, deregisters it
// from Runtime.backends, and fails every request still sitting in
// pending so their owners never hang waiting for a reply that will
// never come.
func (bc *backendConn) close() {
	bc.closeOnce.Do(func() {
		close(bc.closed)
		bc.conn.Close()
		metrics.ActiveServerConns.WithLabelValues(bc.srv.Addr).Dec()

		bc.rt.backendsMu.Lock()
		if bc.rt.backends[bc.srv.Addr] == bc {
			delete(bc.rt.backends, bc.srv.Addr)
		}
		bc.rt.backendsMu.Unlock()

		for {
			select {
			case req := <-bc.pending:
				bc.rt.failRequest(req, errors.New("backend connection closed"))
			default:
				return
			}
		}
	})
}
