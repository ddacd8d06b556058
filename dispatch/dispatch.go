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

// Package dispatch implements spec §4.7 (component H): the handful of
// commands the proxy answers itself, built directly into the paired
// message's reply buffer instead of being forwarded to a backend shard.
// Route registration here mirrors the shape controller/controller.go's
// setupServer uses to wire named HTTP routes — a small static table from
// command to handler, looked up once per request.
package dispatch

import (
	"strconv"
	"strings"

	"github.com/packetd/rcproxy/cluster"
	"github.com/packetd/rcproxy/message"
)

// Literal reply bodies spec §6 requires verbatim.
const (
	ReplyPong             = "+PONG\r\n"
	ReplyOK               = "+OK\r\n"
	ReplyNoAuth           = "-NOAUTH Authentication required\r\n"
	ReplyNoPasswordSet    = "-ERR Client sent AUTH, but no password is set\r\n"
	ReplyInvalidPassword  = "-ERR invalid password\r\n"
	ReplyInvalidNodesPool = "-ERR invalid server pool number for nodes command. try nodes 0\r\n"
	ReplyInvalidSlotsPool = "-ERR invalid server pool number for slots command. try slots 0\r\n"
	ReplyReqTooLarge      = "-ERR req msg length too large\r\n"
	ReplyRspTooLarge      = "-ERR rsp msg length too large\r\n"
)

// AuthState is the minimal piece of per-connection state dispatch needs
// to enforce spec §4.7's auth gate ("before dispatching any command, if
// conn.need_auth==1 and the command is not AUTH, reply NOAUTH"). It is a
// plain struct rather than an interface because every client connection
// owns exactly one, and the proxy package stores it inline on its
// connection type.
type AuthState struct {
	NeedAuth bool
}

// Config carries the pool-wide settings spec §3's "Server pool" data
// model attaches to dispatch: the configured AUTH password (empty means
// none configured) and the request/response size limits spec §4.7's
// "Size limits" subsection describes.
type Config struct {
	Password      string
	RequestLimit  int
	ResponseLimit int
}

// Dispatcher answers the internal commands of spec §4.7 without ever
// forwarding to a backend. It only reads cluster.Table/cluster.Refresher
// state (component F) — it owns no connections of its own.
type Dispatcher struct {
	cfg   Config
	table *cluster.Table
	refr  *cluster.Refresher
}

// New builds a Dispatcher over tbl/refr (both may be nil in tests that
// only exercise PING/AUTH).
func New(cfg Config, tbl *cluster.Table, refr *cluster.Refresher) *Dispatcher {
	return &Dispatcher{cfg: cfg, table: tbl, refr: refr}
}

func reply(mp *message.Pool, body string, typ message.Type) *message.Message {
	m := mp.Get(false)
	_ = m.Chain.Append([]byte(body))
	m.Type = typ
	return m
}

// Handle is the single entry point the proxy's request path calls for
// every parsed client request, not only the ones classified noforward:
// the NOAUTH gate in spec §4.7 applies to every command. handled is
// false when req needs normal forwarding; reply is nil in that case.
func (d *Dispatcher) Handle(req *message.Message, auth *AuthState, mp *message.Pool) (resp *message.Message, handled bool) {
	if auth.NeedAuth && req.Type != message.TypeAuth {
		return reply(mp, ReplyNoAuth, message.TypeError), true
	}
	if !req.NoForward {
		return nil, false
	}

	switch req.Type {
	case message.TypePing:
		return reply(mp, ReplyPong, message.TypeStatus), true
	case message.TypeAuth:
		return d.handleAuth(req, auth, mp), true
	case message.TypeNode, message.TypeNodes:
		return d.handleNodes(req, mp), true
	case message.TypeSlot, message.TypeSlots:
		return d.handleSlots(req, mp), true
	case message.TypeQuit:
		return reply(mp, ReplyOK, message.TypeStatus), true
	default:
		// Unknown noforward command: answer with a protocol error rather
		// than silently dropping it.
		return reply(mp, "-ERR unsupported internal command\r\n", message.TypeError), true
	}
}

// handleAuth implements spec §4.7's AUTH behavior. The password argument
// is classified argz (no key), so AUTH carries it as an ordinary
// trailing argument — not captured into req.Keys/Vals by the request
// parser. Rather than add bespoke storage for one command's single
// argument, the comparison reads it straight out of the request's wire
// bytes, the same place the fragmenter reads key/value bulks from.
func (d *Dispatcher) handleAuth(req *message.Message, auth *AuthState, mp *message.Pool) *message.Message {
	if d.cfg.Password == "" {
		return reply(mp, ReplyNoPasswordSet, message.TypeError)
	}

	given, ok := trailingArg(req, 0)
	if !ok || given != d.cfg.Password {
		auth.NeedAuth = true
		return reply(mp, ReplyInvalidPassword, message.TypeError)
	}
	auth.NeedAuth = false
	return reply(mp, ReplyOK, message.TypeStatus)
}

// trailingArg re-scans req's already-fully-parsed wire bytes for the nth
// (0-based) bulk argument following the command token — a plain
// `*N\r\n$L\r\n<command>\r\n($L\r\n<arg>\r\n)*` walk, since argz commands
// keep no structured record of their trailing arguments. The command
// token's own bulk is skipped first so n=0 names the first argument
// after the command, not the command itself.
func trailingArg(req *message.Message, n int) (string, bool) {
	b := req.Chain.Bytes()
	// skip "*N\r\n"
	i := indexCRLF(b, 0)
	if i < 0 {
		return "", false
	}
	i += 2

	// skip the command token's own bulk
	_, i, ok := readBulk(b, i)
	if !ok {
		return "", false
	}

	for skip := 0; ; skip++ {
		var s string
		s, i, ok = readBulk(b, i)
		if !ok {
			return "", false
		}
		if skip == n {
			return s, true
		}
	}
}

// readBulk parses one `$L\r\n<bytes>\r\n` token starting at i, returning
// its content, the offset just past it, and whether parsing succeeded.
func readBulk(b []byte, i int) (s string, next int, ok bool) {
	if i >= len(b) || b[i] != '$' {
		return "", 0, false
	}
	j := indexCRLF(b, i)
	if j < 0 {
		return "", 0, false
	}
	l, err := strconv.Atoi(string(b[i+1 : j]))
	if err != nil || l < 0 {
		return "", 0, false
	}
	start := j + 2
	end := start + l
	if end+2 > len(b) {
		return "", 0, false
	}
	return string(b[start:end]), end + 2, true
}

func indexCRLF(b []byte, from int) int {
	for i := from; i+1 < len(b); i++ {
		if b[i] == '\r' && b[i+1] == '\n' {
			return i
		}
	}
	return -1
}

// poolIndex re-reads the optional trailing numeric pool-index argument
// NODE/NODES/SLOT/SLOTS carry over from the original multi-pool C proxy
// (e.g. "nodes 0"). ok is false only when an argument is present and is
// not the literal "0" — there is no second pool any other index could
// ever validly name, since this proxy wires exactly one
// cluster.Table/Refresher pair per process. A missing argument is valid
// (defaults to pool 0).
func poolIndex(req *message.Message) (ok bool) {
	arg, present := trailingArg(req, 0)
	return !present || arg == "0"
}

// handleNodes implements spec §4.7's NODE/NODES: return the snapshotted
// probebuf contents.
func (d *Dispatcher) handleNodes(req *message.Message, mp *message.Pool) *message.Message {
	if d.refr == nil || !poolIndex(req) {
		return reply(mp, ReplyInvalidNodesPool, message.TypeError)
	}
	body := d.refr.ProbeSnapshot()
	m := mp.Get(false)
	_ = m.Chain.Append([]byte("$" + strconv.Itoa(len(body)) + "\r\n"))
	_ = m.Chain.Append(body)
	_ = m.Chain.Append([]byte("\r\n"))
	m.Type = message.TypeBulk
	return m
}

// handleSlots implements spec §4.7's SLOT/SLOTS: iterate slots[] and for
// each transition to a new replica set, emit a human-readable line
// listing the master and tagged-slave counts.
//
// The open question in spec §9 about redis_reply_topo's fixed-size
// scratch overflowing for long host names is resolved here per spec's
// explicit instruction: this builds into a strings.Builder, which grows
// as needed, rather than a bounded buffer.
func (d *Dispatcher) handleSlots(req *message.Message, mp *message.Pool) *message.Message {
	if d.table == nil || !poolIndex(req) {
		return reply(mp, ReplyInvalidSlotsPool, message.TypeError)
	}

	var sb strings.Builder
	snap := d.table.Snapshot()
	var cur *cluster.ReplicaSet
	start := 0
	flush := func(end int) {
		if cur == nil {
			return
		}
		slaves := 0
		for _, bucket := range cur.Slaves {
			slaves += len(bucket)
		}
		master := "-"
		if cur.Master != nil {
			master = cur.Master.Addr
		}
		sb.WriteString(strconv.Itoa(start))
		sb.WriteByte('-')
		sb.WriteString(strconv.Itoa(end - 1))
		sb.WriteString(" master=")
		sb.WriteString(master)
		sb.WriteString(" slaves=")
		sb.WriteString(strconv.Itoa(slaves))
		sb.WriteString("\r\n")
	}
	for i, rs := range snap {
		if rs != cur {
			flush(i)
			cur = rs
			start = i
		}
	}
	flush(cluster.NumSlots)

	body := sb.String()
	m := mp.Get(false)
	_ = m.Chain.Append([]byte("$" + strconv.Itoa(len(body)) + "\r\n"))
	_ = m.Chain.Append([]byte(body))
	_ = m.Chain.Append([]byte("\r\n"))
	m.Type = message.TypeBulk
	return m
}

// CheckRequestSize implements spec §4.7's request-side size limit: a
// request whose mlen exceeds the configured bound is demoted to
// TOO_LARGE/noforward and answered directly, never reaching the router.
func (d *Dispatcher) CheckRequestSize(req *message.Message, mp *message.Pool) *message.Message {
	if d.cfg.RequestLimit <= 0 || req.MLen() <= d.cfg.RequestLimit {
		return nil
	}
	req.Type = message.TypeTooLarge
	req.NoForward = true
	return reply(mp, ReplyReqTooLarge, message.TypeError)
}

// CheckResponseSize implements spec §4.7's response-side size limit: a
// response exceeding the bound has its chain dropped and replaced.
func (d *Dispatcher) CheckResponseSize(resp *message.Message) bool {
	if d.cfg.ResponseLimit <= 0 || resp.MLen() <= d.cfg.ResponseLimit {
		return false
	}
	resp.Chain.Release()
	_ = resp.Chain.Append([]byte(ReplyRspTooLarge))
	resp.Type = message.TypeError
	return true
}
