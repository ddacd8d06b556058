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

package cluster

import (
	"github.com/pkg/errors"

	"github.com/packetd/rcproxy/message"
)

// AskingRequest is the synthetic pre-ASK message (spec §6):
// `*1\r\n$6\r\nASKING\r\n`, enqueued ahead of the retried request and
// marked Swallow so its own reply never reaches the client.
const AskingRequest = "*1\r\n$6\r\nASKING\r\n"

// ErrRedirectUnknownServer is returned when a MOVED/ASK reply names a
// host:port this table has no record of (the refresher hasn't caught up
// with the new topology yet).
var ErrRedirectUnknownServer = errors.New("cluster: redirect target unknown")

// Redirect describes the work a -MOVED/-ASK reply demands of the caller
// (spec §4.6 Redirection): rewind and resend the paired request against
// a different server, optionally prefixed with ASKING.
type Redirect struct {
	Target  *Server
	Ask     bool
	Asking  *message.Message // nil unless Ask
	Request *message.Message // the rewound, reusable original request
}

// PlanRedirect builds a Redirect from a MOVED/ASK reply. It rewinds the
// paired request's chain so it can be resent byte-for-byte, looks up
// the target server in tbl, and — for ASK — allocates the synthetic
// ASKING message that must be sent first.
//
// The caller is responsible for acquiring a connection to Target,
// enqueuing Asking (if non-nil) then Request on it, and releasing
// reply.
func PlanRedirect(reply *message.Message, tbl *Table, mp *message.Pool) (*Redirect, error) {
	req := reply.Peer
	if req == nil {
		return nil, errors.New("cluster: redirect reply has no paired request")
	}

	srv, ok := tbl.ServerByAddr(reply.Addr)
	if !ok {
		return nil, ErrRedirectUnknownServer
	}

	req.Chain.Rewind()

	rd := &Redirect{Target: srv, Request: req}
	if reply.Type == message.TypeAsk {
		rd.Ask = true
		asking := mp.Get(true)
		if err := asking.Chain.Append([]byte(AskingRequest)); err != nil {
			return nil, err
		}
		asking.Swallow = true
		rd.Asking = asking
	}
	return rd, nil
}
