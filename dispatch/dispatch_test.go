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

package dispatch_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/rcproxy/bufchain"
	"github.com/packetd/rcproxy/cluster"
	"github.com/packetd/rcproxy/dispatch"
	"github.com/packetd/rcproxy/internal/pubsub"
	"github.com/packetd/rcproxy/message"
)

func newReq(t *testing.T, raw string, typ message.Type, noForward bool) (*message.Pool, *message.Message) {
	t.Helper()
	mp := message.NewPool(bufchain.NewPool(64))
	m := mp.Get(true)
	require.NoError(t, m.Chain.Append([]byte(raw)))
	m.Type = typ
	m.NoForward = noForward
	return mp, m
}

func TestHandlePing(t *testing.T) {
	mp, req := newReq(t, "*1\r\n$4\r\nPING\r\n", message.TypePing, true)
	d := dispatch.New(dispatch.Config{}, nil, nil)

	resp, handled := d.Handle(req, &dispatch.AuthState{}, mp)
	require.True(t, handled)
	assert.Equal(t, dispatch.ReplyPong, string(resp.Chain.Bytes()))
}

func TestHandleNoAuthGateBlocksForwardedCommands(t *testing.T) {
	mp, req := newReq(t, "*2\r\n$3\r\nGET\r\n$1\r\na\r\n", message.TypeGet, false)
	d := dispatch.New(dispatch.Config{Password: "secret"}, nil, nil)
	auth := &dispatch.AuthState{NeedAuth: true}

	resp, handled := d.Handle(req, auth, mp)
	require.True(t, handled)
	assert.Equal(t, dispatch.ReplyNoAuth, string(resp.Chain.Bytes()))
}

func TestHandleAuthSuccessClearsGate(t *testing.T) {
	mp, req := newReq(t, "*2\r\n$4\r\nAUTH\r\n$6\r\nsecret\r\n", message.TypeAuth, true)
	d := dispatch.New(dispatch.Config{Password: "secret"}, nil, nil)
	auth := &dispatch.AuthState{NeedAuth: true}

	resp, handled := d.Handle(req, auth, mp)
	require.True(t, handled)
	assert.Equal(t, dispatch.ReplyOK, string(resp.Chain.Bytes()))
	assert.False(t, auth.NeedAuth)
}

func TestHandleAuthWrongPassword(t *testing.T) {
	mp, req := newReq(t, "*2\r\n$4\r\nAUTH\r\n$5\r\nwrong\r\n", message.TypeAuth, true)
	d := dispatch.New(dispatch.Config{Password: "secret"}, nil, nil)
	auth := &dispatch.AuthState{}

	resp, handled := d.Handle(req, auth, mp)
	require.True(t, handled)
	assert.Equal(t, dispatch.ReplyInvalidPassword, string(resp.Chain.Bytes()))
	assert.True(t, auth.NeedAuth)
}

func TestHandleAuthWithNoPasswordConfigured(t *testing.T) {
	mp, req := newReq(t, "*2\r\n$4\r\nAUTH\r\n$3\r\nfoo\r\n", message.TypeAuth, true)
	d := dispatch.New(dispatch.Config{}, nil, nil)
	auth := &dispatch.AuthState{}

	resp, handled := d.Handle(req, auth, mp)
	require.True(t, handled)
	assert.Equal(t, dispatch.ReplyNoPasswordSet, string(resp.Chain.Bytes()))
}

func TestHandleForwardableCommandPassesThrough(t *testing.T) {
	mp, req := newReq(t, "*2\r\n$3\r\nGET\r\n$1\r\na\r\n", message.TypeGet, false)
	d := dispatch.New(dispatch.Config{}, nil, nil)

	resp, handled := d.Handle(req, &dispatch.AuthState{}, mp)
	assert.False(t, handled)
	assert.Nil(t, resp)
}

func TestHandleSlotsEmptyTable(t *testing.T) {
	tbl := cluster.NewTable()
	mp, req := newReq(t, "*1\r\n$5\r\nSLOTS\r\n", message.TypeSlots, true)
	d := dispatch.New(dispatch.Config{}, tbl, nil)

	resp, handled := d.Handle(req, &dispatch.AuthState{}, mp)
	require.True(t, handled)
	assert.Equal(t, message.TypeBulk, resp.Type)
}

func TestHandleSlotsExplicitPoolZeroSucceeds(t *testing.T) {
	tbl := cluster.NewTable()
	mp, req := newReq(t, "*2\r\n$5\r\nSLOTS\r\n$1\r\n0\r\n", message.TypeSlots, true)
	d := dispatch.New(dispatch.Config{}, tbl, nil)

	resp, handled := d.Handle(req, &dispatch.AuthState{}, mp)
	require.True(t, handled)
	assert.Equal(t, message.TypeBulk, resp.Type)
}

func TestHandleSlotsInvalidPoolIndexRejected(t *testing.T) {
	tbl := cluster.NewTable()
	mp, req := newReq(t, "*2\r\n$5\r\nSLOTS\r\n$1\r\n9\r\n", message.TypeSlots, true)
	d := dispatch.New(dispatch.Config{}, tbl, nil)

	resp, handled := d.Handle(req, &dispatch.AuthState{}, mp)
	require.True(t, handled)
	assert.Equal(t, dispatch.ReplyInvalidSlotsPool, string(resp.Chain.Bytes()))
}

func TestHandleNodesSucceeds(t *testing.T) {
	tbl := cluster.NewTable()
	refr := cluster.NewRefresher(tbl, pubsub.New(), 1024)
	mp, req := newReq(t, "*1\r\n$5\r\nNODES\r\n", message.TypeNodes, true)
	d := dispatch.New(dispatch.Config{}, tbl, refr)

	resp, handled := d.Handle(req, &dispatch.AuthState{}, mp)
	require.True(t, handled)
	assert.Equal(t, message.TypeBulk, resp.Type)
}

func TestHandleNodesExplicitPoolZeroSucceeds(t *testing.T) {
	tbl := cluster.NewTable()
	refr := cluster.NewRefresher(tbl, pubsub.New(), 1024)
	mp, req := newReq(t, "*2\r\n$5\r\nNODES\r\n$1\r\n0\r\n", message.TypeNodes, true)
	d := dispatch.New(dispatch.Config{}, tbl, refr)

	resp, handled := d.Handle(req, &dispatch.AuthState{}, mp)
	require.True(t, handled)
	assert.Equal(t, message.TypeBulk, resp.Type)
}

func TestHandleNodesInvalidPoolIndexRejected(t *testing.T) {
	tbl := cluster.NewTable()
	refr := cluster.NewRefresher(tbl, pubsub.New(), 1024)
	mp, req := newReq(t, "*2\r\n$4\r\nNODE\r\n$2\r\n42\r\n", message.TypeNode, true)
	d := dispatch.New(dispatch.Config{}, tbl, refr)

	resp, handled := d.Handle(req, &dispatch.AuthState{}, mp)
	require.True(t, handled)
	assert.Equal(t, dispatch.ReplyInvalidNodesPool, string(resp.Chain.Bytes()))
}

func TestHandleNodesWithoutRefresherRejected(t *testing.T) {
	mp, req := newReq(t, "*1\r\n$5\r\nNODES\r\n", message.TypeNodes, true)
	d := dispatch.New(dispatch.Config{}, nil, nil)

	resp, handled := d.Handle(req, &dispatch.AuthState{}, mp)
	require.True(t, handled)
	assert.Equal(t, dispatch.ReplyInvalidNodesPool, string(resp.Chain.Bytes()))
}

func TestCheckRequestSizeDemotesOversized(t *testing.T) {
	mp, req := newReq(t, "*2\r\n$3\r\nGET\r\n$1\r\na\r\n", message.TypeGet, false)
	d := dispatch.New(dispatch.Config{RequestLimit: 4}, nil, nil)

	resp := d.CheckRequestSize(req, mp)
	require.NotNil(t, resp)
	assert.Equal(t, dispatch.ReplyReqTooLarge, string(resp.Chain.Bytes()))
	assert.Equal(t, message.TypeTooLarge, req.Type)
	assert.True(t, req.NoForward)
}

func TestCheckRequestSizeWithinLimit(t *testing.T) {
	mp, req := newReq(t, "*2\r\n$3\r\nGET\r\n$1\r\na\r\n", message.TypeGet, false)
	d := dispatch.New(dispatch.Config{RequestLimit: 1024}, nil, nil)

	resp := d.CheckRequestSize(req, mp)
	assert.Nil(t, resp)
}
