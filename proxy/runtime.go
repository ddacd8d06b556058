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
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/packetd/rcproxy/bufchain"
	"github.com/packetd/rcproxy/cluster"
	"github.com/packetd/rcproxy/common"
	"github.com/packetd/rcproxy/confengine"
	"github.com/packetd/rcproxy/dispatch"
	"github.com/packetd/rcproxy/internal/pubsub"
	"github.com/packetd/rcproxy/internal/rescue"
	"github.com/packetd/rcproxy/logger"
	"github.com/packetd/rcproxy/message"
	"github.com/packetd/rcproxy/server"
)

// Runtime wires components A-K into a live process: the client-facing
// listener, one goroutine pair per client connection, one goroutine per
// backend connection, the topology refresher, the allowlist poller, and
// (if enabled) the admin HTTP surface. It plays the role
// controller.Controller plays for the teacher's sniffer pipeline.
type Runtime struct {
	cfg       Config
	buildInfo common.BuildInfo

	bufPool *bufchain.Pool
	msgPool *message.Pool

	table  *cluster.Table
	router *cluster.Router
	refr   *cluster.Refresher
	bus    *pubsub.PubSub

	disp    atomic.Pointer[dispatch.Dispatcher]
	poolCfg atomic.Pointer[PoolConfig]

	allow *Allowlist
	svr   *server.Server
	ln    net.Listener

	backendsMu sync.Mutex
	backends   map[string]*backendConn

	clientsMu sync.Mutex
	clients   map[*clientConn]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRuntime builds a Runtime from conf, matching controller.New's
// shape: load settings, construct every sub-component, wire nothing
// live yet (Start does that).
func NewRuntime(conf *confengine.Config, buildInfo common.BuildInfo) (*Runtime, error) {
	if err := setupLogger(conf); err != nil {
		return nil, err
	}

	cfg, err := loadConfig(conf)
	if err != nil {
		return nil, err
	}

	bufPool := bufchain.NewPool(cfg.Pool.ChunkSize)
	msgPool := message.NewPool(bufPool)

	table := cluster.NewTable()
	seedTable(table, cfg.Cluster.Seeds)

	router := cluster.NewRouter(table, cluster.XXHash)
	bus := pubsub.New()
	refr := cluster.NewRefresher(table, bus, cfg.Cluster.ProbeBufSize)

	var allow *Allowlist
	if cfg.HasAllowlist {
		allow = NewAllowlist(cfg.Allowlist.Path, cfg.Allowlist.CheckInterval)
	} else {
		allow = NewAllowlist("", cfg.Allowlist.CheckInterval)
	}

	svr, err := server.New(conf)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	r := &Runtime{
		cfg:       cfg,
		buildInfo: buildInfo,
		bufPool:   bufPool,
		msgPool:   msgPool,
		table:     table,
		router:    router,
		refr:      refr,
		bus:       bus,
		allow:     allow,
		svr:       svr,
		backends:  make(map[string]*backendConn),
		clients:   make(map[*clientConn]struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	r.poolCfg.Store(&cfg.Pool)
	r.disp.Store(dispatch.New(dispatchConfigFrom(cfg.Pool), table, refr))
	return r, nil
}

func dispatchConfigFrom(p PoolConfig) dispatch.Config {
	return dispatch.Config{
		Password:      p.Password,
		RequestLimit:  p.RequestLimit,
		ResponseLimit: p.ResponseLimit,
	}
}

// seedTable registers the configured bootstrap addresses as known
// servers (so PickProbeTarget's fallback has somewhere to send the very
// first CLUSTER NODES probe) without assigning them any slots — real
// ownership only takes effect once the first refresh completes.
func seedTable(table *cluster.Table, seeds []string) {
	nodes := make([]cluster.NodeInfo, 0, len(seeds))
	for _, addr := range seeds {
		nodes = append(nodes, cluster.NodeInfo{ID: addr, Addr: addr, Master: true})
	}
	table.StageFromNodes(nodes)
	table.Swap()
}

// setupLogger mirrors controller.go's own helper: unpack logger.Options
// and apply the same defaults before the first log line is ever
// emitted.
func setupLogger(conf *confengine.Config) error {
	var opts logger.Options
	if err := conf.UnpackChild("logger", &opts); err != nil {
		return err
	}
	if opts.Filename == "" {
		opts.Filename = "rcproxy.log"
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 10
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 7
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = 100
	}
	logger.SetOptions(opts)
	return nil
}

// Start begins accepting client connections and kicks off the topology
// refresher, allowlist poller, and (if enabled) the admin HTTP surface.
func (r *Runtime) Start() error {
	ln, err := net.Listen("tcp", r.cfg.Listener.Address)
	if err != nil {
		return errors.Wrap(err, "listen")
	}
	r.ln = ln
	logger.Infof("rcproxy listening on %s", r.cfg.Listener.Address)

	r.registerAdminRoutes()
	if r.svr != nil {
		go func() {
			if err := r.svr.ListenAndServe(); err != nil {
				logger.Errorf("admin server stopped: %v", err)
			}
		}()
	}

	go r.allow.Run(r.ctx)
	go r.runRefreshLoop()
	go r.consumeProbeWakes()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.acceptLoop()
	}()

	return nil
}

func (r *Runtime) acceptLoop() {
	defer rescue.HandleCrash()
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			select {
			case <-r.ctx.Done():
				return
			default:
				logger.Errorf("accept: %v", err)
				return
			}
		}
		r.handleClient(conn)
	}
}

func (r *Runtime) dispatcher() *dispatch.Dispatcher {
	return r.disp.Load()
}

// Shutdown stops accepting new connections, closes every live client/
// backend connection, and waits for their goroutines to exit,
// aggregating per-connection close errors.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.cancel()

	var result *multierror.Error
	if r.ln != nil {
		if err := r.ln.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	r.clientsMu.Lock()
	for cc := range r.clients {
		cc.close()
	}
	r.clientsMu.Unlock()

	r.backendsMu.Lock()
	for _, bc := range r.backends {
		bc.close()
	}
	r.backendsMu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		result = multierror.Append(result, ctx.Err())
	}

	return result.ErrorOrNil()
}

// Reload re-reads the subset of configuration that's safe to change
// without tearing down live connections: the dispatch-owned AUTH
// password and size limits, matching Controller.Reload's "reload what's
// safe, keep the rest" shape. Listener address and pool chunk size are
// fixed for the process lifetime; changing either requires a restart.
func (r *Runtime) Reload(conf *confengine.Config) error {
	cfg, err := loadConfig(conf)
	if err != nil {
		return err
	}
	r.poolCfg.Store(&cfg.Pool)
	r.disp.Store(dispatch.New(dispatchConfigFrom(cfg.Pool), r.table, r.refr))
	return nil
}
