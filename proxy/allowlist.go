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
	"bufio"
	"context"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/packetd/rcproxy/logger"
)

// Allowlist is the supplemented IP allowlist reloader (spec.md lists it
// only as an external collaborator; original_source/src/nc_ipwhitelist.c
// shows the actual shape this rewrite follows): a flat file of one IP
// per line, polled by mtime and swapped atomically so Allowed() never
// blocks on a lock. An empty path, or a path that has never loaded
// successfully, means "allow everything" — a misconfigured or missing
// allowlist must never lock every client out.
type Allowlist struct {
	path     string
	interval time.Duration

	modTime int64
	current atomic.Pointer[map[string]struct{}]
}

// NewAllowlist builds an Allowlist over path, attempting one synchronous
// load so Allowed() is correct from the first connection onward. A
// failed initial load is logged and falls back to allow-everything
// rather than failing startup.
func NewAllowlist(path string, interval time.Duration) *Allowlist {
	a := &Allowlist{path: path, interval: interval}
	empty := map[string]struct{}{}
	a.current.Store(&empty)

	if path == "" {
		return a
	}
	if err := a.reload(); err != nil {
		logger.Warnf("allowlist: initial load of %s failed, allowing all clients: %v", path, err)
	}
	return a
}

// Allowed reports whether ip may open a client connection.
func (a *Allowlist) Allowed(ip string) bool {
	if a.path == "" {
		return true
	}
	set := a.current.Load()
	if set == nil || len(*set) == 0 {
		return true
	}
	_, ok := (*set)[ip]
	return ok
}

// Run polls path for mtime changes every interval until ctx is
// cancelled. It returns immediately if no path was configured.
func (a *Allowlist) Run(ctx context.Context) {
	if a.path == "" {
		return
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			changed, err := a.changed()
			if err != nil {
				logger.Warnf("allowlist: stat %s: %v", a.path, err)
				continue
			}
			if !changed {
				continue
			}
			if err := a.reload(); err != nil {
				logger.Warnf("allowlist: reload %s: %v", a.path, err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (a *Allowlist) changed() (bool, error) {
	info, err := os.Stat(a.path)
	if err != nil {
		return false, err
	}
	mt := info.ModTime().UnixNano()
	return mt != atomic.LoadInt64(&a.modTime), nil
}

// reload reads path into a fresh set and swaps it in atomically. The
// previous set is kept alive for two poll intervals before being
// dropped — a grace period ported from nc_ipwhitelist.c's deferred free,
// even though Go's GC makes an explicit free unnecessary: it guards
// against a goroutine that just loaded the old *map[string]struct{}
// pointer via Allowed() and hasn't finished reading it yet.
func (a *Allowlist) reload() error {
	f, err := os.Open(a.path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	next := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		next[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	old := a.current.Load()
	a.current.Store(&next)
	atomic.StoreInt64(&a.modTime, info.ModTime().UnixNano())

	grace := a.interval * 2
	go func() {
		time.Sleep(grace)
		_ = old
	}()
	return nil
}
