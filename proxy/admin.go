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
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/packetd/rcproxy/cluster"
	"github.com/packetd/rcproxy/common"
	"github.com/packetd/rcproxy/internal/sigs"
	"github.com/packetd/rcproxy/logger"
	"github.com/packetd/rcproxy/metrics"
)

// registerAdminRoutes wires the admin HTTP surface spec §4.9 adds on
// top of spec.md's wire protocol: /metrics, /-/reload, /-/logger and
// /debug/slots, the same route-registration shape
// controller.go's setupServer uses.
func (r *Runtime) registerAdminRoutes() {
	if r.svr == nil {
		return
	}

	r.svr.RegisterGetRoute("/metrics", func(w http.ResponseWriter, req *http.Request) {
		r.recordMetrics()
		promhttp.Handler().ServeHTTP(w, req)
	})

	r.svr.RegisterPostRoute("/-/logger", func(w http.ResponseWriter, req *http.Request) {
		logger.SetLoggerLevel(req.FormValue("level"))
		w.Write([]byte(`{"status": "success"}`))
	})

	r.svr.RegisterPostRoute("/-/reload", func(w http.ResponseWriter, req *http.Request) {
		if err := sigs.SelfReload(); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(err.Error()))
			return
		}
	})

	r.svr.RegisterGetRoute("/debug/slots", r.handleDebugSlots)
}

func (r *Runtime) recordMetrics() {
	metrics.Uptime.Set(float64(time.Now().Unix() - common.Started()))
	metrics.BuildInfo.WithLabelValues(r.buildInfo.Version, r.buildInfo.GitHash, r.buildInfo.Time).Set(1)
}

type slotRange struct {
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Master string `json:"master"`
	Slaves int    `json:"slaves"`
}

// decodeQuery flattens req's query string into a common.Options map so
// handlers can pull typed values out of it via cast: a key given once
// decodes as a plain string (GetInt/GetBool), a key repeated (?k=a&k=b)
// decodes as a []string (GetStringSlice).
func decodeQuery(req *http.Request) common.Options {
	opts := common.NewOptions()
	for k, v := range req.URL.Query() {
		switch len(v) {
		case 0:
		case 1:
			opts.Merge(k, v[0])
		default:
			opts.Merge(k, v)
		}
	}
	return opts
}

// handleDebugSlots renders the slot table's ownership as JSON, the
// machine-readable counterpart to dispatch's human-readable SLOTS
// reply. ?masters=host:port&masters=host:port restricts the dump to
// ranges owned by one of the listed masters; ?slaves=false omits the
// slave count from each range.
func (r *Runtime) handleDebugSlots(w http.ResponseWriter, req *http.Request) {
	opts := decodeQuery(req)

	var masterFilter map[string]struct{}
	if names, err := opts.GetStringSlice("masters"); err == nil && len(names) > 0 {
		masterFilter = make(map[string]struct{}, len(names))
		for _, n := range names {
			masterFilter[n] = struct{}{}
		}
	}
	showSlaves := true
	if v, err := opts.GetBool("slaves"); err == nil {
		showSlaves = v
	}

	snap := r.table.Snapshot()

	var ranges []slotRange
	var cur *cluster.ReplicaSet
	start := 0
	flush := func(end int) {
		if cur == nil {
			return
		}
		master := ""
		if cur.Master != nil {
			master = cur.Master.Addr
		}
		if masterFilter != nil {
			if _, ok := masterFilter[master]; !ok {
				return
			}
		}
		slaves := 0
		if showSlaves {
			for _, bucket := range cur.Slaves {
				slaves += len(bucket)
			}
		}
		ranges = append(ranges, slotRange{Start: start, End: end - 1, Master: master, Slaves: slaves})
	}
	for i, rs := range snap {
		if rs != cur {
			flush(i)
			cur = rs
			start = i
		}
	}
	flush(cluster.NumSlots)

	body, err := json.Marshal(ranges)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}
