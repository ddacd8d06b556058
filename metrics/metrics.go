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

// Package metrics defines the proxy's Prometheus surface (component K):
// package-level collectors registered once at import time, the same
// shape controller/metrics.go uses.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/packetd/rcproxy/common"
)

var (
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "uptime",
			Help:      "Uptime in seconds",
		},
	)

	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "git_hash", "build_time"},
	)

	ActiveClientConns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "active_client_connections",
			Help:      "Currently open client-facing connections",
		},
	)

	ActiveServerConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "active_server_connections",
			Help:      "Currently open backend connections, by server address",
		},
		[]string{"addr"},
	)

	MessagesParsedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "messages_parsed_total",
			Help:      "Parsed messages total, by direction (request/response)",
		},
		[]string{"direction"},
	)

	FragmentsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "fragments_in_flight",
			Help:      "Sub-requests awaiting coalescence into an owner reply",
		},
	)

	FragmentedCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "fragmented_commands_total",
			Help:      "Commands split into per-slot fragments, by command",
		},
		[]string{"command"},
	)

	RedirectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "redirections_total",
			Help:      "MOVED/ASK redirections followed, by kind",
		},
		[]string{"kind"},
	)

	TopologyRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "topology_refreshes_total",
			Help:      "Topology refresh attempts, by outcome",
		},
		[]string{"outcome"},
	)

	ProtocolErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "protocol_errors_total",
			Help:      "Malformed requests/responses rejected, by side",
		},
		[]string{"side"},
	)

	RequestsTooLargeTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "requests_too_large_total",
			Help:      "Requests rejected for exceeding the configured size limit",
		},
	)

	ResponsesTooLargeTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "responses_too_large_total",
			Help:      "Responses rejected for exceeding the configured size limit",
		},
	)
)
