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

// Package proxy implements component L: the Runtime that wires
// message/parser/fragment/cluster/dispatch together into a live
// listener, one goroutine pair per client connection, one goroutine per
// backend connection, and the topology-refresh and allowlist background
// loops. It plays the role controller.Controller plays for the
// teacher's sniffer pipeline.
package proxy

import (
	"time"

	"github.com/packetd/rcproxy/common"
	"github.com/packetd/rcproxy/confengine"
)

// PoolConfig carries the server-pool-wide settings that CheckRequestSize/
// CheckResponseSize/AUTH/SELECT behavior depend on. It is the reloadable
// subset of Config: Runtime.Reload replaces it wholesale without tearing
// down the listener or any live connection.
type PoolConfig struct {
	ChunkSize     int    `config:"chunkSize"`
	RequestLimit  int    `config:"requestLimit"`
	ResponseLimit int    `config:"responseLimit"`
	Password      string `config:"password"`
	Database      int    `config:"database"`
	RedisCluster  bool   `config:"rediscluster"`
}

// ClusterConfig carries the bootstrap/refresh settings for component F/G.
type ClusterConfig struct {
	Seeds           []string      `config:"seeds"`
	RefreshInterval time.Duration `config:"refreshInterval"`
	DialTimeout     time.Duration `config:"dialTimeout"`
	ProbeBufSize    int           `config:"probeBufSize"`
}

// ListenerConfig carries the client-facing listen address.
type ListenerConfig struct {
	Address string `config:"address"`
}

// AllowlistConfig carries the supplemented IP allowlist reloader's
// settings, grounded on original_source/src/nc_ipwhitelist.c.
type AllowlistConfig struct {
	Path          string        `config:"path"`
	CheckInterval time.Duration `config:"checkInterval"`
}

// Config is the full set of settings loadConfig reads out of the
// top-level rcproxy.yaml document.
type Config struct {
	Pool         PoolConfig
	Cluster      ClusterConfig
	Listener     ListenerConfig
	Allowlist    AllowlistConfig
	HasAllowlist bool
}

// loadConfig unpacks each top-level section independently (mirroring
// controller.go's setupLogger's own UnpackChild call) and fills in the
// defaults spec §4.9's ambient-stack section names explicitly.
func loadConfig(conf *confengine.Config) (Config, error) {
	var cfg Config

	if err := conf.UnpackChild("pool", &cfg.Pool); err != nil {
		return Config{}, err
	}
	if err := conf.UnpackChild("cluster", &cfg.Cluster); err != nil {
		return Config{}, err
	}
	if err := conf.UnpackChild("listener", &cfg.Listener); err != nil {
		return Config{}, err
	}
	if conf.Has("allowlist") {
		cfg.HasAllowlist = true
		if err := conf.UnpackChild("allowlist", &cfg.Allowlist); err != nil {
			return Config{}, err
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Pool.ChunkSize <= 0 {
		c.Pool.ChunkSize = common.DefaultChunkSize
	}
	if c.Cluster.RefreshInterval <= 0 {
		c.Cluster.RefreshInterval = 3 * time.Second
	}
	if c.Cluster.DialTimeout <= 0 {
		c.Cluster.DialTimeout = 3 * time.Second
	}
	if c.Cluster.ProbeBufSize <= 0 {
		c.Cluster.ProbeBufSize = 64 << 10
	}
	if c.Listener.Address == "" {
		c.Listener.Address = "0.0.0.0:6380"
	}
	if c.Allowlist.CheckInterval <= 0 {
		c.Allowlist.CheckInterval = 5 * time.Second
	}
}
