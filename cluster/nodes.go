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
	"sort"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// NodeInfo is one line of a CLUSTER NODES reply, decoded into the shape
// ParseNodes sorts master-before-slave before handing back — mirroring
// the master-before-slave ordering leesander1-radix's Topo.sort() gives
// the CLUSTER SLOTS shape, applied here to the line-oriented CLUSTER
// NODES text format instead.
type NodeInfo struct {
	ID       string `mapstructure:"id"`
	Addr     string `mapstructure:"addr"`
	Master   bool   `mapstructure:"master"`
	MasterID string `mapstructure:"master_id"`
	Slots    [][2]int
}

// ParseNodes parses a raw CLUSTER NODES reply body into NodeInfo
// records, sorted master-before-slave (spec §4.6 step 4).
func ParseNodes(body []byte) ([]NodeInfo, error) {
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	nodes := make([]NodeInfo, 0, len(lines))

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		n, err := parseNodeLine(line)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}

	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].Master && !nodes[j].Master
	})
	return nodes, nil
}

// parseNodeLine decodes one whitespace-separated CLUSTER NODES line:
//
//	<id> <ip:port@bus-port> <flags> <master-id|-> <ping> <pong> <epoch> <link-state> [slots...]
func parseNodeLine(line string) (NodeInfo, error) {
	fields := strings.Fields(line)
	if len(fields) < 8 {
		return NodeInfo{}, errors.Errorf("cluster: malformed CLUSTER NODES line: %q", line)
	}

	raw := map[string]any{
		"id":        fields[0],
		"addr":      strings.SplitN(fields[1], "@", 2)[0],
		"master":    strings.Contains(fields[2], "master"),
		"master_id": fields[3],
	}

	var n NodeInfo
	if err := mapstructure.Decode(raw, &n); err != nil {
		return NodeInfo{}, errors.Wrap(err, "cluster: decode node line")
	}
	if n.MasterID == "-" {
		n.MasterID = ""
	}

	if n.Master {
		slots, err := parseSlotRanges(fields[8:])
		if err != nil {
			return NodeInfo{}, errors.Wrapf(err, "cluster: node %s", n.ID)
		}
		n.Slots = slots
	}
	return n, nil
}

// parseSlotRanges parses the trailing slot-range tokens of a master's
// CLUSTER NODES line ("0-5460", "5461", "[1000->-<id>]" importing
// migration markers are skipped since a mid-migration slot isn't
// stably routable yet).
func parseSlotRanges(tokens []string) ([][2]int, error) {
	ranges := make([][2]int, 0, len(tokens))
	for _, tok := range tokens {
		if strings.HasPrefix(tok, "[") {
			continue
		}
		parts := strings.SplitN(tok, "-", 2)
		start, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, errors.Wrapf(err, "cluster: slot token %q", tok)
		}
		end := start
		if len(parts) == 2 {
			end, err = strconv.Atoi(parts[1])
			if err != nil {
				return nil, errors.Wrapf(err, "cluster: slot token %q", tok)
			}
		}
		ranges = append(ranges, [2]int{start, end})
	}
	return ranges, nil
}
