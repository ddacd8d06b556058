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

// Package cmd wires the rcproxy CLI. No teacher source for a root
// command exists in the retrieved pack (only cmd/agent.go and
// cmd/log.go, both of which add themselves to a rootCmd defined
// elsewhere in the original project that never made it into this
// pack), so this file is newly authored in the same cobra idiom the
// retrieved subcommands already follow.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "rcproxy",
	Short: "A Redis Cluster protocol-aware proxy",

	SilenceUsage:  true,
	SilenceErrors: true,
}

// version, gitHash and buildTime are populated via -ldflags at build
// time (see main.go), the same scheme cmd/log.go already assumes for
// its own controller.New(cfg, common.BuildInfo{...}) call.
var (
	version   string
	gitHash   string
	buildTime string
)

// Execute runs the configured command, matching the teacher's
// cmd/agent.go shape: report the error to stderr and exit non-zero
// rather than letting cobra print its own usage dump.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
