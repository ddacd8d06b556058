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

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/packetd/rcproxy/common"
	"github.com/packetd/rcproxy/confengine"
	"github.com/packetd/rcproxy/internal/sigs"
	"github.com/packetd/rcproxy/logger"
	"github.com/packetd/rcproxy/proxy"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the Redis Cluster proxy",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := confengine.LoadConfigPath(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}

		rt, err := proxy.NewRuntime(cfg, common.BuildInfo{
			Version: version,
			GitHash: gitHash,
			Time:    buildTime,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create runtime: %v\n", err)
			os.Exit(1)
		}
		if err := rt.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to start runtime: %v\n", err)
			os.Exit(1)
		}

		var reloadTotal int
		for {
			select {
			case <-sigs.Terminate():
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := rt.Shutdown(ctx); err != nil {
					logger.Errorf("shutdown: %v", err)
				}
				return

			case <-sigs.Reload():
				reloadTotal++

				cfg, err := confengine.LoadConfigPath(configPath)
				if err != nil {
					fmt.Fprintf(os.Stderr, "failed to load config (count=%d): %v\n", reloadTotal, err)
					continue
				}

				start := time.Now()
				if err := rt.Reload(cfg); err != nil {
					logger.Errorf("failed to reload config: %v", err)
				}
				logger.Infof("reload (count=%d) take %s", reloadTotal, time.Since(start))
			}
		}
	},
	Example: "# rcproxy run --config rcproxy.yaml",
}

var configPath string

func init() {
	runCmd.Flags().StringVar(&configPath, "config", "rcproxy.yaml", "Configuration file path")
	rootCmd.AddCommand(runCmd)
}
