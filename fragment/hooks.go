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

package fragment

import (
	"strings"

	"github.com/packetd/rcproxy/message"
)

// Hooks bundles the pre-/post-coalesce pair a fragmentable command runs
// through. This is the concrete shape of the "pre- and post-forward
// hooks" interface spec.md §1 asks external callers to be able to plug
// into, modeled on the teacher's pipeline.Pipeline/processor.Manager
// pair: where the teacher ranges a *common.Record through named
// processor.Processors looked up by name, the proxy looks up a
// fragmented command's named hook pair the same way.
type Hooks struct {
	Pre  func(owner, sub *message.Message) error
	Post func(owner *message.Message, mp *message.Pool) (*message.Message, error)
}

var hookTable = map[string]Hooks{}

// Register adds (or replaces) the hook pair for a command name. Called
// from this package's init — exported so a caller can register a custom
// strategy for a command without forking the package.
func Register(name string, h Hooks) {
	hookTable[strings.ToUpper(name)] = h
}

// Get looks up the hook pair for a command name.
func Get(name string) (Hooks, bool) {
	h, ok := hookTable[strings.ToUpper(name)]
	return h, ok
}

func init() {
	Register("DEL", Hooks{Pre: PreCoalesce, Post: PostCoalesce})
	Register("MSET", Hooks{Pre: PreCoalesce, Post: PostCoalesce})
	Register("MGET", Hooks{Pre: PreCoalesce, Post: PostCoalesce})
}
