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

package common

const (
	// App 应用程序名称
	App = "rcproxy"

	// Version 应用程序版本
	Version = "v0.0.1"

	// DefaultChunkSize 缓冲链默认的块大小
	//
	// 要求单条消息的小型头部（例如 `*N\r\n$4\r\nMGET\r\n`）必须落在同一个块内
	// 因此块大小设置得足够大 一般不需要跨块处理命令头
	DefaultChunkSize = 16 * 1024
)
