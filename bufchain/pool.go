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

package bufchain

import (
	"github.com/valyala/bytebufferpool"
)

// Pool 是块的空闲链表 所有 Chunk 均从这里分配/归还
//
// 底层复用 bytebufferpool.Pool 作为真正的内存回收实现 这样热路径上不会
// 再产生新的分配 符合 §5 "Resource discipline" 的要求
type Pool struct {
	chunkSize int
	bbp       *bytebufferpool.Pool
}

// NewPool 创建并返回一个块大小为 chunkSize 的 Pool
func NewPool(chunkSize int) *Pool {
	if chunkSize <= 0 {
		chunkSize = 16 * 1024
	}
	return &Pool{
		chunkSize: chunkSize,
		bbp:       new(bytebufferpool.Pool),
	}
}

// ChunkSize 返回本 Pool 的块大小
func (p *Pool) ChunkSize() int {
	return p.chunkSize
}

// Get 取出一个空闲的 Chunk 不足时向 bytebufferpool 申请新的底层数组
func (p *Pool) Get() *Chunk {
	bb := p.bbp.Get()
	if cap(bb.B) < p.chunkSize {
		bb.B = make([]byte, p.chunkSize)
	} else {
		bb.B = bb.B[:p.chunkSize]
	}
	return newChunk(p.chunkSize, bb, p)
}

// put 把一个自持有底层数组的 Chunk 归还给空闲链表
//
// 由 split 产生的尾块与原块共享底层数组 不持有 bb 不归还 避免重复回收
func (p *Pool) put(c *Chunk) {
	if c.bb == nil {
		return
	}
	p.bbp.Put(c.bb)
}
