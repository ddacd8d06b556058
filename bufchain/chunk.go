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

// Package bufchain 实现了缓冲链 一个追加写入的定长块链表 用于承载一条完整的请求
// 或响应报文
//
// 每个 Chunk 维护 start <= pos <= last <= end 四个游标：
//   - start: 本块可读窗口的起点（重放/rewind 时回到这里）
//   - pos:   解析游标 当前读到的位置
//   - last:  已写入数据的终点
//   - end:   底层数组容量
//
// 设计思路沿用了 packetd 中 internal/zerocopy 与 internal/bufbytes 的
// 思路（Read/Write/Close 的零拷贝切分、有界追加写入），但放宽为可以在链
// 间搬运（偷取/拆分）整块，以便 fragmenter 能把 MGET/MSET 的参数原样
// 搬到子请求链上而不必逐字节拷贝。
package bufchain

import (
	"github.com/valyala/bytebufferpool"
)

// Chunk 缓冲链中的一个定长块
type Chunk struct {
	buf   []byte
	start int
	pos   int
	last  int
	end   int
	next  *Chunk

	bb   *bytebufferpool.ByteBuffer
	pool *Pool
}

// Len 返回本块内尚未被消费窗口的长度（从 start 到 last）
func (c *Chunk) Len() int {
	return c.last - c.start
}

// Unparsed 返回从解析游标到写入终点之间尚未解析的数据
func (c *Chunk) Unparsed() []byte {
	return c.buf[c.pos:c.last]
}

// Data 返回本块全部有效数据（start 到 last）
func (c *Chunk) Data() []byte {
	return c.buf[c.start:c.last]
}

// Slice 返回块内 [start, end) 范围的原始字节 供 message.KeyRef 这类
// "偏移量绑定到缓冲链句柄" 的引用类型使用（见 DESIGN NOTES §9）
//
// 返回的切片与底层数组共享内存 仅在持有该 Chunk 的消息存活期间有效
func (c *Chunk) Slice(start, end int) []byte {
	return c.buf[start:end]
}

// Avail 返回本块尾部还能写入多少字节
func (c *Chunk) Avail() int {
	return c.end - c.last
}

// Empty 本块是否已无可读数据
func (c *Chunk) Empty() bool {
	return c.last == c.start
}

// Next 返回链上的下一块 可能为 nil
func (c *Chunk) Next() *Chunk {
	return c.next
}

// AtEnd 报告解析游标是否已经追上写入终点 即本块当前没有更多可读字节
func (c *Chunk) AtEnd() bool {
	return c.pos == c.last
}

// Advance 把解析游标向前移动 n 字节
func (c *Chunk) Advance(n int) {
	c.pos += n
}

// Pos 返回解析游标在底层数组中的绝对偏移 供构造 message.KeyRef 使用
func (c *Chunk) Pos() int {
	return c.pos
}

// Rewind 把解析游标拉回窗口起点 用于请求重放（-MOVED/-ASK 重发原始请求）
func (c *Chunk) Rewind() {
	c.pos = c.start
}

// append 向块尾写入数据 返回实际写入的字节数（可能小于 len(p)）
func (c *Chunk) append(p []byte) int {
	n := copy(c.buf[c.last:c.end], p)
	c.last += n
	return n
}

func newChunk(size int, bb *bytebufferpool.ByteBuffer, pool *Pool) *Chunk {
	return &Chunk{
		buf:  bb.B,
		end:  size,
		bb:   bb,
		pool: pool,
	}
}
