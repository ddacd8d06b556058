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
	"fmt"

	"github.com/pkg/errors"
)

// ErrOOM 申请新块失败时返回的错误
//
// 与 parser 中 PARSE_ERROR / errno=ENOMEM 对应：Chain 的任何写操作失败时
// 都不会给目标链留下部分写入的状态
var ErrOOM = errors.New("bufchain: out of memory")

// Chain 是一条消息所持有的块链 只追加写入 支持跨消息搬运（偷取/拆分）
type Chain struct {
	pool   *Pool
	head   *Chunk
	tail   *Chunk
	length int
}

// NewChain 创建一条绑定到 pool 的空链
func NewChain(pool *Pool) *Chain {
	return &Chain{pool: pool}
}

// Pool 返回本链绑定的块池
func (c *Chain) Pool() *Pool {
	return c.pool
}

// Length 返回链上全部有效字节数 即消息的 mlen
func (c *Chain) Length() int {
	return c.length
}

// Empty 链是否不持有任何块
func (c *Chain) Empty() bool {
	return c.head == nil
}

// Head 返回首块 供解析器读取 可能为 nil
func (c *Chain) Head() *Chunk {
	return c.head
}

// Tail 返回尾块 供 PARSE_REPAIR 搬运逻辑定位"刚刚写满的那一块" 可能为 nil
func (c *Chain) Tail() *Chunk {
	return c.tail
}

func (c *Chain) appendChunk(ch *Chunk) {
	if c.tail == nil {
		c.head, c.tail = ch, ch
		return
	}
	c.tail.next = ch
	c.tail = ch
}

// Append 把 p 追加写入链尾 不足容量时自动申请新块
func (c *Chain) Append(p []byte) error {
	for len(p) > 0 {
		if c.tail == nil || c.tail.Avail() == 0 {
			ch := c.pool.Get()
			if ch == nil {
				return ErrOOM
			}
			c.appendChunk(ch)
		}
		n := c.tail.append(p)
		c.length += n
		p = p[n:]
	}
	return nil
}

// Ensure 确保链尾至少有 n 字节连续可写空间 必要时申请新块
//
// 用于 prepend_format 之外，需要写入定长命令头的场景
func (c *Chain) Ensure(n int) error {
	if c.tail != nil && c.tail.Avail() >= n {
		return nil
	}
	if n > c.pool.ChunkSize() {
		return ErrOOM
	}
	ch := c.pool.Get()
	if ch == nil {
		return ErrOOM
	}
	c.appendChunk(ch)
	return nil
}

// PrependFormat 在链头插入一个新块 写入格式化头部（如 `*N\r\n$4\r\nmget\r\n`）
//
// 用于 fragmenter 为子请求合成统一协议头（spec §4.5 step 4）
func (c *Chain) PrependFormat(format string, args ...any) error {
	header := fmt.Sprintf(format, args...)
	if len(header) > c.pool.ChunkSize() {
		return ErrOOM
	}

	ch := c.pool.Get()
	if ch == nil {
		return ErrOOM
	}
	n := ch.append([]byte(header))
	if n != len(header) {
		return ErrOOM
	}

	if c.head == nil {
		c.head, c.tail = ch, ch
	} else {
		ch.next = c.head
		c.head = ch
	}
	c.length += n
	return nil
}

// Rewind 把链上每个块的解析游标都拉回窗口起点
//
// 对应 spec §4.6 redirection：收到 -MOVED/-ASK 时原请求需要原样重发
func (c *Chain) Rewind() {
	for ch := c.head; ch != nil; ch = ch.next {
		ch.Rewind()
	}
}

// Bytes 把链上全部有效数据拼接为一个连续切片 仅用于日志/测试 热路径应避免使用
func (c *Chain) Bytes() []byte {
	out := make([]byte, 0, c.length)
	for ch := c.head; ch != nil; ch = ch.next {
		out = append(out, ch.Data()...)
	}
	return out
}

// CopyFrom 从 src 链的当前解析游标处搬运 n 字节到本链尾部
//
// 整块对齐时直接偷取（移动块指针 不拷贝字节）否则在边界处拆分源块
// 用于 MGET/MSET 把参数 bulk 从原始请求链搬到对应分片子请求链上
func (c *Chain) CopyFrom(src *Chain, n int) error {
	for n > 0 {
		ch := src.head
		if ch == nil {
			return errors.New("bufchain: source exhausted")
		}

		avail := ch.last - ch.pos
		if avail == 0 {
			src.head = ch.next
			if src.head == nil {
				src.tail = nil
			}
			continue
		}

		if avail <= n {
			// 整块对齐 直接偷取
			src.head = ch.next
			if src.head == nil {
				src.tail = nil
			}
			ch.start = ch.pos
			ch.next = nil
			c.appendChunk(ch)
			c.length += avail
			src.length -= avail
			n -= avail
			continue
		}

		// 只需要部分字节 在解析游标处切出一个共享底层数组的窗口块 随后
		// 推进源块游标 跳过已经搬运的部分
		window := &Chunk{
			buf:   ch.buf,
			start: ch.pos,
			pos:   ch.pos,
			last:  ch.pos + n,
			end:   ch.pos + n,
		}
		ch.pos += n
		ch.start = ch.pos
		c.appendChunk(window)
		c.length += n
		src.length -= n
		return nil
	}
	return nil
}

// Release 把链上全部自持有的块归还给池 并清空链
func (c *Chain) Release() {
	for ch := c.head; ch != nil; {
		next := ch.next
		c.pool.put(ch)
		ch = next
	}
	c.head, c.tail, c.length = nil, nil, 0
}
