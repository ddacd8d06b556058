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

// Package message 实现了 spec §3/§4.2 描述的 Message 对象：一条请求或
// 响应 携带缓冲链、解析游标、key 位置列表与分片关联信息
//
// 生命周期沿用了 other_examples 中 felixhao-overlord 的 sync.Pool 式
// Request（get/Put 成对出现）但把解析 bookkeeping（state/pos/token/
// rlen/rnarg/narg）提升为 Message 自身字段 而不是解析器里的局部变量
// ——这样解析器才能在任意字节边界挂起并在下一次调用中原样恢复
// （见 parser 包）
package message

import (
	"sync"

	"github.com/packetd/rcproxy/bufchain"
)

// KeyRef 是绑定到缓冲链某个 Chunk 的偏移区间引用
//
// 对应 DESIGN NOTES §9："指针指向缓冲区的 key 位置变成绑定到缓冲链句柄
// 的偏移对"——这里的句柄就是 Chunk 本身 一次 relocation（合并/修复）
// 只需要更新这一个引用
type KeyRef struct {
	Chunk      *bufchain.Chunk
	Start, End int
}

// Bytes 返回这段引用实际指向的字节 仅在持有消息存活期间有效
func (k KeyRef) Bytes() []byte {
	if k.Chunk == nil {
		return nil
	}
	return k.Chunk.Slice(k.Start, k.End)
}

func (k KeyRef) IsZero() bool {
	return k.Chunk == nil
}

// Flags 是消息的一组布尔标志位（spec §3）
type Flags struct {
	NoForward bool // 内部命令 不转发给后端
	Quit      bool // QUIT 命令 处理完成后关闭连接
	NoReply   bool // 回复不应该写回客户端（保留位 当前未被任何命令使用）
	Swallow   bool // 回复需要被内部吞掉 不转发给客户端
	Error     bool // 本消息（或其 owner）已经出错
	FError    bool // 某个分片出错 整条 owner 消息被标记错误
}

// Message 代表一条请求或一条响应
type Message struct {
	ID      uint64
	Request bool
	Type    Type
	Command  string // 大写命令名 用于分类与内部分发；转发分片头使用小写
	Class    int    // parser.ArityClass 的值 由 parser 包写入 message 包不解释其含义
	Write    bool   // 是否为写命令 决定路由到 master 还是 tagged slave（spec §4.6）
	Fragment bool   // 命令是否可能需要跨分片拆分（MGET/MSET/DEL）

	Chain *bufchain.Chain

	// --- 解析器 bookkeeping（spec §4.3） ---
	State ParseState
	Token []byte // PARSE_REPAIR 时跨块保留的部分 token
	RLen  int    // 当前正在扫描的长度字段（*N 或 $N）的累加寄存器
	RNArg int    // 当前消息还需要消费的参数个数
	NArg  int    // *N\r\n 声明的总参数个数

	// 细粒度的恢复标志 用于在任意字节边界挂起后正确恢复 是 state/pos/token
	// 这套恢复寄存器的延伸 而不是替代——一次 *N 或 $N 读取内部还要
	// 区分"前导符号是否已消费""是否已经见过 \r""CRLF 读到第几个字节"
	MarkerSeen bool
	CRSeen     bool
	CRLFPos    int8
	Neg        bool // 当前长度字段是否以 '-' 开头（$-1 空批量回复）

	// --- 提取结果 ---
	Keys     []KeyRef
	Vals     []KeyRef // 仅 argkvx（MSET）使用：Vals[i] 是 Keys[i] 后面紧跟的 value bulk
	Elements []KeyRef // 仅响应 multibulk 使用 按出现顺序平铺记录元素（一层嵌套数组内的元素也依次追加）：element[i] 的 bulk 内容引用 为 nil 表示该元素是 $-1 空批量
	Integer  int64    // :N\r\n 累加器、MOVED/ASK 的 slot、也用于 DEL 分片聚合
	Addr     string   // -MOVED/-ASK 的 host:port 字面量（从行内容中拷贝，短字符串没必要零拷贝）

	// RNArg2 仅响应解析器使用：嵌套一层的 multibulk（SSCAN/HSCAN/ZSCAN 的
	// `[cursor, [members...]]`）内层还剩的元素数；-1 表示当前不在嵌套数组内
	RNArg2 int

	// --- 分片关联（spec §4.5） ---
	FragID     uint64
	NFrag      int
	NFragDone  int
	FragOwner  *Message   // 分片指回其 owner 请求
	FragSeq    []*Message // owner 持有：key 下标 -> 负责该 key 的子请求
	FragKeyPos []int      // owner 持有：key 下标 -> 该 key 在其子请求回复里的 element 下标

	Flags

	Errno error // PARSE_ERROR 时的具体错误（EINVAL/ENOMEM 等价物）

	Peer  *Message // 配对的请求（响应持有）或响应（请求持有）
	Owner any      // 当前持有本消息的连接，由 proxy 包赋值，避免循环依赖

	pool *Pool
}

// MLen 返回消息当前占用的字节数
func (m *Message) MLen() int {
	if m.Chain == nil {
		return 0
	}
	return m.Chain.Length()
}

// reset 把消息恢复为可复用的初始状态（不释放 Chain，由调用方决定）
func (m *Message) reset() {
	*m = Message{pool: m.pool}
}

// Pool 是消息对象的空闲链表 对应 spec §4.2 "get/put" discipline
type Pool struct {
	bufPool *bufchain.Pool
	sp      sync.Pool
	idgen   uint64
	mut     sync.Mutex
}

// NewPool 创建并返回绑定到 bufPool 的消息池
func NewPool(bufPool *bufchain.Pool) *Pool {
	p := &Pool{bufPool: bufPool}
	p.sp.New = func() any {
		return &Message{pool: p}
	}
	return p
}

// Get 从池中取出一条干净的消息 并为其分配一条新的缓冲链与递增 ID
func (p *Pool) Get(request bool) *Message {
	m := p.sp.Get().(*Message)
	m.reset()
	m.Request = request
	m.Chain = bufchain.NewChain(p.bufPool)
	m.ID = p.nextID()
	return m
}

func (p *Pool) nextID() uint64 {
	p.mut.Lock()
	defer p.mut.Unlock()
	p.idgen++
	return p.idgen
}

// Put 释放消息持有的缓冲链并归还到池中
//
// 每一条通过 Get 分配的消息都必须最终调用 Put 一次 —— 在其 peer 已经
// 被投递、或者被 swallow 之后（spec §4.2）
func (p *Pool) Put(m *Message) {
	if m == nil {
		return
	}
	if m.Chain != nil {
		m.Chain.Release()
	}
	m.reset()
	p.sp.Put(m)
}
