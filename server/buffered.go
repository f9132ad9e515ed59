package server

import (
	"errors"
	"sort"

	"replicore/wire"
)

var ErrLogFull = errors.New("buffered log is full")

// entry 缓冲日志中的一条记录，seq 为跨频道的全局追加顺序
type entry struct {
	seq uint64
	msg wire.Message
}

// BufferedLog 每个频道一条只追加日志；新对端加入时按全局顺序从头重放
//
// 删除只发生在清理操作中（关卡切换、实体销毁、对端离开），不会改写已有条目。
type BufferedLog struct {
	channels map[wire.Channel][]entry
	seq      uint64
	size     int
	limit    int
}

func NewBufferedLog(limit int) *BufferedLog {
	return &BufferedLog{channels: make(map[wire.Channel][]entry), limit: limit}
}

// Append 追加一条缓冲消息
func (l *BufferedLog) Append(m wire.Message) error {
	if l.limit > 0 && l.size >= l.limit {
		return ErrLogFull
	}
	l.seq++
	l.channels[m.Channel] = append(l.channels[m.Channel], entry{seq: l.seq, msg: m})
	l.size++
	return nil
}

// Replay 按追加顺序回放全部频道
func (l *BufferedLog) Replay(fn func(wire.Message)) {
	all := make([]entry, 0, l.size)
	for _, entries := range l.channels {
		all = append(all, entries...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })
	for _, e := range all {
		fn(e.msg)
	}
}

func (l *BufferedLog) Len() int { return l.size }

func (l *BufferedLog) Reset() {
	l.channels = make(map[wire.Channel][]entry)
	l.size = 0
}

// RemoveChannel 清空一个频道
func (l *BufferedLog) RemoveChannel(ch wire.Channel) int {
	n := len(l.channels[ch])
	delete(l.channels, ch)
	l.size -= n
	return n
}

// RemoveEntity 删除某实体的全部记录（生成、初始化、RPC、移交）
func (l *BufferedLog) RemoveEntity(id wire.EntityID) int {
	return l.removeIf(func(m wire.Message) bool { return m.Entity == id })
}

// RemoveOwnerChanges 删除某实体此前的移交记录，只保留最新拥有者
func (l *BufferedLog) RemoveOwnerChanges(id wire.EntityID) int {
	return l.removeIf(func(m wire.Message) bool {
		return m.Kind == wire.KindOwnerChanged && m.Entity == id
	})
}

// RemoveRPCsFrom 删除某对端发出的缓冲 RPC
func (l *BufferedLog) RemoveRPCsFrom(p wire.PeerID) int {
	return l.removeIf(func(m wire.Message) bool { return m.Kind == wire.KindRPC && m.From == p })
}

// RemoveBefore 删除玩法频道中关卡前缀早于 prefix 的记录
func (l *BufferedLog) RemoveBefore(prefix uint16) int {
	entries := l.channels[wire.ChannelGameplay]
	kept := entries[:0]
	for _, e := range entries {
		if e.msg.Prefix >= prefix {
			kept = append(kept, e)
		}
	}
	n := len(entries) - len(kept)
	l.channels[wire.ChannelGameplay] = kept
	l.size -= n
	return n
}

func (l *BufferedLog) removeIf(drop func(wire.Message) bool) int {
	removed := 0
	for ch, entries := range l.channels {
		kept := entries[:0]
		for _, e := range entries {
			if drop(e.msg) {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		l.channels[ch] = kept
	}
	l.size -= removed
	return removed
}
