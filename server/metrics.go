package server

import (
	"sync/atomic"
)

// RoomMetrics 记录房间运行期的关键指标（用于监控与调试）
type RoomMetrics struct {
	TickCount         int64 // 统计的 Tick 次数
	MessagesRouted    int64 // 转发的消息数
	MessagesBuffered  int64 // 写入缓冲日志的消息数
	BufferedPurged    int64 // 被清理的缓冲记录数
	Replayed          int64 // 重放给新对端的缓冲记录数
	Unauthorized      int64 // 权限校验失败被丢弃的消息数
	StaleDropped      int64 // 关卡前缀过期被丢弃的消息数
	ChanFullDiscarded int64 // 发送队列满而被断开的对端数
	ChatFiltered      int64 // 被脏话过滤拦截的聊天
	PeersJoined       int64
	PeersLeft         int64
	Rejected          int64 // 被拒绝的接入（满员、重名）
	Migrations        int64 // 主控端迁移次数
	TotalTickNs       int64 // Tick 累计耗时（纳秒）
}

func (m *RoomMetrics) IncRouted()            { atomic.AddInt64(&m.MessagesRouted, 1) }
func (m *RoomMetrics) IncBuffered()          { atomic.AddInt64(&m.MessagesBuffered, 1) }
func (m *RoomMetrics) AddPurged(n int)       { atomic.AddInt64(&m.BufferedPurged, int64(n)) }
func (m *RoomMetrics) AddReplayed(n int)     { atomic.AddInt64(&m.Replayed, int64(n)) }
func (m *RoomMetrics) IncUnauthorized()      { atomic.AddInt64(&m.Unauthorized, 1) }
func (m *RoomMetrics) IncStale()             { atomic.AddInt64(&m.StaleDropped, 1) }
func (m *RoomMetrics) IncChanFullDiscarded() { atomic.AddInt64(&m.ChanFullDiscarded, 1) }
func (m *RoomMetrics) IncChatFiltered()      { atomic.AddInt64(&m.ChatFiltered, 1) }
func (m *RoomMetrics) IncJoined()            { atomic.AddInt64(&m.PeersJoined, 1) }
func (m *RoomMetrics) IncLeft()              { atomic.AddInt64(&m.PeersLeft, 1) }
func (m *RoomMetrics) IncRejected()          { atomic.AddInt64(&m.Rejected, 1) }
func (m *RoomMetrics) IncMigrations()        { atomic.AddInt64(&m.Migrations, 1) }
func (m *RoomMetrics) AddTick(ns int64) {
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.TotalTickNs, ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *RoomMetrics) Snapshot() map[string]any {
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	return map[string]any{
		"tick_count":          tick,
		"messages_routed":     atomic.LoadInt64(&m.MessagesRouted),
		"messages_buffered":   atomic.LoadInt64(&m.MessagesBuffered),
		"buffered_purged":     atomic.LoadInt64(&m.BufferedPurged),
		"replayed":            atomic.LoadInt64(&m.Replayed),
		"unauthorized":        atomic.LoadInt64(&m.Unauthorized),
		"stale_dropped":       atomic.LoadInt64(&m.StaleDropped),
		"chan_full_discarded": atomic.LoadInt64(&m.ChanFullDiscarded),
		"chat_filtered":       atomic.LoadInt64(&m.ChatFiltered),
		"peers_joined":        atomic.LoadInt64(&m.PeersJoined),
		"peers_left":          atomic.LoadInt64(&m.PeersLeft),
		"rejected":            atomic.LoadInt64(&m.Rejected),
		"migrations":          atomic.LoadInt64(&m.Migrations),
		"avg_tick_ms":         avgMs,
	}
}
