package netsync

import "sync/atomic"

// Stats 会话运行指标，可在其他协程读取
type Stats struct {
	MessagesSent     int64
	MessagesReceived int64
	StatesSent       int64
	StatesReceived   int64
	GatedSends       int64 // 频道关闭时被拒绝的发送
	GatedReceives    int64 // 频道关闭时被丢弃的入站消息
	StaleDropped     int64 // 旧关卡前缀的消息
	MissingTargets   int64 // 目标实体不存在的消息
	UnknownMethods   int64
	Duplicates       int64 // 重复的生成或初始化
	LevelLoads       int64
	Held             int64 // 队列暂停期间积压的消息数
}

func inc(p *int64) { atomic.AddInt64(p, 1) }

// Snapshot 返回只读副本
func (s *Stats) Snapshot() map[string]any {
	return map[string]any{
		"messages_sent":     atomic.LoadInt64(&s.MessagesSent),
		"messages_received": atomic.LoadInt64(&s.MessagesReceived),
		"states_sent":       atomic.LoadInt64(&s.StatesSent),
		"states_received":   atomic.LoadInt64(&s.StatesReceived),
		"gated_sends":       atomic.LoadInt64(&s.GatedSends),
		"gated_receives":    atomic.LoadInt64(&s.GatedReceives),
		"stale_dropped":     atomic.LoadInt64(&s.StaleDropped),
		"missing_targets":   atomic.LoadInt64(&s.MissingTargets),
		"unknown_methods":   atomic.LoadInt64(&s.UnknownMethods),
		"duplicates":        atomic.LoadInt64(&s.Duplicates),
		"level_loads":       atomic.LoadInt64(&s.LevelLoads),
		"held":              atomic.LoadInt64(&s.Held),
	}
}
