package server

import (
	"context"
	"sync/atomic"
	"time"
)

const (
	// TicksPerSecond 转发频率（50 TPS）
	TicksPerSecond = 50
)

var tickInterval = time.Duration(1000/TicksPerSecond) * time.Millisecond // 20ms

// StartTicker 启动房间的 Tick 循环（单线程处理入站事件）
func (r *Room) StartTicker(ctx context.Context) {
	if r.tickerStarted {
		return
	}
	r.tickerStarted = true
	go func() {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		defer r.closeAll()
		for {
			select {
			case <-ctx.Done():
				r.Stop()
				return
			case <-r.done:
				return
			case <-ticker.C:
			}
			start := time.Now()
			atomic.AddUint64(&r.tickSeq, 1)
			r.ProcessInputs()
			r.metrics.AddTick(time.Since(start).Nanoseconds())
		}
	}()
}
