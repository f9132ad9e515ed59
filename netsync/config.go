package netsync

import (
	"time"

	"go.uber.org/zap"
)

// Config 会话参数
type Config struct {
	// Name 随 Hello 发送的显示名，房间据此拒绝重名
	Name string
	// SendRate 每秒发布状态快照的次数
	SendRate int
	// ChaseRate / FastChaseRate 远端实体追赶目标的指数速率（每秒）
	ChaseRate     float32
	FastChaseRate float32
	// TwoPhaseSpawn 生成时先发实体再单独发初始化数据
	TwoPhaseSpawn bool

	Logger *zap.SugaredLogger
}

// DefaultConfig 默认会话参数
func DefaultConfig() Config {
	return Config{
		SendRate:      15,
		ChaseRate:     5,
		FastChaseRate: 20,
	}
}

func (c Config) sendInterval() time.Duration {
	if c.SendRate <= 0 {
		return time.Second / 15
	}
	return time.Second / time.Duration(c.SendRate)
}
