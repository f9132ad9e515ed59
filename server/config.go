package server

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Mode 房间的连接模式
type Mode int

const (
	// ModeServer 有中心服务端：新对端经过完整的 6 步加入握手
	ModeServer Mode = iota
	// ModePeerToPeer 点对点：Approval 携带关卡与名册，新对端自行加载关卡
	ModePeerToPeer
)

func (m Mode) String() string {
	switch m {
	case ModeServer:
		return "server"
	case ModePeerToPeer:
		return "p2p"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode 解析命令行/配置中的模式名
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "server":
		return ModeServer, nil
	case "p2p", "peer", "peertopeer":
		return ModePeerToPeer, nil
	default:
		return 0, fmt.Errorf("unknown room mode %q", s)
	}
}

// RoomConfig 房间规则，可通过 /admin/config 热更新
type RoomConfig struct {
	Mode              Mode
	MaxPeers          int
	MaxBuffered       int  // 缓冲日志上限（条），超出时拒绝新的缓冲消息
	MaxBacklog        int  // 传输队列满时每个对端可积压的帧数，超出则断开；不小于 MaxBuffered
	DestroyOnLeave    bool // 对端离开时销毁其非场景实体；否则移交给主控端
	ValidateAuthority bool // 校验状态/销毁/移交/关卡等操作的发起者权限
	FilterChat        bool
	Swears            []string

	Logger *zap.SugaredLogger // 为空时使用包级 Log
}

var defaultSwears = []string{"fuck", "shit", "bitch", "cunt"}

// DefaultRoomConfig 默认房间配置
func DefaultRoomConfig() RoomConfig {
	return RoomConfig{
		Mode:              ModeServer,
		MaxPeers:          16,
		MaxBuffered:       4096,
		MaxBacklog:        16384,
		DestroyOnLeave:    true,
		ValidateAuthority: true,
		FilterChat:        true,
		Swears:            defaultSwears,
	}
}

// Validate 检查配置间的约束：加入时整份缓冲日志要能进入积压队列
func (c RoomConfig) Validate() error {
	if c.MaxPeers < 0 || c.MaxBuffered < 0 {
		return fmt.Errorf("negative limits: maxPeers=%d maxBuffered=%d", c.MaxPeers, c.MaxBuffered)
	}
	if c.MaxBacklog < c.MaxBuffered {
		return fmt.Errorf("maxBacklog %d below maxBuffered %d", c.MaxBacklog, c.MaxBuffered)
	}
	return nil
}

// backlogLimit 未通过 Validate 的配置也保证能容纳一次完整重放
func (c RoomConfig) backlogLimit() int {
	if c.MaxBacklog < c.MaxBuffered {
		return c.MaxBuffered
	}
	return c.MaxBacklog
}
