package wire

import "fmt"

// PeerID 会话内的对端标识，由房间分配，0 表示无
type PeerID uint16

// NoPeer 未分配/不存在的对端
const NoPeer PeerID = 0

func (p PeerID) String() string { return fmt.Sprintf("peer-%d", uint16(p)) }

// EntityID 网络实体标识：[16 位关卡前缀][16 位创建者][32 位序号]
//
// 关卡前缀保证上一关卡的滞后消息不会被应用到新关卡中同序号的实体上。
type EntityID uint64

// NoEntity 表示全局目标（不绑定实体）
const NoEntity EntityID = 0

// MaxLevelPrefix 前缀只增不减，一个会话最多加载这么多次关卡；房间清空后从 0 重新开始
const MaxLevelPrefix = 1<<16 - 1

// MakeEntityID 由关卡前缀、创建者与本地序号拼出实体 ID
func MakeEntityID(prefix uint16, creator PeerID, serial uint32) EntityID {
	return EntityID(uint64(prefix)<<48 | uint64(creator)<<32 | uint64(serial))
}

func (id EntityID) Prefix() uint16  { return uint16(id >> 48) }
func (id EntityID) Creator() PeerID { return PeerID(id >> 32) }
func (id EntityID) Serial() uint32  { return uint32(id) }

func (id EntityID) String() string {
	return fmt.Sprintf("e-%d.%d.%d", id.Prefix(), uint16(id.Creator()), id.Serial())
}

// Channel 消息流的逻辑分区，可独立开关
type Channel uint8

const (
	ChannelGameplay Channel = 0 // 玩法：同步、实体 RPC、生成/销毁
	ChannelLevel    Channel = 1 // 关卡控制：加载关卡
	ChannelPlayer   Channel = 2 // 玩家身份：连接通知、自定义属性、聊天
)

// Mode 投递目标
type Mode uint8

const (
	ToAll Mode = iota
	ToOthers
	ToPeer
	ToMaster
)

func (m Mode) String() string {
	switch m {
	case ToAll:
		return "all"
	case ToOthers:
		return "others"
	case ToPeer:
		return "peer"
	case ToMaster:
		return "master"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}
