package wire

import "fmt"

// Kind 消息类型
type Kind uint8

const (
	KindHello              Kind = iota + 1 // 客户端 -> 房间：请求加入，Name = 显示名
	KindRejected                           // 房间 -> 客户端：拒绝，Name = 原因
	KindApproval                           // 房间 -> 客户端：To = 分配的 ID，Owner = 主控端，Name/Prefix = 当前关卡
	KindPeerConnected                      // Owner = 对端
	KindPeerDisconnected                   // Owner = 对端
	KindMasterChanged                      // Owner = 新主控端
	KindValidationFinished                 // 握手第 4 步
	KindProperty                           // Owner = 属性所属对端，Name = 键，Payload = Value
	KindRPC                                // Entity = 目标（0 为全局），Name = 方法，Payload = Args
	KindInstantiate                        // Entity，Name = 类型名，Owner = 拥有者，Payload = SpawnRecord
	KindInit                               // 两阶段生成的初始化数据，Payload = Args
	KindDestroy                            // Entity
	KindOwnerChanged                       // Entity，Owner = 新拥有者
	KindState                              // Entity，Payload = 状态快照
	KindRemoveBuffered                     // Payload = 需要清空缓冲的频道列表
	KindLoadLevel                          // Name = 场景名，Prefix = 新关卡前缀
	KindChat                               // Name = 文本
)

var kindNames = map[Kind]string{
	KindHello:              "hello",
	KindRejected:           "rejected",
	KindApproval:           "approval",
	KindPeerConnected:      "peerConnected",
	KindPeerDisconnected:   "peerDisconnected",
	KindMasterChanged:      "masterChanged",
	KindValidationFinished: "validationFinished",
	KindProperty:           "property",
	KindRPC:                "rpc",
	KindInstantiate:        "instantiate",
	KindInit:               "init",
	KindDestroy:            "destroy",
	KindOwnerChanged:       "ownerChanged",
	KindState:              "state",
	KindRemoveBuffered:     "removeBuffered",
	KindLoadLevel:          "loadLevel",
	KindChat:               "chat",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}

// Flags 附加标志位
type Flags uint8

const (
	FlagBuffered   Flags = 1 << iota // 由传输层保留并重放给后加入者
	FlagPeerToPeer                   // Approval：点对点模式，名册内嵌在载荷中，跳过握手 2-4 步
)

// Message 所有传输变体共用的扁平信封
type Message struct {
	Kind    Kind
	Channel Channel
	Mode    Mode
	Flags   Flags
	From    PeerID // 由房间盖章，客户端填写无效
	To      PeerID // Mode == ToPeer 时的目标；Approval 中为分配给接收方的 ID
	Owner   PeerID
	Prefix  uint16 // 发送方当前的关卡前缀
	Entity  EntityID
	Name    string
	Payload []byte
}

func (m Message) Buffered() bool { return m.Flags&FlagBuffered != 0 }

func (m Message) String() string {
	return fmt.Sprintf("[%s ch=%d %s buffered=%v] from=%d to=%d owner=%d prefix=%d entity=%s name=%q len=%d",
		m.Kind, m.Channel, m.Mode, m.Buffered(), m.From, m.To, m.Owner, m.Prefix, m.Entity, m.Name, len(m.Payload))
}
