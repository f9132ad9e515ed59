package netsync

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected     = errors.New("netsync: not connected")
	ErrAlreadyConnected = errors.New("netsync: already connected")
	ErrNotMaster        = errors.New("netsync: only the master may do this")
	ErrNotOwner         = errors.New("netsync: entity is owned by another peer")
	ErrUnknownEntity    = errors.New("netsync: unknown entity")
	ErrUnknownType      = errors.New("netsync: unknown entity type")
	ErrUnknownPeer      = errors.New("netsync: unknown peer")
	ErrChannelDisabled  = errors.New("netsync: sending disabled on channel")
	ErrBufferedTarget   = errors.New("netsync: buffered delivery needs all or others")
	ErrNotLoading       = errors.New("netsync: no level load in progress")
	ErrDuplicateType    = errors.New("netsync: entity type already registered")
	ErrPrefixExhausted  = errors.New("netsync: level prefix exhausted, reconnect to start a new session")
)

// ConnErrorCode 连接失败或中断的原因
type ConnErrorCode int

const (
	ConnFailed   ConnErrorCode = iota + 1 // 拨号失败
	ConnRejected                          // 房间拒绝（满员、重名）
	ConnClosed                            // 链路被对端或网络关闭
	ConnAborted                           // 本地取消了进行中的连接
)

func (c ConnErrorCode) String() string {
	switch c {
	case ConnFailed:
		return "failed"
	case ConnRejected:
		return "rejected"
	case ConnClosed:
		return "closed"
	case ConnAborted:
		return "aborted"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// ConnectionError 通过 OnConnectFailed / OnDisconnected 交给上层
type ConnectionError struct {
	Code   ConnErrorCode
	Reason string
	Err    error
}

func (e *ConnectionError) Error() string {
	msg := "netsync: connection " + e.Code.String()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConnectionError) Unwrap() error { return e.Err }
