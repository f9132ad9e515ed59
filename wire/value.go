package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// ValueType 自定义属性值的类型
type ValueType uint8

const (
	ValueInt ValueType = iota + 1
	ValueFloat
	ValueString
)

func (t ValueType) String() string {
	switch t {
	case ValueInt:
		return "int"
	case ValueFloat:
		return "float"
	case ValueString:
		return "string"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

var ErrBadValue = errors.New("wire: unsupported property value")

// Value 对端自定义属性的值：整数、浮点或字符串三选一
type Value struct {
	Type  ValueType `msgpack:"t"`
	Int   int32     `msgpack:"i,omitempty"`
	Float float32   `msgpack:"f,omitempty"`
	Str   string    `msgpack:"s,omitempty"`
}

func IntValue(v int32) Value     { return Value{Type: ValueInt, Int: v} }
func FloatValue(v float32) Value { return Value{Type: ValueFloat, Float: v} }
func StringValue(v string) Value { return Value{Type: ValueString, Str: v} }

func (v Value) String() string {
	switch v.Type {
	case ValueInt:
		return fmt.Sprint(v.Int)
	case ValueFloat:
		return fmt.Sprint(v.Float)
	case ValueString:
		return v.Str
	default:
		return "<invalid>"
	}
}

// Property 有序属性表中的一项
type Property struct {
	Key   string `msgpack:"k"`
	Value Value  `msgpack:"v"`
}

func EncodeValue(v Value) ([]byte, error) {
	if v.Type < ValueInt || v.Type > ValueString {
		return nil, ErrBadValue
	}
	return msgpack.Marshal(v)
}

func DecodeValue(data []byte) (Value, error) {
	var v Value
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return Value{}, fmt.Errorf("decode value: %w", err)
	}
	if v.Type < ValueInt || v.Type > ValueString {
		return Value{}, ErrBadValue
	}
	return v, nil
}

// RosterEntry 点对点模式下 Approval 携带的已在线对端
type RosterEntry struct {
	Peer  PeerID     `msgpack:"p"`
	Props []Property `msgpack:"props,omitempty"`
}

func EncodeRoster(entries []RosterEntry) ([]byte, error) {
	return msgpack.Marshal(entries)
}

func DecodeRoster(data []byte) ([]RosterEntry, error) {
	var entries []RosterEntry
	if len(data) == 0 {
		return nil, nil
	}
	if err := msgpack.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode roster: %w", err)
	}
	return entries, nil
}

// Args RPC 参数或生成初始化数据：按顺序排列的 msgpack 值流
type Args []byte

// EncodeArgs 依次编码各参数
func EncodeArgs(args ...any) (Args, error) {
	if len(args) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := msgpack.NewEncoder(&buf).EncodeMulti(args...); err != nil {
		return nil, fmt.Errorf("encode args: %w", err)
	}
	return buf.Bytes(), nil
}

// Scan 按顺序解码到 dst 指向的变量，dst 可以少于实际参数个数
func (a Args) Scan(dst ...any) error {
	if len(dst) == 0 {
		return nil
	}
	if err := msgpack.NewDecoder(bytes.NewReader(a)).DecodeMulti(dst...); err != nil {
		return fmt.Errorf("scan args: %w", err)
	}
	return nil
}

// Values 以动态类型解码全部参数
func (a Args) Values() ([]any, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(a))
	var out []any
	for {
		v, err := dec.DecodeInterface()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("decode args: %w", err)
		}
		out = append(out, v)
	}
}

// ChannelList RemoveBuffered 的载荷
func ChannelList(chs ...Channel) []byte {
	out := make([]byte, len(chs))
	for i, ch := range chs {
		out[i] = byte(ch)
	}
	return out
}

func ParseChannelList(payload []byte) []Channel {
	out := make([]Channel, len(payload))
	for i, b := range payload {
		out[i] = Channel(b)
	}
	return out
}
