package netsync

import (
	"replicore/wire"
)

// PropertyValue 自定义属性允许的值类型
type PropertyValue interface {
	int32 | float32 | string
}

// Key 带类型的属性键
type Key[T PropertyValue] struct {
	name string
}

func NewKey[T PropertyValue](name string) Key[T] { return Key[T]{name: name} }

func (k Key[T]) Name() string { return k.name }

func valueOf[T PropertyValue](v T) wire.Value {
	switch x := any(v).(type) {
	case int32:
		return wire.IntValue(x)
	case float32:
		return wire.FloatValue(x)
	case string:
		return wire.StringValue(x)
	}
	return wire.Value{}
}

func fromValue[T PropertyValue](v wire.Value) (T, bool) {
	var out T
	switch p := any(&out).(type) {
	case *int32:
		if v.Type != wire.ValueInt {
			return out, false
		}
		*p = v.Int
	case *float32:
		if v.Type != wire.ValueFloat {
			return out, false
		}
		*p = v.Float
	case *string:
		if v.Type != wire.ValueString {
			return out, false
		}
		*p = v.Str
	}
	return out, true
}

// SetProperty 设置本端的自定义属性；连接前设置的属性在握手第 5 步统一发送
func SetProperty[T PropertyValue](s *Session, k Key[T], v T) error {
	return s.setOwnProperty(k.name, valueOf(v))
}

// GetProperty 读取任一对端的属性；不存在或类型不符时 ok 为 false。
// 连接前以 Self()（即 NoPeer）读取本端属性
func GetProperty[T PropertyValue](s *Session, p wire.PeerID, k Key[T]) (T, bool) {
	if p == s.self {
		for _, prop := range s.ownProps {
			if prop.Key == k.name {
				return fromValue[T](prop.Value)
			}
		}
		var zero T
		return zero, false
	}
	v, ok := s.registry.Property(p, k.name)
	if !ok {
		var zero T
		return zero, false
	}
	return fromValue[T](v)
}
