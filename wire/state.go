package wire

import (
	"errors"
	"fmt"

	crunch "github.com/superwhiskers/crunch/v3"
)

// FieldKind 状态字段的类型；布局由双方预先约定的 Schema 决定，不在线上自描述
type FieldKind uint8

const (
	FieldFloat FieldKind = iota + 1
	FieldInt
	FieldEnum
	FieldBool
	FieldVec3
)

func (k FieldKind) size() int {
	switch k {
	case FieldFloat, FieldInt:
		return 4
	case FieldEnum, FieldBool:
		return 1
	case FieldVec3:
		return 12
	}
	return 0
}

// Schema 某实体类型除位置与旋转外的附加字段
type Schema []FieldKind

// Field 附加字段的值，按 Kind 只使用其中一个成员
type Field struct {
	Kind  FieldKind
	Float float32
	Int   int32
	Enum  uint8
	Bool  bool
	Vec   Vec3
}

func Float(v float32) Field { return Field{Kind: FieldFloat, Float: v} }
func Int(v int32) Field     { return Field{Kind: FieldInt, Int: v} }
func Enum(v uint8) Field    { return Field{Kind: FieldEnum, Enum: v} }
func Bool(v bool) Field     { return Field{Kind: FieldBool, Bool: v} }
func Vector(v Vec3) Field   { return Field{Kind: FieldVec3, Vec: v} }

var ErrSchemaMismatch = errors.New("wire: state does not match schema")

// State 实体的可同步状态
type State struct {
	Position Vec3
	Rotation Quat
	Fields   []Field
}

// Validate 检查字段个数与类型
func (s Schema) Validate(fields []Field) error {
	if len(fields) != len(s) {
		return fmt.Errorf("%w: want %d fields, got %d", ErrSchemaMismatch, len(s), len(fields))
	}
	for i, k := range s {
		if fields[i].Kind != k {
			return fmt.Errorf("%w: field %d", ErrSchemaMismatch, i)
		}
	}
	return nil
}

func (s Schema) blobSize() int {
	n := 7 * 4
	for _, k := range s {
		n += k.size()
	}
	return n
}

// EncodeState 按 schema 写出状态快照
func (s Schema) EncodeState(st State) ([]byte, error) {
	if err := s.Validate(st.Fields); err != nil {
		return nil, err
	}
	buf := crunch.NewBuffer()
	buf.Grow(int64(s.blobSize()))
	p, r := st.Position, st.Rotation
	buf.WriteF32LENext([]float32{p.X, p.Y, p.Z, r.X, r.Y, r.Z, r.W})
	for _, f := range st.Fields {
		switch f.Kind {
		case FieldFloat:
			buf.WriteF32LENext([]float32{f.Float})
		case FieldInt:
			buf.WriteU32LENext([]uint32{uint32(f.Int)})
		case FieldEnum:
			buf.WriteByteNext(f.Enum)
		case FieldBool:
			var b byte
			if f.Bool {
				b = 1
			}
			buf.WriteByteNext(b)
		case FieldVec3:
			buf.WriteF32LENext([]float32{f.Vec.X, f.Vec.Y, f.Vec.Z})
		}
	}
	return buf.Bytes(), nil
}

// DecodeState 按 schema 读回状态快照
func (s Schema) DecodeState(data []byte) (st State, err error) {
	if len(data) != s.blobSize() {
		return State{}, fmt.Errorf("%w: blob is %d bytes, want %d", ErrSchemaMismatch, len(data), s.blobSize())
	}
	r := newReader(data)
	defer r.recover(&err)

	v := r.f32s(7)
	st.Position = Vec3{v[0], v[1], v[2]}
	st.Rotation = Quat{v[3], v[4], v[5], v[6]}
	if len(s) > 0 {
		st.Fields = make([]Field, len(s))
	}
	for i, k := range s {
		switch k {
		case FieldFloat:
			st.Fields[i] = Float(r.f32s(1)[0])
		case FieldInt:
			st.Fields[i] = Int(int32(r.u32()))
		case FieldEnum:
			st.Fields[i] = Enum(r.byte1())
		case FieldBool:
			st.Fields[i] = Bool(r.byte1() != 0)
		case FieldVec3:
			f := r.f32s(3)
			st.Fields[i] = Vector(Vec3{f[0], f[1], f[2]})
		default:
			return State{}, fmt.Errorf("%w: unknown field kind %d", ErrSchemaMismatch, k)
		}
	}
	return st, r.err
}

const (
	spawnScene    = 1 << 0
	spawnDeferred = 1 << 1
)

// SpawnRecord Instantiate 消息的载荷
type SpawnRecord struct {
	Position Vec3
	Rotation Quat
	Scene    bool // 场景对象：随主控端迁移，不因拥有者离开而销毁
	Deferred bool // 两阶段生成：初始化数据随后的 KindInit 送达
	Init     Args
}

func EncodeSpawn(rec SpawnRecord) []byte {
	var flags byte
	if rec.Scene {
		flags |= spawnScene
	}
	if rec.Deferred {
		flags |= spawnDeferred
	}
	buf := crunch.NewBuffer()
	buf.Grow(int64(7*4 + 1 + len(rec.Init)))
	p, r := rec.Position, rec.Rotation
	buf.WriteF32LENext([]float32{p.X, p.Y, p.Z, r.X, r.Y, r.Z, r.W})
	buf.WriteByteNext(flags)
	if len(rec.Init) > 0 {
		buf.WriteBytesNext(rec.Init)
	}
	return buf.Bytes()
}

func DecodeSpawn(data []byte) (rec SpawnRecord, err error) {
	r := newReader(data)
	defer r.recover(&err)

	v := r.f32s(7)
	flags := r.byte1()
	if r.err != nil {
		return SpawnRecord{}, r.err
	}
	rec.Position = Vec3{v[0], v[1], v[2]}
	rec.Rotation = Quat{v[3], v[4], v[5], v[6]}
	rec.Scene = flags&spawnScene != 0
	rec.Deferred = flags&spawnDeferred != 0
	if rest := data[7*4+1:]; len(rest) > 0 {
		rec.Init = append(Args(nil), rest...)
	}
	return rec, nil
}
