package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	crunch "github.com/superwhiskers/crunch/v3"
)

const (
	// headerSize kind/channel/mode/flags + from/to/owner/prefix + entity + name 长度 + payload 长度
	headerSize = 4 + 8 + 8 + 2 + 4

	MaxNameLen    = 1<<16 - 1
	MaxPayloadLen = 1 << 20
	// MaxFrameLen 流式传输中单帧上限
	MaxFrameLen = 10 << 20
)

var (
	ErrShortBuffer   = errors.New("wire: short buffer")
	ErrNameTooLong   = errors.New("wire: name too long")
	ErrPayloadTooBig = errors.New("wire: payload too large")
	ErrFrameTooLarge = errors.New("wire: frame too large")
	ErrUnknownKind   = errors.New("wire: unknown message kind")
)

// Encode 将消息编码为小端二进制信封
func Encode(m Message) ([]byte, error) {
	if len(m.Name) > MaxNameLen {
		return nil, ErrNameTooLong
	}
	if len(m.Payload) > MaxPayloadLen {
		return nil, ErrPayloadTooBig
	}
	if _, ok := kindNames[m.Kind]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, m.Kind)
	}

	buf := crunch.NewBuffer()
	buf.Grow(int64(headerSize + len(m.Name) + len(m.Payload)))
	buf.WriteBytesNext([]byte{byte(m.Kind), byte(m.Channel), byte(m.Mode), byte(m.Flags)})
	buf.WriteU16LENext([]uint16{uint16(m.From), uint16(m.To), uint16(m.Owner), m.Prefix})
	buf.WriteU64LENext([]uint64{uint64(m.Entity)})
	buf.WriteU16LENext([]uint16{uint16(len(m.Name))})
	if len(m.Name) > 0 {
		buf.WriteBytesNext([]byte(m.Name))
	}
	buf.WriteU32LENext([]uint32{uint32(len(m.Payload))})
	if len(m.Payload) > 0 {
		buf.WriteBytesNext(m.Payload)
	}
	return buf.Bytes(), nil
}

// Decode 解析 Encode 产出的信封；长度不足或字段越界时返回错误而不是 panic
func Decode(data []byte) (m Message, err error) {
	if len(data) < headerSize {
		return m, ErrShortBuffer
	}
	r := newReader(data)
	defer r.recover(&err)

	head := r.bytes(4)
	m.Kind = Kind(head[0])
	m.Channel = Channel(head[1])
	m.Mode = Mode(head[2])
	m.Flags = Flags(head[3])
	if _, ok := kindNames[m.Kind]; !ok {
		return Message{}, fmt.Errorf("%w: %d", ErrUnknownKind, head[0])
	}

	ids := r.u16s(4)
	m.From, m.To, m.Owner, m.Prefix = PeerID(ids[0]), PeerID(ids[1]), PeerID(ids[2]), ids[3]
	m.Entity = EntityID(r.u64())

	if n := int(r.u16s(1)[0]); n > 0 {
		m.Name = string(r.bytes(n))
	}
	n := int(r.u32())
	if n > MaxPayloadLen {
		return Message{}, ErrPayloadTooBig
	}
	if n > 0 {
		m.Payload = append([]byte(nil), r.bytes(n)...)
	}
	if r.err != nil {
		return Message{}, r.err
	}
	return m, nil
}

// reader 在 crunch.Buffer 之上做越界检查，读取位置由 crunch 维护，剩余长度由这里记录
type reader struct {
	buf  *crunch.Buffer
	left int
	err  error
}

func newReader(data []byte) *reader {
	return &reader{buf: crunch.NewBuffer(data), left: len(data)}
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.left < n {
		r.err = ErrShortBuffer
		return false
	}
	r.left -= n
	return true
}

func (r *reader) bytes(n int) []byte {
	if !r.need(n) {
		return make([]byte, n)
	}
	if n == 0 {
		return nil
	}
	return r.buf.ReadBytesNext(int64(n))
}

func (r *reader) byte1() byte {
	if !r.need(1) {
		return 0
	}
	return r.buf.ReadByteNext()
}

func (r *reader) u16s(n int) []uint16 {
	if !r.need(2 * n) {
		return make([]uint16, n)
	}
	return r.buf.ReadU16LENext(int64(n))
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	return r.buf.ReadU32LENext(1)[0]
}

func (r *reader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	return r.buf.ReadU64LENext(1)[0]
}

func (r *reader) f32s(n int) []float32 {
	if !r.need(4 * n) {
		return make([]float32, n)
	}
	return r.buf.ReadF32LENext(int64(n))
}

// recover crunch 在越界时会 panic，统一转换为 ErrShortBuffer
func (r *reader) recover(err *error) {
	if p := recover(); p != nil {
		*err = fmt.Errorf("%w: %v", ErrShortBuffer, p)
	}
}

// WriteFrame 以 4 字节大端长度前缀写出一帧
func WriteFrame(w io.Writer, m Message) error {
	body, err := Encode(m)
	if err != nil {
		return err
	}
	frame := make([]byte, 4, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	_, err = w.Write(append(frame, body...))
	return err
}

// ReadFrame 读取一帧并解码
func ReadFrame(r io.Reader) (Message, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Message{}, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameLen {
		return Message{}, ErrFrameTooLarge
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, err
	}
	return Decode(body)
}
