package sok

import "encoding/binary"

// Buffer is a contiguous mutable byte region with a movable cursor and a
// limit, the unit of exchange between callers and sockets. size() == limit,
// remaining() == limit - cursor. All multi-byte integer accessors are
// big-endian. Relative operations advance the cursor by the width they read
// or write; the two-argument getBytes form does not.
type Buffer struct {
	data      []byte
	cursor    int
	limit     int
	destroyed bool
}

// AllocBuffer allocates a new Buffer of the given capacity, limit == capacity.
func AllocBuffer(size int) *Buffer {
	return &Buffer{data: make([]byte, size), limit: size}
}

// WrapBuffer wraps an existing byte slice without copying; limit == len(bytes).
func WrapBuffer(bytes []byte) *Buffer {
	return &Buffer{data: bytes, limit: len(bytes)}
}

func (b *Buffer) checkAlive() error {
	if b.destroyed {
		return ErrBufferDestroyed
	}
	return nil
}

// Size returns the current limit.
func (b *Buffer) Size() int { return b.limit }

// Remaining returns limit - cursor.
func (b *Buffer) Remaining() int { return b.limit - b.cursor }

// GetCursor returns the current cursor position.
func (b *Buffer) GetCursor() int { return b.cursor }

// SetCursor moves the cursor to i, which must be within [0, limit].
func (b *Buffer) SetCursor(i int) error {
	if err := b.checkAlive(); err != nil {
		return err
	}
	if i < 0 || i > b.limit {
		return ErrBufferOverflow
	}
	b.cursor = i
	return nil
}

// Reset sets cursor = 0 and limit = capacity.
func (b *Buffer) Reset() error {
	if err := b.checkAlive(); err != nil {
		return err
	}
	b.cursor = 0
	b.limit = cap(b.data)
	if len(b.data) != cap(b.data) {
		b.data = b.data[:cap(b.data)]
	}
	return nil
}

// Clone returns an independent copy with the same capacity, limit and
// contents; the clone's cursor is 0.
func (b *Buffer) Clone() (*Buffer, error) {
	if err := b.checkAlive(); err != nil {
		return nil, err
	}
	cp := make([]byte, len(b.data))
	copy(cp, b.data)
	return &Buffer{data: cp, limit: b.limit}, nil
}

// Destroy marks the buffer unusable; further operations fail with
// BufferDestroyed.
func (b *Buffer) Destroy() {
	b.destroyed = true
	b.data = nil
}

// ToArray returns a defensive copy of bytes [0, limit).
func (b *Buffer) ToArray() ([]byte, error) {
	if err := b.checkAlive(); err != nil {
		return nil, err
	}
	out := make([]byte, b.limit)
	copy(out, b.data[:b.limit])
	return out, nil
}

// raw exposes the backing slice; used internally by the socket layer for
// syscall Read/Write of buf[cursor:limit]. Not exported.
func (b *Buffer) raw() []byte { return b.data }

func (b *Buffer) checkGet(n int) error {
	if err := b.checkAlive(); err != nil {
		return err
	}
	if b.cursor+n > b.limit {
		return ErrBufferUnderflow
	}
	return nil
}

func (b *Buffer) checkPut(n int) error {
	if err := b.checkAlive(); err != nil {
		return err
	}
	if b.cursor+n > b.limit {
		return ErrBufferOverflow
	}
	return nil
}

// Get returns the byte at absolute index without moving the cursor.
func (b *Buffer) Get(index int) (byte, error) {
	if err := b.checkAlive(); err != nil {
		return 0, err
	}
	if index < 0 || index >= b.limit {
		return 0, ErrBufferUnderflow
	}
	return b.data[index], nil
}

// GetByte reads a signed byte and advances the cursor by 1.
func (b *Buffer) GetByte() (int8, error) {
	if err := b.checkGet(1); err != nil {
		return 0, err
	}
	v := int8(b.data[b.cursor])
	b.cursor++
	return v, nil
}

// GetUByte reads an unsigned byte (0..255) and advances the cursor by 1.
func (b *Buffer) GetUByte() (uint8, error) {
	if err := b.checkGet(1); err != nil {
		return 0, err
	}
	v := b.data[b.cursor]
	b.cursor++
	return v, nil
}

// GetShort reads a signed big-endian 16-bit integer and advances the cursor by 2.
func (b *Buffer) GetShort() (int16, error) {
	if err := b.checkGet(2); err != nil {
		return 0, err
	}
	v := int16(binary.BigEndian.Uint16(b.data[b.cursor:]))
	b.cursor += 2
	return v, nil
}

// GetUShort reads an unsigned big-endian 16-bit integer and advances the cursor by 2.
func (b *Buffer) GetUShort() (uint16, error) {
	if err := b.checkGet(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(b.data[b.cursor:])
	b.cursor += 2
	return v, nil
}

// GetInt reads a signed big-endian 32-bit integer and advances the cursor by 4.
func (b *Buffer) GetInt() (int32, error) {
	if err := b.checkGet(4); err != nil {
		return 0, err
	}
	v := int32(binary.BigEndian.Uint32(b.data[b.cursor:]))
	b.cursor += 4
	return v, nil
}

// GetUInt reads an unsigned big-endian 32-bit integer (0..2^32-1) and advances the cursor by 4.
func (b *Buffer) GetUInt() (uint32, error) {
	if err := b.checkGet(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(b.data[b.cursor:])
	b.cursor += 4
	return v, nil
}

// GetLong reads a signed big-endian 64-bit integer and advances the cursor by 8.
func (b *Buffer) GetLong() (int64, error) {
	if err := b.checkGet(8); err != nil {
		return 0, err
	}
	v := int64(binary.BigEndian.Uint64(b.data[b.cursor:]))
	b.cursor += 8
	return v, nil
}

// GetBytes copies out n bytes starting at the cursor and advances it by n.
func (b *Buffer) GetBytes(n int) ([]byte, error) {
	if err := b.checkGet(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b.data[b.cursor:b.cursor+n])
	b.cursor += n
	return out, nil
}

// GetBytesAt copies out n bytes starting at offset without moving the cursor.
func (b *Buffer) GetBytesAt(offset, n int) ([]byte, error) {
	if err := b.checkAlive(); err != nil {
		return nil, err
	}
	if offset < 0 || offset+n > b.limit {
		return nil, ErrBufferUnderflow
	}
	out := make([]byte, n)
	copy(out, b.data[offset:offset+n])
	return out, nil
}

// PutByte writes a byte and advances the cursor by 1.
func (b *Buffer) PutByte(v byte) error {
	if err := b.checkPut(1); err != nil {
		return err
	}
	b.data[b.cursor] = v
	b.cursor++
	return nil
}

// PutShort writes a big-endian 16-bit integer and advances the cursor by 2.
func (b *Buffer) PutShort(v uint16) error {
	if err := b.checkPut(2); err != nil {
		return err
	}
	binary.BigEndian.PutUint16(b.data[b.cursor:], v)
	b.cursor += 2
	return nil
}

// PutInt writes a big-endian 32-bit integer and advances the cursor by 4.
func (b *Buffer) PutInt(v uint32) error {
	if err := b.checkPut(4); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(b.data[b.cursor:], v)
	b.cursor += 4
	return nil
}

// PutLong writes a big-endian 64-bit integer and advances the cursor by 8.
func (b *Buffer) PutLong(v uint64) error {
	if err := b.checkPut(8); err != nil {
		return err
	}
	binary.BigEndian.PutUint64(b.data[b.cursor:], v)
	b.cursor += 8
	return nil
}

// PutBytes copies in src and advances the cursor by len(src).
func (b *Buffer) PutBytes(src []byte) error {
	if err := b.checkPut(len(src)); err != nil {
		return err
	}
	copy(b.data[b.cursor:], src)
	b.cursor += len(src)
	return nil
}
