package blob

// Blob is a scatter-gather sequence of byte buffers representing a frame in
// flight. Buffers are shared with the pool that produced them; a Blob never
// copies on append.
type Blob struct {
	buffers [][]byte
	length  int
}

func New(buffers ...[]byte) *Blob {
	b := &Blob{}
	for _, buf := range buffers {
		b.AppendBuffer(buf)
	}
	return b
}

// FromBytes wraps a single contiguous buffer.
func FromBytes(data []byte) *Blob {
	return New(data)
}

func (b *Blob) AppendBuffer(buf []byte) {
	if len(buf) == 0 {
		return
	}
	b.buffers = append(b.buffers, buf)
	b.length += len(buf)
}

// Length returns the total number of bytes across all buffers.
func (b *Blob) Length() int { return b.length }

func (b *Blob) NumBuffers() int { return len(b.buffers) }

func (b *Blob) Buffer(i int) []byte { return b.buffers[i] }

// ByteAt returns the byte at pos. pos must be a valid position within the
// blob.
func (b *Blob) ByteAt(pos Position) byte {
	return b.buffers[pos.Buffer][pos.Byte]
}

// CopyOut copies n bytes starting at pos into dst, walking buffer boundaries.
// Returns false if fewer than n bytes are available from pos.
func (b *Blob) CopyOut(dst []byte, pos Position, n int) bool {
	if n > len(dst) {
		n = len(dst)
	}
	copied := 0
	bi, off := pos.Buffer, pos.Byte
	for copied < n {
		if bi >= len(b.buffers) {
			return false
		}
		buf := b.buffers[bi]
		if off >= len(buf) {
			bi++
			off = 0
			continue
		}
		c := copy(dst[copied:n], buf[off:])
		copied += c
		off += c
	}
	return true
}

// offsetOf returns the absolute byte offset of pos from the blob start.
func (b *Blob) offsetOf(pos Position) int {
	off := 0
	for i := 0; i < pos.Buffer && i < len(b.buffers); i++ {
		off += len(b.buffers[i])
	}
	return off + pos.Byte
}

// positionAt returns the position n bytes from the blob start, and whether
// that position is within bounds. The position one past the last byte is
// in bounds (it is the end position).
func (b *Blob) positionAt(n int) (Position, bool) {
	if n < 0 || n > b.length {
		return Position{}, false
	}
	bi := 0
	for bi < len(b.buffers) && n >= len(b.buffers[bi]) {
		n -= len(b.buffers[bi])
		bi++
	}
	return Position{Buffer: bi, Byte: n}, true
}
