package blob

import "encoding/binary"

// Window is a bounded view (proxy) over a span of a Blob. It aliases the
// underlying buffers and never copies on creation; readers that need a
// contiguous view pay the copy only when the span crosses a buffer boundary.
//
// A window created with a negative length reads "up to |length|" bytes; a
// later Resize finalizes the span once the true size is known. Resizing
// beyond the bytes available from the window start unsets the window.
type Window struct {
	blob   *Blob
	pos    Position
	length int
	set    bool
}

// Reset unsets the window.
func (w *Window) Reset() {
	w.blob = nil
	w.pos = Position{}
	w.length = 0
	w.set = false
}

// ResetTo points the window at blob[pos : pos+length]. When length is
// negative the window spans up to |length| bytes, clamped to what the blob
// holds past pos; it is set iff at least one byte is available. When length
// is non-negative the window is set iff the full span fits.
func (w *Window) ResetTo(b *Blob, pos Position, length int) {
	w.Reset()
	if b == nil {
		return
	}
	avail := b.Length() - b.offsetOf(pos)
	if avail < 0 {
		return
	}
	if length < 0 {
		length = -length
		if length > avail {
			length = avail
		}
		if length == 0 {
			return
		}
	} else if length > avail {
		return
	}
	w.blob = b
	w.pos = pos
	w.length = length
	w.set = true
}

// Resize finalizes the span to n bytes. Growing past the bytes available
// from the window start unsets the window.
func (w *Window) Resize(n int) {
	if !w.set || n < 0 {
		w.Reset()
		return
	}
	avail := w.blob.Length() - w.blob.offsetOf(w.pos)
	if n > avail {
		w.Reset()
		return
	}
	w.length = n
}

func (w *Window) IsSet() bool { return w.set }

func (w *Window) Blob() *Blob { return w.blob }

func (w *Window) Position() Position { return w.pos }

func (w *Window) Length() int { return w.length }

// Bytes returns the window's span as a contiguous slice. The slice aliases
// the blob when the span lies within one buffer and is a copy otherwise.
func (w *Window) Bytes() []byte {
	if !w.set || w.length == 0 {
		return nil
	}
	buf := w.blob.Buffer(w.pos.Buffer)
	if w.pos.Byte+w.length <= len(buf) {
		return buf[w.pos.Byte : w.pos.Byte+w.length]
	}
	out := make([]byte, w.length)
	if !w.blob.CopyOut(out, w.pos, w.length) {
		return nil
	}
	return out
}

// Uint32At reads a big-endian word at byte offset off within the window.
// Returns 0 when the read falls outside the window; fields past the window
// end are reserved and read as zero.
func (w *Window) Uint32At(off int) uint32 {
	if !w.set || off < 0 || off+4 > w.length {
		return 0
	}
	var scratch [4]byte
	start, ok := w.blob.positionAt(w.blob.offsetOf(w.pos) + off)
	if !ok || !w.blob.CopyOut(scratch[:], start, 4) {
		return 0
	}
	return binary.BigEndian.Uint32(scratch[:])
}

// ByteAt reads the byte at offset off within the window, zero when out of
// range.
func (w *Window) ByteAt(off int) byte {
	if !w.set || off < 0 || off >= w.length {
		return 0
	}
	start, ok := w.blob.positionAt(w.blob.offsetOf(w.pos) + off)
	if !ok {
		return 0
	}
	return w.blob.ByteAt(start)
}
