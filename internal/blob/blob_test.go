package blob

import (
	"bytes"
	"math/rand"
	"testing"
	"testing/quick"
	"time"
)

func TestPositionOrdering(t *testing.T) {
	cases := []struct {
		a, b Position
		want int
	}{
		{Position{0, 0}, Position{0, 0}, 0},
		{Position{0, 1}, Position{0, 2}, -1},
		{Position{0, 9}, Position{1, 0}, -1},
		{Position{2, 0}, Position{1, 99}, 1},
	}
	for _, c := range cases {
		if got := c.a.Compare(c.b); got != c.want {
			t.Fatalf("compare(%v, %v) = %d, want %d", c.a, c.b, got, c.want)
		}
		if got := c.b.Compare(c.a); got != -c.want {
			t.Fatalf("compare(%v, %v) = %d, want %d", c.b, c.a, got, -c.want)
		}
	}
}

func TestCursorAdvanceAcrossBuffers(t *testing.T) {
	b := New([]byte{1, 2, 3}, []byte{4, 5}, []byte{6})
	var c Cursor
	if !c.Reset(b, Position{}, b.Length(), true) {
		t.Fatal("reset failed")
	}
	if c.Remaining() != 6 {
		t.Fatalf("remaining = %d", c.Remaining())
	}
	if !c.Advance(4) {
		t.Fatal("advance failed")
	}
	if got := (Position{Buffer: 1, Byte: 1}); c.Position() != got {
		t.Fatalf("position = %v, want %v", c.Position(), got)
	}
	if c.Advance(3) {
		t.Fatal("advance past end should fail")
	}
	if c.Remaining() != 2 {
		t.Fatalf("failed advance moved cursor, remaining = %d", c.Remaining())
	}
	if !c.Advance(1) {
		t.Fatal("advance to last byte failed")
	}
	if c.Advance(1) {
		t.Fatal("advance onto the end should fail")
	}
	if c.Remaining() != 1 {
		t.Fatalf("remaining = %d", c.Remaining())
	}
}

func TestCursorStrictReset(t *testing.T) {
	b := New([]byte{1, 2, 3})
	var c Cursor
	if c.Reset(b, Position{}, 4, true) {
		t.Fatal("strict reset past end should fail")
	}
	if c.IsValid() {
		t.Fatal("cursor should be invalid")
	}
	if !c.Reset(b, Position{}, 4, false) {
		t.Fatal("lenient reset should clamp")
	}
	if c.Remaining() != 3 {
		t.Fatalf("remaining = %d, want clamped 3", c.Remaining())
	}
}

func TestWindowNegativeLengthAndResize(t *testing.T) {
	b := New([]byte{0xAA, 0xBB}, []byte{0xCC, 0xDD, 0xEE})
	var w Window
	w.ResetTo(b, Position{}, -8)
	if !w.IsSet() {
		t.Fatal("window should be set")
	}
	if w.Length() != 5 {
		t.Fatalf("length = %d, want clamped 5", w.Length())
	}
	w.Resize(4)
	if !w.IsSet() || w.Length() != 4 {
		t.Fatalf("resize failed: set=%t length=%d", w.IsSet(), w.Length())
	}
	w.Resize(6)
	if w.IsSet() {
		t.Fatal("resize past available bytes should unset")
	}
}

func TestWindowBytesCrossBoundary(t *testing.T) {
	b := New([]byte{1, 2}, []byte{3, 4})
	var w Window
	w.ResetTo(b, Position{Buffer: 0, Byte: 1}, 2)
	if got := w.Bytes(); !bytes.Equal(got, []byte{2, 3}) {
		t.Fatalf("bytes = %v", got)
	}
	w.ResetTo(b, Position{Buffer: 1, Byte: 0}, 2)
	if got := w.Bytes(); !bytes.Equal(got, []byte{3, 4}) {
		t.Fatalf("bytes = %v", got)
	}
}

func TestWindowUint32BigEndian(t *testing.T) {
	b := New([]byte{0x00, 0x00}, []byte{0x01, 0x02})
	var w Window
	w.ResetTo(b, Position{}, 4)
	if got := w.Uint32At(0); got != 0x0102 {
		t.Fatalf("uint32 = %#x", got)
	}
	if got := w.Uint32At(1); got != 0 {
		t.Fatalf("partial read should be zero, got %#x", got)
	}
}

func TestAdvanceLandsOnByteProperty(t *testing.T) {
	cfg := &quick.Config{Rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
	err := quick.Check(func(chunks [][]byte, steps []byte) bool {
		b := New(chunks...)
		var c Cursor
		c.Reset(b, Position{}, b.Length(), true)
		for _, s := range steps {
			n := int(s % 5)
			before := c.Remaining()
			ok := c.Advance(n)
			if ok != (n < before) {
				return false
			}
			if ok && c.Remaining() != before-n {
				return false
			}
			if !ok && c.Remaining() != before {
				return false
			}
		}
		return true
	}, cfg)
	if err != nil {
		t.Fatalf("advance property failed: %v", err)
	}
}

func TestStartHexDumpBounded(t *testing.T) {
	data := make([]byte, 200)
	for i := range data {
		data[i] = byte(i)
	}
	dump := StartHexDump(New(data), 128)
	if dump == "" {
		t.Fatal("empty dump")
	}
	lines := bytes.Count([]byte(dump), []byte{'\n'})
	if lines != 8 {
		t.Fatalf("expected 8 lines for 128 bytes, got %d", lines)
	}
	if StartHexDump(nil, 128) != "/no blob/" {
		t.Fatal("nil blob dump")
	}
}
