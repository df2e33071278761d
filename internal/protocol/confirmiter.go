package protocol

import (
	"io"

	"github.com/kaikulimu/blazingmq/internal/blob"
)

// Return codes for ConfirmMessageIterator.Reset.
const (
	ResetOK                   = 0
	ResetInvalidEventHeader   = -1 // no bytes follow the declared EventHeader
	ResetInvalidConfirmHeader = -2 // ConfirmHeader absent or declares less than the minimum
	ResetNotEnoughBytes       = -3 // ConfirmHeader declares more bytes than remain
)

// Return codes for ConfirmMessageIterator.Next.
const (
	NextHasNext              = 1  // positioned on another record
	NextAtEnd                = 0  // past the last record
	NextInvalid              = -1 // iterator used while invalid
	NextNotEnoughBytes       = -2 // record declared longer than remaining bytes
	NextInvalidAdvanceLength = -3 // per-message length is zero
)

// ConfirmMessageIterator walks the confirm records of a single CONFIRM
// event. The same cursor/window pattern backs the ACK, PUSH and PUT
// iterators.
//
// Records are read by the length the ConfirmHeader declares rather than by
// any fixed struct size, so an event produced by a newer peer iterates
// cleanly here: unknown trailing bytes stay inside the record window.
type ConfirmMessageIterator struct {
	cursor        blob.Cursor
	advanceLength int
	header        blob.Window
	message       blob.Window
}

// Reset positions the iterator on the ConfirmHeader that follows
// eventHeader within b. On success the first Next skips over the header and
// lands on the first record.
func (it *ConfirmMessageIterator) Reset(b *blob.Blob, eventHeader EventHeader) int {
	it.cursor.Reset(b, blob.Position{}, b.Length(), true)

	// Skip the EventHeader to point to the ConfirmHeader.
	if !it.cursor.Advance(eventHeader.HeaderWords * WordSize) {
		it.header.Reset()
		return ResetInvalidEventHeader
	}

	// Read the ConfirmHeader up to the minimum size, then resize the window
	// to the size the header itself declares.
	it.header.ResetTo(b, it.cursor.Position(), -MinConfirmHeaderSize)
	if !it.header.IsSet() {
		return ResetInvalidConfirmHeader
	}

	headerSize := NewConfirmHeaderView(&it.header).HeaderWords() * WordSize
	if headerSize < MinConfirmHeaderSize {
		// Header declares fewer bytes than the fixed prefix: malformed.
		it.header.Reset()
		return ResetInvalidConfirmHeader
	}
	if headerSize > it.cursor.Remaining() {
		it.header.Reset()
		return ResetNotEnoughBytes
	}

	it.header.Resize(headerSize)
	if !it.header.IsSet() {
		return ResetInvalidConfirmHeader
	}

	it.message.Reset()

	// Preload the advance length with the header size so that the first
	// Next moves past the ConfirmHeader.
	it.advanceLength = headerSize

	return ResetOK
}

// Next advances to the following record. The per-message length is re-read
// from the header on every call; a future header revision may let it vary.
func (it *ConfirmMessageIterator) Next() int {
	if !it.IsValid() {
		return NextInvalid
	}

	if !it.cursor.Advance(it.advanceLength) {
		it.header.Reset()
		return NextAtEnd
	}

	it.advanceLength = NewConfirmHeaderView(&it.header).PerMessageWords() * WordSize

	// A zero advance would iterate forever.
	if it.advanceLength == 0 {
		return NextInvalidAdvanceLength
	}

	it.message.ResetTo(it.cursor.Blob(), it.cursor.Position(), it.advanceLength)
	if !it.message.IsSet() {
		return NextNotEnoughBytes
	}

	return NextHasNext
}

// IsValid returns true exactly while the header window is set.
func (it *ConfirmMessageIterator) IsValid() bool { return it.header.IsSet() }

// Header returns a view over the ConfirmHeader window.
func (it *ConfirmMessageIterator) Header() ConfirmHeaderView {
	return NewConfirmHeaderView(&it.header)
}

// Message returns a view over the current record window. Valid only after
// Next returned NextHasNext.
func (it *ConfirmMessageIterator) Message() ConfirmRecordView {
	return NewConfirmRecordView(&it.message)
}

// CopyFrom deep-copies src: cursor position, advance length and both
// windows, re-aliasing the same underlying blob.
func (it *ConfirmMessageIterator) CopyFrom(src *ConfirmMessageIterator) {
	it.cursor = src.cursor
	it.advanceLength = src.advanceLength

	if !src.header.IsSet() {
		it.header.Reset()
		it.message.Reset()
		return
	}

	it.header.ResetTo(src.header.Blob(), src.header.Position(), src.header.Length())
	if src.message.IsSet() {
		it.message.ResetTo(src.message.Blob(), src.message.Position(),
			NewConfirmHeaderView(&it.header).PerMessageWords()*WordSize)
	} else {
		it.message.Reset()
	}
}

// DumpBlob writes a bounded hex dump of the event blob for diagnostics.
func (it *ConfirmMessageIterator) DumpBlob(sink io.Writer) {
	const maxBytesDump = 128
	io.WriteString(sink, blob.StartHexDump(it.cursor.Blob(), maxBytesDump))
}
