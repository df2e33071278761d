package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/kaikulimu/blazingmq/internal/blob"
)

// WordSize is the unit of every length field on the wire. All framing is
// big-endian.
const WordSize = 4

// MaxEventSize bounds a single event frame.
const MaxEventSize = 8 << 20

// EventType tags the payload that follows an EventHeader.
type EventType byte

const (
	EventTypeUndefined    EventType = 0
	EventTypeControl      EventType = 1
	EventTypePut          EventType = 2
	EventTypeConfirm      EventType = 3
	EventTypeAck          EventType = 4
	EventTypePush         EventType = 5
	EventTypeClusterState EventType = 6
)

func (t EventType) String() string {
	switch t {
	case EventTypeControl:
		return "CONTROL"
	case EventTypePut:
		return "PUT"
	case EventTypeConfirm:
		return "CONFIRM"
	case EventTypeAck:
		return "ACK"
	case EventTypePush:
		return "PUSH"
	case EventTypeClusterState:
		return "CLUSTER_STATE"
	default:
		return "UNDEFINED"
	}
}

// EventHeader is the fixed prefix of every event:
//
//	word 0          total event length in bytes
//	byte 4          protocol version
//	byte 5          event type
//	byte 6          header size in words
//	byte 7          reserved
//
// Readers advance by HeaderWords words, never by the struct size, so later
// protocol versions may lengthen the header without breaking old readers.
type EventHeader struct {
	Length      uint32
	Version     byte
	Type        EventType
	HeaderWords int
}

const (
	// MinEventHeaderSize is the smallest wire size of an EventHeader.
	MinEventHeaderSize = 2 * WordSize

	CurrentVersion byte = 1
)

func NewEventHeader(t EventType) EventHeader {
	return EventHeader{Version: CurrentVersion, Type: t, HeaderWords: MinEventHeaderSize / WordSize}
}

// Encode appends the wire form of the header to dst.
func (h EventHeader) Encode(dst []byte) []byte {
	var w [MinEventHeaderSize]byte
	binary.BigEndian.PutUint32(w[0:4], h.Length)
	w[4] = h.Version
	w[5] = byte(h.Type)
	w[6] = byte(h.HeaderWords)
	return append(dst, w[:]...)
}

// DecodeEventHeader reads an EventHeader from the front of b.
func DecodeEventHeader(b *blob.Blob) (EventHeader, error) {
	if b == nil {
		return EventHeader{}, fmt.Errorf("event header: nil blob")
	}
	var raw [MinEventHeaderSize]byte
	if !b.CopyOut(raw[:], blob.Position{}, MinEventHeaderSize) {
		return EventHeader{}, fmt.Errorf("event header: need %d bytes, have %d", MinEventHeaderSize, b.Length())
	}
	h := EventHeader{
		Length:      binary.BigEndian.Uint32(raw[0:4]),
		Version:     raw[4],
		Type:        EventType(raw[5]),
		HeaderWords: int(raw[6]),
	}
	if h.HeaderWords*WordSize < MinEventHeaderSize {
		return EventHeader{}, fmt.Errorf("event header: declared %d words, minimum %d bytes", h.HeaderWords, MinEventHeaderSize)
	}
	return h, nil
}

// ConfirmHeader is the fixed prefix of a CONFIRM event body:
//
//	byte 0          header words (high nibble) | per-message words (low nibble)
//	bytes 1..3      reserved
//
// Each confirm record that follows is PerMessageWords words long. Records
// are read through a window of that declared size, so fields appended by a
// later protocol version fall inside the window of new readers and outside
// the parsed prefix of old ones.
const (
	// MinConfirmHeaderSize is the smallest valid ConfirmHeader, one word.
	MinConfirmHeaderSize = WordSize

	// MaxHeaderWords and MaxPerMessageWords are nibble-field bounds.
	MaxHeaderWords     = 15
	MaxPerMessageWords = 15
)

// ConfirmHeaderView decodes ConfirmHeader fields out of a window.
type ConfirmHeaderView struct {
	w *blob.Window
}

func NewConfirmHeaderView(w *blob.Window) ConfirmHeaderView { return ConfirmHeaderView{w: w} }

func (v ConfirmHeaderView) HeaderWords() int { return int(v.w.ByteAt(0) >> 4) }

func (v ConfirmHeaderView) PerMessageWords() int { return int(v.w.ByteAt(0) & 0x0f) }

// EncodeConfirmHeader appends a ConfirmHeader with the given word counts.
func EncodeConfirmHeader(dst []byte, headerWords, perMessageWords int) []byte {
	var w [MinConfirmHeaderSize]byte
	w[0] = byte(headerWords&0x0f)<<4 | byte(perMessageWords&0x0f)
	dst = append(dst, w[:]...)
	for i := 1; i < headerWords; i++ {
		dst = append(dst, 0, 0, 0, 0)
	}
	return dst
}

// ConfirmRecordView decodes the fixed prefix of a confirm record. Bytes past
// the prefix are reserved and must be preserved on echo, never parsed.
type ConfirmRecordView struct {
	w *blob.Window
}

func NewConfirmRecordView(w *blob.Window) ConfirmRecordView { return ConfirmRecordView{w: w} }

func (v ConfirmRecordView) QueueID() int32 { return int32(v.w.Uint32At(0)) }

func (v ConfirmRecordView) SubQueueID() int32 { return int32(v.w.Uint32At(4)) }

func (v ConfirmRecordView) Bytes() []byte { return v.w.Bytes() }
