package protocol

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/kaikulimu/blazingmq/internal/blob"
)

// WriteEvent frames event onto w. The first word of event must already hold
// the total event length.
func WriteEvent(w io.Writer, event []byte) error {
	if len(event) < MinEventHeaderSize {
		return fmt.Errorf("event too short: %d", len(event))
	}
	if len(event) > MaxEventSize {
		return fmt.Errorf("event too large: %d", len(event))
	}
	if got := binary.BigEndian.Uint32(event[0:4]); int(got) != len(event) {
		return fmt.Errorf("event header length %d does not match event size %d", got, len(event))
	}
	_, err := w.Write(event)
	return err
}

// ReadEvent reads one complete event from r, sized by the length word of its
// EventHeader.
func ReadEvent(r *bufio.Reader) ([]byte, error) {
	header := make([]byte, MinEventHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	sz := binary.BigEndian.Uint32(header[0:4])
	if sz < MinEventHeaderSize {
		return nil, fmt.Errorf("event too short: %d", sz)
	}
	if sz > MaxEventSize {
		return nil, fmt.Errorf("event too large: %d", sz)
	}
	event := make([]byte, int(sz))
	copy(event, header)
	if _, err := io.ReadFull(r, event[MinEventHeaderSize:]); err != nil {
		return nil, err
	}
	return event, nil
}

// BuildConfirmEvent assembles a complete CONFIRM event: EventHeader,
// ConfirmHeader with the given word counts, then the records. Every record
// must be exactly perMessageWords words long.
func BuildConfirmEvent(headerWords, perMessageWords int, records ...[]byte) (*blob.Blob, error) {
	body := EncodeConfirmHeader(nil, headerWords, perMessageWords)
	for i, rec := range records {
		if len(rec) != perMessageWords*WordSize {
			return nil, fmt.Errorf("record %d is %d bytes, want %d", i, len(rec), perMessageWords*WordSize)
		}
		body = append(body, rec...)
	}

	h := NewEventHeader(EventTypeConfirm)
	h.Length = uint32(MinEventHeaderSize + len(body))
	event := h.Encode(nil)
	event = append(event, body...)
	return blob.FromBytes(event), nil
}
