package protocol

import (
	"testing"

	"github.com/kaikulimu/blazingmq/internal/blob"
)

func FuzzConfirmIterator(f *testing.F) {
	seed, _ := BuildConfirmEvent(1, 2, confirmRecord(1, 2, 0))
	raw := make([]byte, seed.Length())
	seed.CopyOut(raw, blob.Position{}, len(raw))
	f.Add(raw)
	f.Add([]byte{0, 0, 0, 10, 1, 3, 2, 0, 0x12, 0})
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		b := blob.FromBytes(data)
		h, err := DecodeEventHeader(b)
		if err != nil {
			return
		}
		var it ConfirmMessageIterator
		if rc := it.Reset(b, h); rc != ResetOK {
			return
		}
		// Termination is guaranteed by the zero-advance rejection; the bound
		// is a backstop for the fuzzer only.
		for i := 0; i < len(data)+2; i++ {
			if it.Next() != NextHasNext {
				return
			}
		}
		t.Fatalf("iterator did not terminate over %d bytes", len(data))
	})
}
