package blob

import (
	"fmt"
	"strings"
)

// StartHexDump renders up to max bytes from the blob start, 16 bytes per
// line with printable ASCII alongside. Used for diagnostics on malformed
// events.
func StartHexDump(b *Blob, max int) string {
	if b == nil {
		return "/no blob/"
	}
	n := b.Length()
	if n > max {
		n = max
	}
	data := make([]byte, n)
	b.CopyOut(data, Position{}, n)

	var sb strings.Builder
	for line := 0; line < n; line += 16 {
		end := line + 16
		if end > n {
			end = n
		}
		fmt.Fprintf(&sb, "%06d:  ", line)
		for i := line; i < line+16; i++ {
			if i < end {
				fmt.Fprintf(&sb, "%02X", data[i])
			} else {
				sb.WriteString("  ")
			}
			if i%4 == 3 {
				sb.WriteByte(' ')
			}
		}
		sb.WriteString("  |")
		for i := line; i < end; i++ {
			c := data[i]
			if c < 0x20 || c > 0x7e {
				c = '.'
			}
			sb.WriteByte(c)
		}
		sb.WriteString("|\n")
	}
	return sb.String()
}
