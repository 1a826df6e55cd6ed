package bytecode

import (
	"fmt"
	"strings"
)

const hexDumpWidth = 16

// HexDump renders data as offset, hex bytes and a printable-ASCII gutter,
// sixteen bytes per line.
func HexDump(data []byte) string {
	var sb strings.Builder
	for off := 0; off < len(data); off += hexDumpWidth {
		end := off + hexDumpWidth
		if end > len(data) {
			end = len(data)
		}
		row := data[off:end]

		sb.WriteString(fmt.Sprintf("%08X  ", off))
		for i := 0; i < hexDumpWidth; i++ {
			if i < len(row) {
				sb.WriteString(fmt.Sprintf("%02X ", row[i]))
			} else {
				sb.WriteString("   ")
			}
			if i == hexDumpWidth/2-1 {
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(" |")
		for _, b := range row {
			if b >= 0x20 && b < 0x7F {
				sb.WriteByte(b)
			} else {
				sb.WriteByte('.')
			}
		}
		sb.WriteString("|\n")
	}
	return sb.String()
}
