// Package qr renders QR codes as Unicode half-block text for terminals.
//
// The serve command prints the hub URL as a QR code so a phone can join a
// session without typing the address. Two QR rows share one terminal row,
// which keeps the code roughly square on typical 2:1 character cells.
package qr

import (
	"strings"

	"github.com/skip2/go-qrcode"
)

// recoveryLevels are tried in order. Encoding falls back to lower levels
// until the rendered code fits the terminal.
var recoveryLevels = []qrcode.RecoveryLevel{
	qrcode.High,
	qrcode.Medium,
	qrcode.Low,
}

// GenerateLines encodes data and returns one string per terminal row.
// maxWidth and maxHeight bound the rendered size in terminal cells; if no
// recovery level fits, a human-readable notice is returned instead.
func GenerateLines(data string, maxWidth, maxHeight uint16) []string {
	for _, level := range recoveryLevels {
		code, err := qrcode.New(data, level)
		if err != nil {
			continue
		}

		bitmap := code.Bitmap()
		if len(bitmap) == 0 || len(bitmap[0]) == 0 {
			continue
		}

		size := len(bitmap)
		if uint16(size) > maxWidth || uint16((size+1)/2) > maxHeight {
			continue
		}

		return halfBlockLines(bitmap)
	}

	return []string{
		"QR code too large for this terminal",
		"Resize the window and restart with --qr,",
		"or open the printed URL directly",
	}
}

// halfBlockLines renders a module bitmap two rows at a time.
// In go-qrcode a true cell is a dark module.
//
//	█ both rows dark
//	▀ upper dark only
//	▄ lower dark only
//	  both rows light
func halfBlockLines(bitmap [][]bool) []string {
	size := len(bitmap)
	lines := make([]string, 0, (size+1)/2)

	for y := 0; y < size; y += 2 {
		var sb strings.Builder
		sb.Grow(size * 3) // block characters are 3 bytes in UTF-8

		for x := 0; x < size; x++ {
			upper := bitmap[y][x]
			lower := false
			if y+1 < size {
				lower = bitmap[y+1][x]
			}

			switch {
			case upper && lower:
				sb.WriteRune('█')
			case upper:
				sb.WriteRune('▀')
			case lower:
				sb.WriteRune('▄')
			default:
				sb.WriteRune(' ')
			}
		}
		lines = append(lines, sb.String())
	}

	return lines
}

// Dimensions reports the terminal cells a code for data would occupy at the
// default recovery level, or (0, 0) when the data cannot be encoded.
func Dimensions(data string) (uint16, uint16) {
	code, err := qrcode.New(data, qrcode.Medium)
	if err != nil {
		return 0, 0
	}

	bitmap := code.Bitmap()
	if len(bitmap) == 0 {
		return 0, 0
	}

	size := len(bitmap)
	return uint16(size), uint16((size + 1) / 2)
}
