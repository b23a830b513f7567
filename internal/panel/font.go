package panel

import "strings"

// Glyph geometry of the built-in 5x7 font.
const (
	GlyphWidth   = 5
	GlyphHeight  = 7
	GlyphSpacing = 1

	// CharAdvance is the horizontal step per character.
	CharAdvance = GlyphWidth + GlyphSpacing
)

// font5x7 maps runes to column bitmaps, LSB at the top row. The set covers
// digits, uppercase letters and the punctuation the built-in renderers
// need; lowercase input is uppercased before lookup.
var font5x7 = map[rune][GlyphWidth]byte{
	' ':  {0x00, 0x00, 0x00, 0x00, 0x00},
	'!':  {0x00, 0x00, 0x5F, 0x00, 0x00},
	'\'': {0x00, 0x05, 0x03, 0x00, 0x00},
	'%':  {0x23, 0x13, 0x08, 0x64, 0x62},
	'+':  {0x08, 0x08, 0x3E, 0x08, 0x08},
	',':  {0x00, 0x50, 0x30, 0x00, 0x00},
	'-':  {0x08, 0x08, 0x08, 0x08, 0x08},
	'.':  {0x00, 0x60, 0x60, 0x00, 0x00},
	'/':  {0x20, 0x10, 0x08, 0x04, 0x02},
	'0':  {0x3E, 0x51, 0x49, 0x45, 0x3E},
	'1':  {0x00, 0x42, 0x7F, 0x40, 0x00},
	'2':  {0x42, 0x61, 0x51, 0x49, 0x46},
	'3':  {0x21, 0x41, 0x45, 0x4B, 0x31},
	'4':  {0x18, 0x14, 0x12, 0x7F, 0x10},
	'5':  {0x27, 0x45, 0x45, 0x45, 0x39},
	'6':  {0x3C, 0x4A, 0x49, 0x49, 0x30},
	'7':  {0x01, 0x71, 0x09, 0x05, 0x03},
	'8':  {0x36, 0x49, 0x49, 0x49, 0x36},
	'9':  {0x06, 0x49, 0x49, 0x29, 0x1E},
	':':  {0x00, 0x36, 0x36, 0x00, 0x00},
	'?':  {0x02, 0x01, 0x51, 0x09, 0x06},
	'A':  {0x7E, 0x11, 0x11, 0x11, 0x7E},
	'B':  {0x7F, 0x49, 0x49, 0x49, 0x36},
	'C':  {0x3E, 0x41, 0x41, 0x41, 0x22},
	'D':  {0x7F, 0x41, 0x41, 0x22, 0x1C},
	'E':  {0x7F, 0x49, 0x49, 0x49, 0x41},
	'F':  {0x7F, 0x09, 0x09, 0x09, 0x01},
	'G':  {0x3E, 0x41, 0x49, 0x49, 0x7A},
	'H':  {0x7F, 0x08, 0x08, 0x08, 0x7F},
	'I':  {0x00, 0x41, 0x7F, 0x41, 0x00},
	'J':  {0x20, 0x40, 0x41, 0x3F, 0x01},
	'K':  {0x7F, 0x08, 0x14, 0x22, 0x41},
	'L':  {0x7F, 0x40, 0x40, 0x40, 0x40},
	'M':  {0x7F, 0x02, 0x0C, 0x02, 0x7F},
	'N':  {0x7F, 0x04, 0x08, 0x10, 0x7F},
	'O':  {0x3E, 0x41, 0x41, 0x41, 0x3E},
	'P':  {0x7F, 0x09, 0x09, 0x09, 0x06},
	'Q':  {0x3E, 0x41, 0x51, 0x21, 0x5E},
	'R':  {0x7F, 0x09, 0x19, 0x29, 0x46},
	'S':  {0x46, 0x49, 0x49, 0x49, 0x31},
	'T':  {0x01, 0x01, 0x7F, 0x01, 0x01},
	'U':  {0x3F, 0x40, 0x40, 0x40, 0x3F},
	'V':  {0x1F, 0x20, 0x40, 0x20, 0x1F},
	'W':  {0x7F, 0x20, 0x18, 0x20, 0x7F},
	'X':  {0x63, 0x14, 0x08, 0x14, 0x63},
	'Y':  {0x07, 0x08, 0x70, 0x08, 0x07},
	'Z':  {0x61, 0x51, 0x49, 0x45, 0x43},
}

// DrawString renders s into the frame with its top-left corner at (x, y)
// and returns the x position after the last character. Unknown runes render
// as '?'.
func DrawString(f *Frame, x, y int, s string, c Color) int {
	for _, r := range strings.ToUpper(s) {
		glyph, ok := font5x7[r]
		if !ok {
			glyph = font5x7['?']
		}
		for col := 0; col < GlyphWidth; col++ {
			bits := glyph[col]
			for row := 0; row < GlyphHeight; row++ {
				if bits&(1<<uint(row)) != 0 {
					f.Set(x+col, y+row, c)
				}
			}
		}
		x += CharAdvance
	}
	return x
}

// StringWidth returns the pixel width of s in the built-in font.
func StringWidth(s string) int {
	n := len([]rune(s))
	if n == 0 {
		return 0
	}
	return n*CharAdvance - GlyphSpacing
}

// TextCols returns how many characters fit on one line of a panel with the
// given pixel width.
func TextCols(panelCols int) int {
	if panelCols <= 0 {
		return 0
	}
	return (panelCols + GlyphSpacing) / CharAdvance
}
