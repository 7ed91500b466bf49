package monitoring

import (
	"fmt"
	"regexp"
)

// Palette is the ordered list of series colors. The Nth selected sensor gets
// the color at N modulo the palette size.
type Palette []string

// DefaultPalette is used when no palette is configured.
var DefaultPalette = Palette{
	"#2563eb",
	"#dc2626",
	"#16a34a",
	"#d97706",
	"#9333ea",
	"#0891b2",
	"#db2777",
	"#65a30d",
}

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// NewPalette validates colors and returns them as a Palette.
func NewPalette(colors []string) (Palette, error) {
	if len(colors) == 0 {
		return nil, ErrEmptyPalette
	}
	p := make(Palette, 0, len(colors))
	for _, c := range colors {
		if !hexColor.MatchString(c) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidColor, c)
		}
		p = append(p, c)
	}
	return p, nil
}

// ColorAt returns the color for the sensor at position n of the selection.
func (p Palette) ColorAt(n int) string {
	if len(p) == 0 {
		return DefaultPalette.ColorAt(n)
	}
	if n < 0 {
		n = -n
	}
	return p[n%len(p)]
}
