package engine

import "fmt"

const tokenNumberPad = 3

// FormatTokenID renders prefix + zero-padded sequence. Sequences above 999
// widen the field instead of wrapping.
func FormatTokenID(prefix string, seq int) string {
	return fmt.Sprintf("%s%0*d", prefix, tokenNumberPad, seq)
}
