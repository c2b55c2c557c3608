package merge

import (
	"strings"
	"unicode"
)

// WordCount counts words in mixed Chinese and Latin text: every Han
// character is a word, as is every standalone run of ASCII letters or of
// digits. Runs mixing letters and digits (e.g. "mp3") are not counted.
func WordCount(text string) int {
	var n int
	for _, run := range strings.FieldsFunc(text, func(r rune) bool { return !isWordRune(r) }) {
		letters, digits, other := 0, 0, 0
		for _, r := range run {
			switch {
			case unicode.Is(unicode.Han, r):
				n++
				other++
			case r < unicode.MaxASCII && unicode.IsLetter(r):
				letters++
			case r < unicode.MaxASCII && unicode.IsDigit(r):
				digits++
			default:
				other++
			}
		}
		if other == 0 && (letters == 0) != (digits == 0) {
			n++
		}
	}
	return n
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
