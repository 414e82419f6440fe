// Package language assigns a coarse language code to extracted text by Unicode block.
package language

const (
	English   = "en"
	Malayalam = "ml"
	Hindi     = "hi"
)

// Detect returns Malayalam if any rune falls in U+0D00–U+0D7F, otherwise Hindi if any
// rune falls in the Devanagari block U+0900–U+097F, otherwise English.
func Detect(text string) string {
	var hasDevanagari bool
	for _, r := range text {
		switch {
		case r >= 0x0D00 && r <= 0x0D7F:
			return Malayalam
		case r >= 0x0900 && r <= 0x097F:
			hasDevanagari = true
		}
	}
	if hasDevanagari {
		return Hindi
	}
	return English
}
