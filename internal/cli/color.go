package cli

import "strings"

// sectionSign starts a Minecraft formatting code, e.g. "§a".
const sectionSign = '§'

const ansiReset = "\033[0m"

var ansiCodes = map[rune]string{
	'0': "\033[0;30m",
	'1': "\033[0;34m",
	'2': "\033[0;32m",
	'3': "\033[0;36m",
	'4': "\033[0;31m",
	'5': "\033[0;35m",
	'6': "\033[0;33m",
	'7': "\033[0;37m",
	'8': "\033[0;1;30m",
	'9': "\033[0;1;34m",
	'a': "\033[0;1;32m",
	'b': "\033[0;1;36m",
	'c': "\033[0;1;31m",
	'd': "\033[0;1;35m",
	'e': "\033[0;1;33m",
	'f': "\033[0;1;37m",
	'l': "\033[1m",
	'n': "\033[4m",
	'o': "\033[3m",
	'r': ansiReset,
}

// StripColorCodes removes Minecraft formatting codes from text.
func StripColorCodes(text string) string {
	if !strings.ContainsRune(text, sectionSign) {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	skip := false
	for _, r := range text {
		switch {
		case skip:
			skip = false
		case r == sectionSign:
			skip = true
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ConvertColorCodes replaces Minecraft formatting codes with ANSI escapes.
// Unknown codes are dropped. Colour is reset at every newline and at the end.
func ConvertColorCodes(text string) string {
	if !strings.ContainsRune(text, sectionSign) {
		return text
	}

	var b strings.Builder
	b.Grow(len(text) + 16)
	code := false
	for _, r := range text {
		switch {
		case code:
			code = false
			if ansi, ok := ansiCodes[toLower(r)]; ok {
				b.WriteString(ansi)
			}
		case r == sectionSign:
			code = true
		case r == '\n':
			b.WriteString(ansiReset)
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteString(ansiReset)
	return b.String()
}

func toLower(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}
