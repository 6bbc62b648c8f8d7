package privacy

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const idSuffixLength = 4

// MaskID masks an identifier (channel, server, author) showing only the last
// four characters. Example: "chan-1234567890" -> "***********7890".
func MaskID(id string) string {
	if id == "" {
		return ""
	}
	if len(id) <= idSuffixLength {
		return strings.Repeat("*", len(id))
	}
	return strings.Repeat("*", len(id)-idSuffixLength) + id[len(id)-idSuffixLength:]
}

// MaskContent replaces message content with a length marker so logs never
// carry user text. Example: "hello there" -> "[11 chars]".
func MaskContent(content string) string {
	if content == "" {
		return ""
	}
	return fmt.Sprintf("[%d chars]", utf8.RuneCountInString(content))
}

// MaskFilename keeps the file extension but hides the name.
// Example: "vacation-photo.jpg" -> "**************.jpg".
func MaskFilename(filename string) string {
	if filename == "" {
		return ""
	}
	idx := strings.LastIndex(filename, ".")
	if idx <= 0 {
		return strings.Repeat("*", len(filename))
	}
	return strings.Repeat("*", idx) + filename[idx:]
}
