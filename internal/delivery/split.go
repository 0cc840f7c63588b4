// Package delivery turns a completion result into thread messages: reply
// chunks, moderation banners, failure notices, or a closed thread.
package delivery

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultLimit is the default maximum chunk size in bytes. It sits well
// under the platform's 2000 character message limit.
const DefaultLimit = 1500

// Split breaks text into chunks of at most limit bytes. It prefers to break
// after a paragraph, then after a sentence, then after whitespace, and cuts
// mid-word only when none of those fall inside the limit. Breaks never split
// a UTF-8 sequence and the chunks concatenate back to exactly text.
func Split(text string, limit int) []string {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit < utf8.UTFMax {
		limit = utf8.UTFMax
	}

	var chunks []string
	rest := text
	for len(rest) > limit {
		cut := breakPoint(rest, limit)
		chunks = append(chunks, rest[:cut])
		rest = rest[cut:]
	}
	if rest != "" || len(chunks) == 0 {
		chunks = append(chunks, rest)
	}
	return chunks
}

// breakPoint returns the byte offset at which to end the next chunk of s.
// The returned offset is in (0, limit] and lies on a rune boundary.
func breakPoint(s string, limit int) int {
	hard := limit
	for hard > 0 && !utf8.RuneStart(s[hard]) {
		hard--
	}
	window := s[:hard]

	if i := strings.LastIndex(window, "\n\n"); i > 0 {
		return i + 2
	}
	if i := lastSentenceEnd(window); i > 0 {
		return i
	}
	if i := lastSpaceEnd(window); i > 0 {
		return i
	}
	return hard
}

// lastSentenceEnd returns the offset just past the last sentence terminator
// followed by whitespace in s, including that whitespace rune.
func lastSentenceEnd(s string) int {
	for i := len(s) - 1; i > 0; {
		r, size := utf8.DecodeLastRuneInString(s[:i+1])
		start := i + 1 - size
		if unicode.IsSpace(r) && start > 0 {
			prev, _ := utf8.DecodeLastRuneInString(s[:start])
			if prev == '.' || prev == '!' || prev == '?' {
				return i + 1
			}
		}
		i = start - 1
	}
	return 0
}

// lastSpaceEnd returns the offset just past the last whitespace rune in s.
func lastSpaceEnd(s string) int {
	i := strings.LastIndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return 0
	}
	_, size := utf8.DecodeRuneInString(s[i:])
	return i + size
}
