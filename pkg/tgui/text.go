package tgui

import (
	"strings"
	"unicode/utf8"
)

// TruncRunes returns s truncated to at most n runes.
// It appends an ellipsis "…" when truncated.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	cut := 0
	for i, r := range s {
		count++
		if count == n {
			cut = i + utf8.RuneLen(r)
			continue
		}
		if count > n {
			if cut <= 0 {
				cut = i
			}
			return s[:cut] + "…"
		}
	}
	return s
}

// SplitLines splits text into chunks of at most limit runes, breaking on
// line boundaries where possible. A single line longer than limit is hard-cut
// rune-safely. Used for replies that can exceed Telegram's message cap.
func SplitLines(text string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageLen
	}
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var out []string
	var b strings.Builder
	count := 0
	flush := func() {
		if b.Len() > 0 {
			out = append(out, strings.TrimRight(b.String(), "\n"))
			b.Reset()
			count = 0
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		n := utf8.RuneCountInString(line)
		if count+n > limit {
			flush()
		}
		for n > limit {
			// Oversized single line: hard-cut.
			cut := cutAtRune(line, limit)
			out = append(out, line[:cut])
			line = line[cut:]
			n = utf8.RuneCountInString(line)
		}
		b.WriteString(line)
		count += n
	}
	flush()
	return out
}

func cutAtRune(s string, n int) int {
	count := 0
	for i := range s {
		if count == n {
			return i
		}
		count++
	}
	return len(s)
}
