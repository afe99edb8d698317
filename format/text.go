package format

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Truncate returns the first n runes of s followed by "..." when s is longer
// than n runes, and s unchanged otherwise.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	head, _ := splitAtRune(s, n)
	return head + ellipsis
}

// FormatDuration renders d as m:ss, e.g. 3:07.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	minutes := int(d / time.Minute)
	seconds := int((d % time.Minute) / time.Second)
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

// CodeBlock wraps s in a fenced code block. Text that already carries its own
// fences is returned as is, since nesting would break rendering.
func CodeBlock(s string) string {
	if strings.Contains(s, "```") {
		return s
	}
	return "```\n" + s + "\n```"
}

// BalanceFences closes a code block left open at the end of a segment and
// reopens it, with the same opening fence line, at the start of the next one.
// A segment that starts with the closing fence of the carried block drops
// that fence instead; segments left empty are omitted.
func BalanceFences(segments []string) []string {
	out := make([]string, 0, len(segments))
	open := "" // opening fence line of the block still open, "" when none
	for _, seg := range segments {
		if open != "" {
			if first, rest, _ := strings.Cut(seg, "\n"); isFence(first) {
				seg = rest
			} else {
				seg = open + "\n" + seg
			}
			open = ""
		}
		for _, line := range strings.Split(seg, "\n") {
			if !isFence(line) {
				continue
			}
			if open == "" {
				open = strings.TrimSpace(line)
			} else {
				open = ""
			}
		}
		if strings.TrimSpace(seg) == "" {
			continue
		}
		if open != "" {
			seg += "\n```"
		}
		out = append(out, seg)
	}
	return out
}
