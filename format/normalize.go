// Package format turns raw model output into chat-sized messages.
//
// Normalize cleans generated text (redundant emphasis, blank-line noise,
// trailing whitespace, padded code fences) and Chunk splits the result into
// ordered segments that each fit a single Discord message. Both functions are
// pure and safe for concurrent use.
package format

import (
	"regexp"
	"strings"
)

var (
	// **run** not touching other asterisks. RE2 has no lookaround, so the
	// neighbours are captured and written back.
	doubleEmphasis = regexp.MustCompile(`(^|[^*])\*\*([^*]+)\*\*([^*]|$)`)
	tripleEmphasis = regexp.MustCompile(`\*\*\*([^*]+)\*\*\*`)
	blankRuns      = regexp.MustCompile(`\n{3,}`)
	trailingSpace  = regexp.MustCompile(`(?m)[ \t]+$`)
)

// Normalize cleans raw generated text. The cleanup pass is repeated until the
// text stops changing, so Normalize(Normalize(s)) == Normalize(s).
func Normalize(raw string) string {
	s := raw
	for {
		next := normalizeOnce(s)
		if next == s {
			return s
		}
		s = next
	}
}

func normalizeOnce(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = doubleEmphasis.ReplaceAllString(s, "${1}${2}${3}")
	s = tripleEmphasis.ReplaceAllString(s, "**${1}**")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	s = trailingSpace.ReplaceAllString(s, "")
	return tightenFences(s)
}

// tightenFences drops a blank line that directly follows an opening fence or
// directly precedes a closing fence. Blank lines outside a block are kept so
// the paragraphs around it stay separate.
func tightenFences(s string) string {
	if !strings.Contains(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	opens := make([]bool, len(lines))
	closes := make([]bool, len(lines))
	inBlock := false
	for i, line := range lines {
		if !isFence(line) {
			continue
		}
		if inBlock {
			closes[i] = true
		} else {
			opens[i] = true
		}
		inBlock = !inBlock
	}

	out := make([]string, 0, len(lines))
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			afterOpen := i > 0 && opens[i-1]
			beforeClose := i+1 < len(lines) && closes[i+1]
			if afterOpen || beforeClose {
				continue
			}
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func isFence(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "```")
}
