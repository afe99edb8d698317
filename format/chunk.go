package format

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxLength is the segment budget used when callers pass a
// non-positive limit. Discord allows 2000 characters per message; the rest is
// left for the reply header and code-fence wrapping.
const DefaultMaxLength = 1900

const ellipsis = "..."

// Chunk splits text into ordered segments of at most maxLength runes,
// preferring paragraph ("\n\n") and then sentence (". ") boundaries. Text
// that fits is returned as a single segment. A sentence longer than
// maxLength is cut into ellipsis-marked pieces; the piece that finally fits is
// emitted on its own. Empty or whitespace-only input yields no segments.
func Chunk(text string, maxLength int) []string {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if runeLen(text) <= maxLength {
		return []string{strings.TrimSpace(text)}
	}

	c := &chunker{max: maxLength}
	for _, para := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(para) == "" {
			continue
		}
		if runeLen(para) > maxLength {
			c.flush()
			for _, sentence := range splitSentences(para) {
				c.addSentence(sentence)
			}
			continue
		}
		c.addParagraph(para)
	}
	c.flush()
	return c.out
}

// chunker is the per-call accumulator. It never outlives a Chunk call.
type chunker struct {
	max     int
	current strings.Builder
	curLen  int
	out     []string
}

func (c *chunker) addParagraph(para string) {
	n := runeLen(para)
	if c.curLen+2+n > c.max {
		c.flush()
		c.set(para, n)
		return
	}
	if c.curLen > 0 {
		c.current.WriteString("\n\n")
		c.curLen += 2
	}
	c.current.WriteString(para)
	c.curLen += n
}

func (c *chunker) addSentence(sentence string) {
	n := runeLen(sentence)
	if c.curLen+1+n > c.max {
		if c.curLen > 0 {
			c.flush()
		}
		if n > c.max {
			c.hardSplit(sentence)
			return
		}
		c.set(sentence, n)
		return
	}
	if c.curLen > 0 {
		c.current.WriteByte(' ')
		c.curLen++
	}
	c.current.WriteString(sentence)
	c.curLen += n
}

// hardSplit emits an oversized sentence as ellipsis-marked pieces followed by
// the remainder that fits. The accumulator is left empty.
func (c *chunker) hardSplit(s string) {
	marker, keep := ellipsis, c.max-len(ellipsis)
	if keep < 1 {
		// budget too small to carry the marker
		marker, keep = "", c.max
	}
	for runeLen(s) > c.max {
		head, tail := splitAtRune(s, keep)
		c.emit(head + marker)
		s = tail
	}
	c.emit(s)
}

func (c *chunker) set(s string, n int) {
	c.current.Reset()
	c.current.WriteString(s)
	c.curLen = n
}

func (c *chunker) flush() {
	if c.curLen > 0 {
		c.emit(c.current.String())
	}
	c.current.Reset()
	c.curLen = 0
}

func (c *chunker) emit(s string) {
	if s = strings.TrimSpace(s); s != "" {
		c.out = append(c.out, s)
	}
}

// splitSentences splits on ". " and gives back the period that each unit
// except the last lost to the split.
func splitSentences(para string) []string {
	parts := strings.Split(para, ". ")
	for i := 0; i < len(parts)-1; i++ {
		if !strings.HasSuffix(parts[i], ".") {
			parts[i] += "."
		}
	}
	return parts
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

// splitAtRune cuts s after n runes.
func splitAtRune(s string, n int) (string, string) {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], s[pos:]
		}
		i++
	}
	return s, ""
}
