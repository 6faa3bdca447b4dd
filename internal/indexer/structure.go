package indexer

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// segment is a contiguous byte range of the text with its section path.
type segment struct {
	start, end int
	path       []string
}

type headingRule struct {
	level int
	name  string
	re    *regexp.Regexp
}

// headingRules recognise structural headings at line start, coarsest first.
var headingRules = []headingRule{
	{1, "Розділ", regexp.MustCompile(`^(?:Розділ|РОЗДІЛ)\s+([IVXLCDMІХ]+|\d+)(?:$|[^\p{L}\p{N}])`)},
	{2, "Глава", regexp.MustCompile(`^(?:Глава|ГЛАВА)\s+([IVXLCDMІХ]+|\d+)(?:$|[^\p{L}\p{N}])`)},
	{3, "Стаття", regexp.MustCompile(`^(?:Стаття|СТАТТЯ)\s+(\d+(?:[-–.]\d+)*)(?:$|[^\p{L}\p{N}])`)},
	{4, "Частина", regexp.MustCompile(`^(?:Частина|ЧАСТИНА)\s+([\p{L}\p{N}'’]+)\.?$`)},
}

// pointRe matches numbered parts ("1.") and points ("1)") of an article.
var pointRe = regexp.MustCompile(`^(\d{1,3})([.)])\s+\S`)

// titleMaxLen bounds the single title line a heading may carry before it counts as body.
const titleMaxLen = 120

type heading struct {
	level int
	label string
}

type boundary struct {
	pos       int
	path      []string
	isHeading bool
	bodyFrom  int // first byte after the heading label
}

// splitStructure cuts text at every structural heading. Headings without body merge
// into the following segment; text before the first heading is a preamble with an
// empty path. The segments cover text without gaps.
func splitStructure(text string) []segment {
	var (
		bounds []boundary
		stack  []heading
	)
	for pos := 0; pos < len(text); {
		lineEnd := strings.IndexByte(text[pos:], '\n')
		if lineEnd < 0 {
			lineEnd = len(text)
		} else {
			lineEnd += pos
		}
		line := text[pos:lineEnd]
		indent := len(line) - len(strings.TrimLeftFunc(line, unicode.IsSpace))
		if h, n, ok := matchHeading(strings.TrimSpace(line)); ok {
			for len(stack) > 0 && stack[len(stack)-1].level >= h.level {
				stack = stack[:len(stack)-1]
			}
			stack = append(stack, h)
			path := make([]string, len(stack))
			for i, s := range stack {
				path[i] = s.label
			}
			if len(bounds) == 0 && pos > 0 {
				bounds = append(bounds, boundary{pos: 0})
			}
			bounds = append(bounds, boundary{pos: pos, path: path, isHeading: true, bodyFrom: pos + indent + n})
		}
		pos = lineEnd + 1
	}
	if len(bounds) == 0 {
		return []segment{{start: 0, end: len(text)}}
	}

	segs := make([]segment, 0, len(bounds))
	carry := -1
	for i, b := range bounds {
		end := len(text)
		if i+1 < len(bounds) {
			end = bounds[i+1].pos
		}
		start := b.pos
		if carry >= 0 {
			start, carry = carry, -1
		}
		bodyFrom := b.pos
		if b.isHeading {
			bodyFrom = b.bodyFrom
		}
		if i+1 < len(bounds) && !hasBody(text[bodyFrom:end], b.isHeading) {
			carry = start
			continue
		}
		segs = append(segs, segment{start: start, end: end, path: b.path})
	}
	return segs
}

// matchHeading returns the heading at the start of line and the byte length of its label.
func matchHeading(line string) (heading, int, bool) {
	for _, r := range headingRules {
		if m := r.re.FindStringSubmatchIndex(line); m != nil {
			return heading{level: r.level, label: r.name + " " + line[m[2]:m[3]]}, m[3], true
		}
	}
	return heading{}, 0, false
}

// hasBody reports whether the text after a heading label holds more than an
// optional short title. Any non-blank preamble counts as body.
func hasBody(s string, isHeading bool) bool {
	var nonEmpty []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimLeft(strings.TrimSpace(l), ".:-–— "); l != "" {
			nonEmpty = append(nonEmpty, l)
		}
	}
	switch {
	case len(nonEmpty) == 0:
		return false
	case !isHeading || len(nonEmpty) > 1:
		return true
	}
	title := nonEmpty[0]
	last, _ := utf8.DecodeLastRuneInString(title)
	return utf8.RuneCountInString(title) > titleMaxLen || strings.ContainsRune(sentenceEnds, last)
}

// splitPoints cuts seg at numbered part and point lines. The points extend the
// segment's path ("частина 2", "пункт 3").
func splitPoints(text string, seg segment) []segment {
	var out []segment
	cur := segment{start: seg.start, path: seg.path}
	first := true
	for pos := seg.start; pos < seg.end; {
		lineEnd := strings.IndexByte(text[pos:seg.end], '\n')
		if lineEnd < 0 {
			lineEnd = seg.end
		} else {
			lineEnd += pos
		}
		m := pointRe.FindStringSubmatch(strings.TrimLeftFunc(text[pos:lineEnd], unicode.IsSpace))
		if m != nil && !first && pos > cur.start {
			cur.end = pos
			out = append(out, cur)
			cur = segment{start: pos, path: appendPath(seg.path, pointLabel(m[1], m[2]))}
		} else if m != nil && pos == cur.start {
			cur.path = appendPath(seg.path, pointLabel(m[1], m[2]))
		}
		first = false
		pos = lineEnd + 1
	}
	cur.end = seg.end
	return append(out, cur)
}

func pointLabel(num, mark string) string {
	if mark == ")" {
		return "пункт " + num
	}
	return "частина " + num
}

func appendPath(path []string, label string) []string {
	out := make([]string, len(path), len(path)+1)
	copy(out, path)
	return append(out, label)
}

const sentenceEnds = ".!?…;:"

// splitSentences returns [start, end) byte ranges of the sentences in text[start:end].
// A sentence ends after terminal punctuation followed by whitespace that contains a
// newline or precedes a capital letter, digit or opening quote, or at a blank line.
// Trailing whitespace stays with the sentence it follows.
func splitSentences(text string, start, end int) [][2]int {
	var out [][2]int
	from := start
	for i := start; i < end; {
		r, size := utf8.DecodeRuneInString(text[i:end])
		if !unicode.IsSpace(r) {
			i += size
			continue
		}
		j, newlines := i, 0
		for j < end {
			r2, s2 := utf8.DecodeRuneInString(text[j:end])
			if !unicode.IsSpace(r2) {
				break
			}
			if r2 == '\n' {
				newlines++
			}
			j += s2
		}
		if j < end && i > from && sentenceBreak(text[from:i], text[j:end], newlines) {
			out = append(out, [2]int{from, j})
			from = j
		}
		i = j
	}
	if from < end {
		out = append(out, [2]int{from, end})
	}
	return out
}

func sentenceBreak(before, after string, newlines int) bool {
	if newlines >= 2 {
		return true
	}
	last, _ := utf8.DecodeLastRuneInString(before)
	if !strings.ContainsRune(sentenceEnds, last) {
		return false
	}
	if newlines == 1 {
		return true
	}
	next, _ := utf8.DecodeRuneInString(after)
	return unicode.IsUpper(next) || unicode.IsDigit(next) || strings.ContainsRune("«\"(„“", next)
}
