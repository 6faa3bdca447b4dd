// Package clean strips layout noise from extracted legal-act text and separates the
// trailing reference block. Clean is a pure function of its input.
package clean

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/pravo/internal/models"
)

// Metadata keys written by Result.Apply.
const (
	MetaOriginalLength   = "original_length"
	MetaCleanedLength    = "cleaned_length"
	MetaReductionChars   = "reduction_chars"
	MetaReductionPercent = "reduction_percent"
	MetaRemovedLines     = "removed_lines"
)

// referenceTail is the share of the text, counted from the end, where a trailing
// reference block may start.
const referenceTail = 0.4

// maxHeaderLen bounds the lines treated as running headers or duplicate headings.
const maxHeaderLen = 150

var (
	pageNumberLines = []*regexp.Regexp{
		regexp.MustCompile(`^\d+$`),
		regexp.MustCompile(`^-\s*\d+\s*-$`),
		regexp.MustCompile(`(?i)^(сторінка|стор\.)\s*\d+(\s*(з|із)\s*\d+)?$`),
		regexp.MustCompile(`(?i)^page\s+\d+(\s+of\s+\d+)?$`),
	}
	inlineFooters = []*regexp.Regexp{
		regexp.MustCompile(`(?i)сторінка\s+\d+\s+з\s+\d+`),
		regexp.MustCompile(`(?i)page\s+\d+\s+of\s+\d+`),
	}
	headerLines = []*regexp.Regexp{
		regexp.MustCompile(`(?i)верховна рада`),
		regexp.MustCompile(`(?i)кабінет міністрів`),
		regexp.MustCompile(`(?i)офіційний вісник`),
		regexp.MustCompile(`(?i)zakon\.rada\.gov\.ua`),
	}
	referenceStart = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^(відомості|інформація|довідка)\s(.*\s)?про\s.*змін`),
		regexp.MustCompile(`(?i)^\{.*втратив.*чинність`),
		regexp.MustCompile(`(?i)^\{.*внесення змін`),
		regexp.MustCompile(`^\(?(Відомості Верховної Ради( України)?( \(ВВР\))?|ВВР),?\s*\d{4}`),
		regexp.MustCompile(`^\(?Офіційний вісник України`),
	}
	redactionNote = regexp.MustCompile(`(?i)^\{.*(змін|редакці)`)
	structural    = regexp.MustCompile(`^(Розділ|РОЗДІЛ|Стаття|Частина|Глава|ГЛАВА)\s`)

	blankRuns = regexp.MustCompile(`\n{3,}`)
	spaceRuns = regexp.MustCompile(`[ \t\v\x{00A0}]+`)
)

// Result is the cleaned text with what was separated from it.
type Result struct {
	Text           string
	ReferenceBlock string
	ActNumber      string
	Date           string // YYYY-MM-DD
	Authority      string
	Metadata       map[string]interface{}
}

// Clean normalizes line endings and whitespace, drops page numbers, running headers
// and repeated heading lines, and moves the reference block out of the text.
func Clean(text string) Result {
	normalized := normalizeNewlines(text)
	lines := strings.Split(normalized, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(spaceRuns.ReplaceAllString(l, " "))
	}

	kept, removed := dropNoise(lines)
	body, reference := splitReference(kept)

	cleaned := strings.TrimSpace(blankRuns.ReplaceAllString(strings.Join(body, "\n"), "\n\n"))
	reference = strings.TrimSpace(blankRuns.ReplaceAllString(reference, "\n\n"))

	origLen := utf8.RuneCountInString(text)
	cleanLen := utf8.RuneCountInString(cleaned)
	reduction := origLen - cleanLen
	percent := 0.0
	if origLen > 0 {
		percent = math.Round(float64(reduction)/float64(origLen)*10000) / 100
	}
	act := DetectAct(cleaned)
	return Result{
		Text:           cleaned,
		ReferenceBlock: reference,
		ActNumber:      act.Number,
		Date:           act.Date,
		Authority:      act.Authority,
		Metadata: map[string]interface{}{
			MetaOriginalLength:   origLen,
			MetaCleanedLength:    cleanLen,
			MetaReductionChars:   reduction,
			MetaReductionPercent: percent,
			MetaRemovedLines:     removed,
		},
	}
}

// Apply copies the cleaning outcome onto doc. Act fields already set on doc win.
func (r Result) Apply(doc *models.Document) {
	doc.ReferenceBlock = r.ReferenceBlock
	if doc.ActNumber == "" {
		doc.ActNumber = r.ActNumber
	}
	if doc.Date == "" {
		doc.Date = r.Date
	}
	if doc.Authority == "" {
		doc.Authority = r.Authority
	}
	for k, v := range r.Metadata {
		doc.SetMeta(k, v)
	}
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.ReplaceAll(s, "\f", "\n\n")
}

// dropNoise removes page numbers, repeated running headers and consecutive duplicate
// lines. Blank lines are kept so paragraph structure survives.
func dropNoise(lines []string) ([]string, int) {
	kept := make([]string, 0, len(lines))
	seenHeaders := make(map[string]bool)
	lastNonBlank := ""
	removed := 0
	for _, line := range lines {
		if line == "" {
			kept = append(kept, line)
			continue
		}
		if matchesAny(pageNumberLines, line) {
			removed++
			continue
		}
		for _, re := range inlineFooters {
			line = strings.TrimSpace(re.ReplaceAllString(line, ""))
		}
		if line == "" {
			removed++
			continue
		}
		short := utf8.RuneCountInString(line) <= maxHeaderLen
		if short && matchesAny(headerLines, line) {
			key := strings.ToLower(line)
			if seenHeaders[key] {
				removed++
				continue
			}
			seenHeaders[key] = true
		}
		if short && line == lastNonBlank {
			removed++
			continue
		}
		kept = append(kept, line)
		lastNonBlank = line
	}
	return kept, removed
}

// splitReference moves the leading redaction note and trailing reference blocks out
// of lines. A trailing block starts in the last part of the text and runs until a
// blank line followed by a structural heading, or to the end.
func splitReference(lines []string) ([]string, string) {
	var refs []string
	if i, j, ok := leadingNote(lines); ok {
		refs = append(refs, strings.Join(lines[i:j], "\n"))
		lines = append(lines[:i:i], lines[j:]...)
	}

	total := 0
	offsets := make([]int, len(lines))
	for i, l := range lines {
		offsets[i] = total
		total += utf8.RuneCountInString(l) + 1
	}
	tailFrom := int(float64(total) * (1 - referenceTail))

	body := make([]string, 0, len(lines))
	for i := 0; i < len(lines); i++ {
		if offsets[i] < tailFrom || !matchesAny(referenceStart, lines[i]) {
			body = append(body, lines[i])
			continue
		}
		end := referenceEnd(lines, i)
		refs = append(refs, strings.Join(lines[i:end], "\n"))
		i = end - 1
	}
	return body, strings.Join(refs, "\n\n")
}

// leadingNote finds a "{Із змінами, внесеними ...}" note among the first lines.
func leadingNote(lines []string) (int, int, bool) {
	const window = 30
	for i := 0; i < len(lines) && i < window; i++ {
		if !redactionNote.MatchString(lines[i]) {
			continue
		}
		for j := i; j < len(lines); j++ {
			if strings.Contains(lines[j], "}") {
				return i, j + 1, true
			}
			if lines[j] == "" {
				break
			}
		}
		return 0, 0, false
	}
	return 0, 0, false
}

func referenceEnd(lines []string, start int) int {
	for j := start + 1; j < len(lines); j++ {
		if lines[j] != "" {
			continue
		}
		k := j + 1
		for k < len(lines) && lines[k] == "" {
			k++
		}
		if k < len(lines) && structural.MatchString(lines[k]) {
			return j
		}
	}
	return len(lines)
}

func matchesAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
