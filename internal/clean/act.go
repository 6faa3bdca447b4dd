package clean

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// headerWindow and footerWindow bound where act attributes are searched. Laws carry
// their number and date in the signature block at the end.
const (
	headerWindow = 2000
	footerWindow = 500
)

// Act holds the attributes of a legal act found in its header.
type Act struct {
	Number    string
	Date      string // YYYY-MM-DD
	Authority string
}

var (
	actNumberRe = regexp.MustCompile(`(?:№|\bN)\s*(\d[\p{L}\p{N}/\-–]*)`)
	dateWordsRe = regexp.MustCompile(`(?i)\b(\d{1,2})\s+(січня|лютого|березня|квітня|травня|червня|липня|серпня|вересня|жовтня|листопада|грудня)\s+(\d{4})`)
	dateDotsRe  = regexp.MustCompile(`\b(\d{1,2})\.(\d{1,2})\.(\d{4})\b`)
	ministryRe  = regexp.MustCompile(`(?i)міністерство(\s+[\p{L}'’-]+){1,8}?\s+україни`)
	// citationRe marks publication references and editorial notes, whose numbers and
	// dates belong to other acts.
	citationRe = regexp.MustCompile(`(?i)^[({]|ввр|відомості верховної ради|офіційний вісник`)
)

var months = map[string]time.Month{
	"січня": time.January, "лютого": time.February, "березня": time.March,
	"квітня": time.April, "травня": time.May, "червня": time.June,
	"липня": time.July, "серпня": time.August, "вересня": time.September,
	"жовтня": time.October, "листопада": time.November, "грудня": time.December,
}

// authorities maps a lowercase marker to the canonical issuing-body name.
var authorities = []struct{ marker, name string }{
	{"верховна рада україни", "Верховна Рада України"},
	{"кабінет міністрів україни", "Кабінет Міністрів України"},
	{"президент україни", "Президент України"},
	{"указ президента україни", "Президент України"},
	{"національний банк україни", "Національний банк України"},
	{"конституційний суд україни", "Конституційний Суд України"},
	{"верховний суд", "Верховний Суд"},
	{"центральна виборча комісія", "Центральна виборча комісія"},
	{"закон україни", "Верховна Рада України"},
	{"кодекс україни", "Верховна Рада України"},
}

// DetectAct looks for the act number, adoption date and issuing authority near the
// beginning of text, falling back to its end for the number and date. Citations of
// other acts are ignored. Missing attributes are left empty.
func DetectAct(text string) Act {
	r := []rune(text)
	head, tail := text, ""
	if len(r) > headerWindow {
		head = string(r[:headerWindow])
	}
	if len(r) > footerWindow {
		tail = string(r[len(r)-footerWindow:])
	}
	head, tail = ownLines(head), ownLines(tail)

	act := Act{
		Number:    detectNumber(head),
		Date:      detectDate(head),
		Authority: detectAuthority(head),
	}
	if act.Number == "" {
		act.Number = detectNumber(tail)
	}
	if act.Date == "" {
		act.Date = detectDate(tail)
	}
	return act
}

// ownLines drops citation lines from s.
func ownLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if !citationRe.MatchString(strings.TrimSpace(l)) {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

func detectNumber(s string) string {
	if m := actNumberRe.FindStringSubmatch(s); m != nil {
		return strings.TrimRight(m[1], ".-–/")
	}
	return ""
}

type dateMatch struct {
	pos     int
	d, m, y int
}

// detectDate returns the earliest valid date in s as YYYY-MM-DD.
func detectDate(s string) string {
	var found []dateMatch
	for _, m := range dateWordsRe.FindAllStringSubmatchIndex(s, -1) {
		d, _ := strconv.Atoi(s[m[2]:m[3]])
		y, _ := strconv.Atoi(s[m[6]:m[7]])
		found = append(found, dateMatch{m[0], d, int(months[strings.ToLower(s[m[4]:m[5]])]), y})
	}
	for _, m := range dateDotsRe.FindAllStringSubmatchIndex(s, -1) {
		d, _ := strconv.Atoi(s[m[2]:m[3]])
		mo, _ := strconv.Atoi(s[m[4]:m[5]])
		y, _ := strconv.Atoi(s[m[6]:m[7]])
		found = append(found, dateMatch{m[0], d, mo, y})
	}
	best, bestPos := "", len(s)+1
	for _, c := range found {
		if c.pos >= bestPos || !validDate(c) {
			continue
		}
		best, bestPos = fmt.Sprintf("%04d-%02d-%02d", c.y, c.m, c.d), c.pos
	}
	return best
}

func validDate(c dateMatch) bool {
	if c.y < 1900 || c.m < 1 || c.m > 12 {
		return false
	}
	t := time.Date(c.y, time.Month(c.m), c.d, 0, 0, 0, 0, time.UTC)
	return t.Day() == c.d && int(t.Month()) == c.m
}

// detectAuthority returns the issuing body mentioned first in head.
func detectAuthority(head string) string {
	lower := strings.ToLower(head)
	best, bestPos := "", -1
	for _, a := range authorities {
		if i := strings.Index(lower, a.marker); i >= 0 && (bestPos < 0 || i < bestPos) {
			best, bestPos = a.name, i
		}
	}
	if loc := ministryRe.FindStringIndex(head); loc != nil && (bestPos < 0 || loc[0] < bestPos) {
		best = strings.Join(strings.Fields(head[loc[0]:loc[1]]), " ")
	}
	return best
}
