package extract

import (
	"bytes"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// legacyEncodings are probed in priority order when the bytes are not UTF-8.
var legacyEncodings = []struct {
	name string
	enc  encoding.Encoding
}{
	{"windows-1251", charmap.Windows1251},
	{"cp866", charmap.CodePage866},
	{"koi8-u", charmap.KOI8U},
}

// minLegacyScore is the plausibility a legacy decoding needs to be accepted.
const minLegacyScore = 0.6

// extractPlain decodes plain text: UTF-8 with BOM, UTF-8, then the legacy
// Cyrillic code pages in priority order. When nothing decodes plausibly the
// bytes are read as UTF-8 with invalid sequences replaced.
func extractPlain(content []byte) (*Content, error) {
	text, enc := decodeText(content)
	return &Content{Text: text, Encoding: enc}, nil
}

func decodeText(content []byte) (string, string) {
	if bytes.HasPrefix(content, utf8BOM) {
		return string(bytes.ToValidUTF8(content[len(utf8BOM):], []byte("�"))), "utf-8-sig"
	}
	if utf8.Valid(content) {
		return string(content), "utf-8"
	}
	bestScore := minLegacyScore
	bestText, bestName := "", ""
	for _, le := range legacyEncodings {
		decoded, err := le.enc.NewDecoder().Bytes(content)
		if err != nil {
			continue
		}
		text := string(decoded)
		if score := plausibility(text); score > bestScore {
			bestScore, bestText, bestName = score, text, le.name
		}
	}
	if bestName != "" {
		return bestText, bestName
	}
	return strings.ToValidUTF8(string(content), "�"), "utf-8-replaced"
}

// plausibility scores how much text looks like natural Ukrainian or Russian prose:
// the share of letters among visible runes, penalised for pseudo-graphics and
// control characters, plus a bonus for lowercase Cyrillic (legal text is mostly
// lowercase, a mis-decoded page flips case).
func plausibility(text string) float64 {
	var visible, letters, suspicious, cyr, cyrLower int
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		visible++
		switch {
		case unicode.Is(unicode.Cyrillic, r):
			letters++
			cyr++
			if unicode.IsLower(r) {
				cyrLower++
			}
		case unicode.IsLetter(r):
			letters++
		case unicode.IsDigit(r), unicode.IsPunct(r):
		case r >= 0x2500 && r <= 0x259F, unicode.IsControl(r), r == utf8.RuneError:
			suspicious++
		}
	}
	if visible == 0 {
		return 0
	}
	score := float64(letters-2*suspicious) / float64(visible)
	if cyr > 0 {
		score += 0.5 * float64(cyrLower) / float64(cyr)
	}
	return score
}
