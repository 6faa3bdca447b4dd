package extract

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"
)

// skipped elements contribute no text.
var htmlSkip = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Svg:      true,
	atom.Iframe:   true,
	atom.Head:     true,
}

// block elements end the current line.
var htmlBlock = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Ul: true, atom.Ol: true,
	atom.Tr: true, atom.Table: true, atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true,
	atom.H5: true, atom.H6: true, atom.Section: true, atom.Article: true, atom.Blockquote: true,
	atom.Pre: true, atom.Hr: true, atom.Dd: true, atom.Dt: true, atom.Header: true, atom.Footer: true,
}

// extractHTML returns the visible text of an HTML page, one line per block element.
func extractHTML(content []byte) (*Content, error) {
	enc, name, _ := charset.DetermineEncoding(content, "text/html")
	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(content), enc.NewDecoder()))
	if err != nil {
		return nil, fmt.Errorf("decode HTML (%s): %w", name, err)
	}

	z := html.NewTokenizer(bytes.NewReader(decoded))
	c := &Content{Encoding: name}
	var (
		b       strings.Builder
		line    strings.Builder
		skip    int
		inTitle bool
		inH1    bool
		title   strings.Builder
		firstH1 strings.Builder
		seenH1  bool
	)
	flush := func() {
		text := strings.Join(strings.Fields(line.String()), " ")
		line.Reset()
		if text != "" {
			b.WriteString(text)
			b.WriteByte('\n')
		}
	}
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() != io.EOF {
				return nil, fmt.Errorf("parse HTML: %w", z.Err())
			}
			flush()
			c.Text = strings.TrimSpace(b.String())
			c.Title = strings.Join(strings.Fields(title.String()), " ")
			if c.Title == "" {
				c.Title = strings.Join(strings.Fields(firstH1.String()), " ")
			}
			return c, nil
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch {
			case tok.DataAtom == atom.Title:
				inTitle = tt == html.StartTagToken
			case tok.DataAtom == atom.Link && attr(tok, "rel") == "canonical":
				c.URL = attr(tok, "href")
			case tok.DataAtom == atom.Meta && attr(tok, "property") == "og:url" && c.URL == "":
				c.URL = attr(tok, "content")
			case htmlSkip[tok.DataAtom] && tt == html.StartTagToken:
				skip++
			}
			if tok.DataAtom == atom.H1 && !seenH1 {
				inH1 = true
			}
			if htmlBlock[tok.DataAtom] {
				flush()
			}
		case html.EndTagToken:
			tok := z.Token()
			switch {
			case tok.DataAtom == atom.Title:
				inTitle = false
			case htmlSkip[tok.DataAtom] && skip > 0:
				skip--
			}
			if tok.DataAtom == atom.H1 && inH1 {
				inH1 = false
				seenH1 = true
			}
			if htmlBlock[tok.DataAtom] {
				flush()
			}
		case html.TextToken:
			text := string(z.Text())
			if inTitle {
				title.WriteString(text)
				continue
			}
			if skip > 0 {
				continue
			}
			if inH1 {
				firstH1.WriteString(text)
			}
			line.WriteString(text)
		}
	}
}

func attr(tok html.Token, key string) string {
	for _, a := range tok.Attr {
		if strings.EqualFold(a.Key, key) {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}
