package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
)

// docxDocumentXMLPath is the default path to the main document body inside a .docx zip.
const docxDocumentXMLPath = "word/document.xml"

// contentTypesPath is the path to [Content_Types].xml in OOXML packages.
const contentTypesPath = "[Content_Types].xml"

const docxCorePath = "docProps/core.xml"

// docxMainContentType is the content type for the main document in DOCX files.
const docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"

var (
	// paragraphRe matches one <w:p ...>...</w:p> element (not <w:pPr>).
	paragraphRe = regexp.MustCompile(`(?s)<w:p(?:\s[^>]*)?>.*?</w:p>`)
	// paraPropsRe matches paragraph properties, whose tab stops are not content.
	paraPropsRe = regexp.MustCompile(`(?s)<w:pPr>.*?</w:pPr>`)
	// runPartRe matches text nodes plus tab and break elements inside a paragraph.
	runPartRe = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>|<w:(tab|br|cr)(?:\s[^>]*)?/>`)

	// partNameRe extracts PartName from Override elements in [Content_Types].xml.
	partNameRe = regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"`)
	// partNameRe2 handles the case where ContentType appears before PartName.
	partNameRe2 = regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"[^>]+PartName="([^"]+)"`)

	coreTitleRe   = regexp.MustCompile(`(?s)<dc:title>(.*?)</dc:title>`)
	coreCreatorRe = regexp.MustCompile(`(?s)<dc:creator>(.*?)</dc:creator>`)
)

// findDocxMainDocumentPath finds the main document path from [Content_Types].xml.
// Returns the path without leading slash, or empty string if not found.
func findDocxMainDocumentPath(zr *zip.Reader) string {
	content, err := readZipFile(zr, contentTypesPath)
	if err != nil {
		return ""
	}
	if matches := partNameRe.FindSubmatch(content); len(matches) > 1 {
		return strings.TrimPrefix(string(matches[1]), "/")
	}
	if matches := partNameRe2.FindSubmatch(content); len(matches) > 1 {
		return strings.TrimPrefix(string(matches[1]), "/")
	}
	return ""
}

func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%s not found", name)
}

// extractDOCX extracts text from .docx bytes, one line per paragraph. Runs inside
// a paragraph are concatenated as-is because Word splits words across runs.
func extractDOCX(content []byte) (*Content, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("extract DOCX: not a zip: %w", err)
	}

	docPath := findDocxMainDocumentPath(zr)
	if docPath == "" {
		docPath = docxDocumentXMLPath
	}
	docXML, err := readZipFile(zr, docPath)
	if err != nil {
		return nil, fmt.Errorf("extract DOCX: %w", err)
	}

	var b strings.Builder
	for _, para := range paragraphRe.FindAll(docXML, -1) {
		var line strings.Builder
		para = paraPropsRe.ReplaceAll(para, nil)
		for _, part := range runPartRe.FindAllSubmatch(para, -1) {
			switch string(part[2]) {
			case "tab":
				line.WriteByte('\t')
			case "br", "cr":
				line.WriteByte('\n')
			default:
				line.WriteString(html.UnescapeString(string(part[1])))
			}
		}
		b.WriteString(strings.TrimRight(line.String(), " \t"))
		b.WriteByte('\n')
	}

	c := &Content{Text: strings.TrimSpace(b.String())}
	if core, err := readZipFile(zr, docxCorePath); err == nil {
		if m := coreTitleRe.FindSubmatch(core); len(m) > 1 {
			c.Title = strings.TrimSpace(html.UnescapeString(string(m[1])))
		}
		if m := coreCreatorRe.FindSubmatch(core); len(m) > 1 {
			c.Author = strings.TrimSpace(html.UnescapeString(string(m[1])))
		}
	}
	return c, nil
}
