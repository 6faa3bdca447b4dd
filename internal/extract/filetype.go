package extract

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/hyperjump/pravo/internal/models"
)

// ErrUnsupportedType is returned for files outside the closed set of formats.
var ErrUnsupportedType = errors.New("unsupported file type")

var extensionTypes = map[string]models.FileType{
	".pdf":  models.FileTypePDF,
	".html": models.FileTypeHTML,
	".htm":  models.FileTypeHTML,
	".docx": models.FileTypeDOCX,
	".txt":  models.FileTypePlainText,
}

// sniffTypes lists MIME types with a reliable signature.
var sniffTypes = []struct {
	mime string
	ft   models.FileType
}{
	{"application/pdf", models.FileTypePDF},
	{"application/vnd.openxmlformats-officedocument.wordprocessingml.document", models.FileTypeDOCX},
	{"text/html", models.FileTypeHTML},
}

// DetectType resolves the file type from the declared extension and the content.
// A reliable content signature (PDF, DOCX, HTML) overrides the extension; files
// without a known extension are accepted only when sniffing recognises them.
func DetectType(path string, head []byte) (models.FileType, error) {
	declared, known := extensionTypes[strings.ToLower(filepath.Ext(path))]
	if len(head) == 0 {
		if known {
			return declared, nil
		}
		return "", unsupported(path, "empty file without a known extension")
	}
	mt := mimetype.Detect(head)
	for m := mt; m != nil; m = m.Parent() {
		for _, st := range sniffTypes {
			if m.Is(st.mime) {
				return st.ft, nil
			}
		}
	}
	if known {
		return declared, nil
	}
	if mt.Is("text/plain") {
		return models.FileTypePlainText, nil
	}
	return "", unsupported(path, mt.String())
}

func unsupported(path, what string) error {
	return &typeError{path: path, what: what}
}

type typeError struct {
	path string
	what string
}

func (e *typeError) Error() string {
	return "unsupported file type for " + e.path + ": " + e.what
}

func (e *typeError) Unwrap() error { return ErrUnsupportedType }
