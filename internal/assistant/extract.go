package assistant

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/Adam5421/SmartAIExam/internal/apperr"

	"github.com/ledongthuc/pdf"
)

const docxBodyPart = "word/document.xml"

func isPDF(b []byte) bool {
	return len(b) >= 5 && string(b[:5]) == "%PDF-"
}

func isZip(b []byte) bool {
	return len(b) >= 4 && b[0] == 'P' && b[1] == 'K' && b[2] == 3 && b[3] == 4
}

// extractPDF returns the text layer of every page. The reader panics on some
// malformed object graphs, so those are reported as invalid files.
func extractPDF(data []byte) (text string, err error) {
	if !isPDF(data) {
		return "", fmt.Errorf("%w: file is not a PDF document", apperr.ErrValidation)
	}
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("%w: unreadable PDF: %v", apperr.ErrValidation, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: pdf reader: %v", apperr.ErrValidation, err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: pdf text: %v", apperr.ErrValidation, err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("pdf read: %w", err)
	}
	return cleanExtracted(string(b)), nil
}

// extractDOCX reads the runs of word/document.xml, one line per paragraph.
func extractDOCX(data []byte) (string, error) {
	if !isZip(data) {
		return "", fmt.Errorf("%w: file is not a DOCX document", apperr.ErrValidation)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: docx container: %v", apperr.ErrValidation, err)
	}
	var body *zip.File
	for _, f := range zr.File {
		if f.Name == docxBodyPart {
			body = f
			break
		}
	}
	if body == nil {
		return "", fmt.Errorf("%w: docx has no %s", apperr.ErrValidation, docxBodyPart)
	}
	rc, err := body.Open()
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %v", apperr.ErrValidation, docxBodyPart, err)
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	var out strings.Builder
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: docx xml: %v", apperr.ErrValidation, err)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "t":
				var v string
				if err := dec.DecodeElement(&v, &el); err != nil {
					return "", fmt.Errorf("%w: docx text run: %v", apperr.ErrValidation, err)
				}
				out.WriteString(v)
			case "tab":
				out.WriteByte(' ')
			case "br":
				out.WriteByte('\n')
			}
		case xml.EndElement:
			if el.Name.Local == "p" {
				out.WriteByte('\n')
			}
		}
	}
	return cleanExtracted(out.String()), nil
}

// cleanExtracted collapses spaces within lines and drops blank lines.
func cleanExtracted(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
