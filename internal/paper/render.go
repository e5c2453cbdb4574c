package paper

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/Adam5421/SmartAIExam/internal/apperr"
	"github.com/Adam5421/SmartAIExam/internal/question"
)

const (
	FormatTXT  = "txt"
	FormatDOCX = "docx"
	FormatPDF  = "pdf"

	nameLine = "Name: _______________  Score: _______"
)

type Document struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Render produces the paper in format, appending the answer key when includeAnswers is set.
func Render(p *Paper, format string, includeAnswers bool) (*Document, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = FormatDOCX
	}
	switch format {
	case FormatTXT:
		return &Document{
			Filename:    fmt.Sprintf("exam_paper_%d.txt", p.ID),
			ContentType: "text/plain; charset=utf-8",
			Data:        renderTXT(p, includeAnswers),
		}, nil
	case FormatDOCX:
		data, err := renderDOCX(p, includeAnswers)
		if err != nil {
			return nil, err
		}
		return &Document{
			Filename:    fmt.Sprintf("exam_paper_%d.docx", p.ID),
			ContentType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			Data:        data,
		}, nil
	case FormatPDF:
		return nil, fmt.Errorf("%w: pdf rendering is not configured", apperr.ErrUnsupported)
	default:
		return nil, fmt.Errorf("%w: unsupported format %q, use docx, pdf or txt", apperr.ErrValidation, format)
	}
}

func hasOptions(q SnapshotQuestion) bool {
	return question.RequiresOptions(q.QType) && len(q.Options) > 0
}

func answerOf(q SnapshotQuestion) string {
	if q.Answer == nil || strings.TrimSpace(*q.Answer) == "" {
		return "N/A"
	}
	return *q.Answer
}

func analysisOf(q SnapshotQuestion) string {
	if q.Analysis == nil {
		return ""
	}
	return strings.TrimSpace(*q.Analysis)
}

func renderTXT(p *Paper, includeAnswers bool) []byte {
	rule := strings.Repeat("-", 60)
	lines := []string{p.Title, "", nameLine, "", rule, ""}
	for _, q := range p.QuestionsSnapshot {
		lines = append(lines, fmt.Sprintf("%d. [%s] %s", q.Number, q.QType, q.Content))
		if hasOptions(q) {
			for _, opt := range q.Options {
				lines = append(lines, "   - "+opt)
			}
		}
		lines = append(lines, "")
	}
	if includeAnswers {
		lines = append(lines, "", "Answer Key", rule)
		for _, q := range p.QuestionsSnapshot {
			lines = append(lines, fmt.Sprintf("%d. %s", q.Number, answerOf(q)))
			if a := analysisOf(q); a != "" {
				lines = append(lines, "   Analysis: "+a)
			}
		}
	}
	return []byte(strings.Join(lines, "\n"))
}

const (
	docxContentTypes = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
<Default Extension="xml" ContentType="application/xml"/>
<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`
	docxRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
</Relationships>`
)

type docxWriter struct {
	body strings.Builder
}

func (d *docxWriter) paragraph(text string, bold, center bool, size int) {
	d.body.WriteString("<w:p>")
	if center {
		d.body.WriteString(`<w:pPr><w:jc w:val="center"/></w:pPr>`)
	}
	d.body.WriteString("<w:r>")
	if bold || size > 0 {
		d.body.WriteString("<w:rPr>")
		if bold {
			d.body.WriteString("<w:b/>")
		}
		if size > 0 {
			fmt.Fprintf(&d.body, `<w:sz w:val="%d"/>`, size*2)
		}
		d.body.WriteString("</w:rPr>")
	}
	d.body.WriteString(`<w:t xml:space="preserve">`)
	_ = xml.EscapeText(&d.body, []byte(text))
	d.body.WriteString("</w:t></w:r></w:p>")
}

func (d *docxWriter) pageBreak() {
	d.body.WriteString(`<w:p><w:r><w:br w:type="page"/></w:r></w:p>`)
}

// renderDOCX writes a minimal WordprocessingML package.
func renderDOCX(p *Paper, includeAnswers bool) ([]byte, error) {
	var d docxWriter
	d.paragraph(p.Title, true, true, 18)
	d.paragraph(nameLine, false, true, 0)
	d.paragraph(strings.Repeat("-", 80), false, false, 0)
	for _, q := range p.QuestionsSnapshot {
		d.paragraph(fmt.Sprintf("%d. [%s] %s", q.Number, q.QType, q.Content), true, false, 11)
		if hasOptions(q) {
			for _, opt := range q.Options {
				d.paragraph("    • "+opt, false, false, 0)
			}
		}
		if q.QType == question.TypeEssay {
			for i := 0; i < 5; i++ {
				d.paragraph("", false, false, 0)
			}
		}
		d.paragraph("", false, false, 0)
	}
	if includeAnswers {
		d.pageBreak()
		d.paragraph("Answer Key", true, false, 14)
		for _, q := range p.QuestionsSnapshot {
			d.paragraph(fmt.Sprintf("%d. %s", q.Number, answerOf(q)), false, false, 0)
			if a := analysisOf(q); a != "" {
				d.paragraph("   Analysis: "+a, false, false, 0)
			}
		}
	}

	document := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		d.body.String() + `</w:body></w:document>`

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	parts := []struct{ name, content string }{
		{"[Content_Types].xml", docxContentTypes},
		{"_rels/.rels", docxRels},
		{"word/document.xml", document},
	}
	for _, part := range parts {
		w, err := zw.Create(part.name)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", part.name, err)
		}
		if _, err := w.Write([]byte(part.content)); err != nil {
			return nil, fmt.Errorf("write %s: %w", part.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close docx: %w", err)
	}
	return buf.Bytes(), nil
}
