package ingest

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/kalambet/rehearse/internal/interview"
)

// MaxResumeBytes bounds an uploaded résumé.
const MaxResumeBytes = 10 << 20 // 10MB

// MaxResumeChars bounds the extracted text stored on the profile.
const MaxResumeChars = 20000

var pdfMagic = []byte("%PDF-")

var (
	blankRunRe = regexp.MustCompile(`[ \t\f\v]+`)
	newlineRe  = regexp.MustCompile(`\n{3,}`)
)

// ResumeText extracts plain text from an uploaded résumé. PDFs are detected
// by their header and HTML by its leading tag; anything else must be UTF-8
// text.
func ResumeText(data []byte) (string, error) {
	const op = "extract resume"
	if len(data) == 0 {
		return "", interview.Validation(op, "resume is empty")
	}
	if len(data) > MaxResumeBytes {
		return "", interview.Validation(op, "resume exceeds %d bytes", MaxResumeBytes)
	}

	var text string
	if bytes.HasPrefix(data, pdfMagic) {
		t, err := pdfText(data)
		if err != nil {
			return "", interview.Validation(op, "unreadable pdf: %w", err)
		}
		text = t
	} else {
		if !utf8.Valid(data) {
			return "", interview.Validation(op, "resume must be a PDF, HTML or UTF-8 text")
		}
		text = string(data)
		if looksLikeHTML(data) {
			text = htmlText(data)
		}
	}

	text = normalizeText(text)
	if text == "" {
		return "", interview.Validation(op, "no text found in resume")
	}
	if r := []rune(text); len(r) > MaxResumeChars {
		text = strings.TrimSpace(string(r[:MaxResumeChars]))
	}
	return text, nil
}

func pdfText(data []byte) (text string, err error) {
	// The pdf reader panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parsing pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return string(b), nil
}

func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(blankRunRe.ReplaceAllString(l, " "))
	}
	s = strings.Join(lines, "\n")
	return strings.TrimSpace(newlineRe.ReplaceAllString(s, "\n\n"))
}
