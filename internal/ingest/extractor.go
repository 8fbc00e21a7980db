package ingest

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// TextExtractor turns a raw document payload into normalized text.
// Implementations exist per content type; an external OCR service can be
// plugged in for scanned attachments.
type TextExtractor interface {
	// Supports reports whether the extractor handles the content type.
	Supports(contentType string) bool

	// Extract returns normalized plain text.
	Extract(ctx context.Context, contentType string, data []byte) (string, error)
}

// Quality thresholds for extracted text. A page of real minutes rarely dips
// below these; OCR output from a bad scan does.
const (
	minExtractChars = 200
	maxWeirdRatio   = 0.25
)

// PlainTextExtractor handles inline text and markdown payloads.
type PlainTextExtractor struct{}

var _ TextExtractor = (*PlainTextExtractor)(nil)

// Supports reports whether the content type is plain text or markdown.
func (PlainTextExtractor) Supports(contentType string) bool {
	switch {
	case contentType == "", strings.HasPrefix(contentType, "text/plain"),
		strings.HasPrefix(contentType, "text/markdown"):
		return true
	}
	return false
}

// Extract normalizes whitespace and validates the text is usable. Garbled
// payloads (broken text layers, mojibake) are rejected rather than indexed
// as noise.
func (PlainTextExtractor) Extract(_ context.Context, contentType string, data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("payload is not valid UTF-8")
	}
	text := NormalizeText(string(data))
	if err := checkTextQuality(text); err != nil {
		return "", err
	}
	return text, nil
}

// NormalizeText collapses whitespace runs and trims each line while keeping
// paragraph breaks.
func NormalizeText(raw string) string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	lines := strings.Split(raw, "\n")
	var b strings.Builder
	blankRun := 0
	for _, line := range lines {
		line = strings.TrimRight(strings.Join(strings.Fields(line), " "), " ")
		if line == "" {
			blankRun++
			if blankRun > 1 {
				continue
			}
		} else {
			blankRun = 0
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}

// checkTextQuality applies the suspect-text heuristics: too short, or too
// high a share of characters outside the Danish letter range.
func checkTextQuality(text string) error {
	if len(text) < minExtractChars {
		return fmt.Errorf("extracted text too short (%d chars)", len(text))
	}
	weird := 0
	total := 0
	for _, r := range text {
		total++
		if r >= ' ' && r <= '~' {
			continue
		}
		switch r {
		case '\n', '\t', 'æ', 'ø', 'å', 'Æ', 'Ø', 'Å', 'é', 'è', 'ü', 'ö', 'ä', '–', '§':
			continue
		}
		weird++
	}
	if total > 0 && float64(weird)/float64(total) > maxWeirdRatio {
		return fmt.Errorf("extracted text appears garbled (%.0f%% unexpected characters)",
			100*float64(weird)/float64(total))
	}
	return nil
}
