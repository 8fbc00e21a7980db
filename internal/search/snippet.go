package search

import (
	"regexp"
	"strings"
)

const (
	snippetWindow = 240
	snippetSlide  = 60
)

var (
	markdownHeading = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	markdownMarkup  = regexp.MustCompile(`[*_` + "`" + `]{1,3}`)
)

// makeSnippet extracts the densest window of query terms from the
// chunk text. Provenance header lines (Udvalg:, Dato:, ...) and
// markdown markup are stripped first so the snippet reads as prose.
func makeSnippet(text string, terms []string) string {
	body := stripForSnippet(text)
	if body == "" {
		return ""
	}
	if len(body) <= snippetWindow {
		return body
	}
	if len(terms) == 0 {
		return trimToWords(body[:snippetWindow], false, true) + " ..."
	}

	lower := strings.ToLower(body)
	bestStart, bestHits := 0, -1
	for start := 0; start < len(lower); start += snippetSlide {
		end := start + snippetWindow
		if end > len(lower) {
			end = len(lower)
		}
		window := lower[start:end]
		hits := 0
		for _, t := range terms {
			hits += strings.Count(window, t)
		}
		if hits > bestHits {
			bestHits = hits
			bestStart = start
		}
		if end == len(lower) {
			break
		}
	}

	end := bestStart + snippetWindow
	if end > len(body) {
		end = len(body)
	}
	snip := trimToWords(body[bestStart:end], bestStart > 0, end < len(body))
	if bestStart > 0 {
		snip = "... " + snip
	}
	if end < len(body) {
		snip += " ..."
	}
	return snip
}

// stripForSnippet removes the metadata header block and light
// markdown so the snippet shows body prose only.
func stripForSnippet(text string) string {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "#") ||
			strings.HasPrefix(trimmed, "Udvalg:") ||
			strings.HasPrefix(trimmed, "Dato:") ||
			strings.HasPrefix(trimmed, "Sagsnummer:") ||
			strings.HasPrefix(trimmed, "Type:") {
			continue
		}
		kept = append(kept, trimmed)
	}
	out := strings.Join(kept, " ")
	out = markdownHeading.ReplaceAllString(out, "")
	out = markdownMarkup.ReplaceAllString(out, "")
	return strings.TrimSpace(out)
}

// trimToWords drops partial words cut off at the window edges.
func trimToWords(s string, trimStart, trimEnd bool) string {
	if trimStart {
		if i := strings.IndexByte(s, ' '); i > 0 && i < 24 {
			s = s[i+1:]
		}
	}
	if trimEnd {
		if i := strings.LastIndexByte(s, ' '); i > 0 && len(s)-i < 24 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}
