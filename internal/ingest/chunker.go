package ingest

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/byraadsarkiv/agendex/internal/docstore"
)

// Chunker splits normalized document text into overlapping, word-aligned
// windows. Every chunk carries a provenance header so an embedding (and a
// reader of a bare hit) always knows which meeting it came from.
type Chunker struct {
	Size    int // target window length in characters
	Overlap int // characters shared between consecutive windows
}

// NewChunker creates a chunker; zero values fall back to defaults.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 1200
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 6
	}
	return &Chunker{Size: size, Overlap: overlap}
}

// Chunk produces the chunk set of a document version. Chunk ids derive from
// (document id, version, position), so chunking the same version twice
// yields byte-identical chunks. Offsets index into doc.Text.
func (c *Chunker) Chunk(doc *docstore.Document) []*docstore.Chunk {
	body := doc.Text
	if strings.TrimSpace(body) == "" {
		return nil
	}
	header := provenanceHeader(doc)

	var chunks []*docstore.Chunk
	start := 0
	seq := 0
	for start < len(body) {
		end := start + c.Size
		if end >= len(body) {
			end = len(body)
		} else {
			end = wordBoundaryBefore(body, end, start)
		}

		window := strings.TrimSpace(body[start:end])
		if window != "" {
			text := header + "\n" + window
			chunks = append(chunks, &docstore.Chunk{
				ID:          docstore.NewChunkID(doc.ID, doc.Version, seq),
				DocumentID:  doc.ID,
				Version:     doc.Version,
				Seq:         seq,
				StartOffset: start,
				EndOffset:   end,
				Text:        text,
				ContentHash: docstore.HashContent(text),
			})
			seq++
		}

		if end == len(body) {
			break
		}
		next := end - c.Overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// provenanceHeader mirrors the header the sync job has always written in
// front of each item: title, committee, date, case number.
func provenanceHeader(doc *docstore.Document) string {
	var lines []string
	if doc.Title != "" {
		lines = append(lines, "# "+doc.Title)
	}
	if doc.Committee != "" {
		lines = append(lines, "Udvalg: "+doc.Committee)
	}
	if !doc.PublishedAt.IsZero() {
		lines = append(lines, "Dato: "+doc.PublishedAt.UTC().Format("2006-01-02"))
	}
	if doc.CaseNumber != "" {
		lines = append(lines, "Sagsnummer: "+doc.CaseNumber)
	}
	lines = append(lines, fmt.Sprintf("Type: %s", doc.SourceType))
	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

// wordBoundaryBefore walks back from pos to the nearest whitespace so a
// window never cuts a word in half. If no boundary exists in the window
// (one giant token), the hard cut stands.
func wordBoundaryBefore(text string, pos, floor int) int {
	for i := pos; i > floor; i-- {
		if unicode.IsSpace(rune(text[i-1])) {
			return i
		}
	}
	return pos
}
