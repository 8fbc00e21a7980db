//go:build ignore

// Generates a synthetic council change feed for load testing.
// The output is a JSON array in the feed's document shape; serve it
// behind any static change-feed stub to exercise ingest at scale.
//
// Usage: go run scripts/generate-feed-corpus.go -docs 5000 -output testdata/feed.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"
)

var (
	numDocs = flag.Int("docs", 1000, "Number of documents to generate")
	output  = flag.String("output", "testdata/feed.json", "Output file")
	seed    = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var committees = []string{
	"Byrådet", "Magistraten", "Teknisk Udvalg",
	"Sundheds- og Omsorgsudvalget", "Børn og Unge-udvalget",
	"Kulturudvalget", "Økonomiudvalget",
}

var subjects = []string{
	"lokalplan for %s", "renovering af %s", "budgetopfølgning %s",
	"anlæg af cykelsti ved %s", "udvidelse af %s", "driftsaftale for %s",
	"høringssvar om %s", "frigivelse af midler til %s",
}

var places = []string{
	"havnen", "midtbyen", "Gellerup", "Risskov", "Viby Torv",
	"Trøjborg", "Brabrand", "Lisbjerg", "Tranbjerg",
}

var sentences = []string{
	"Indstillingen blev godkendt uden bemærkninger.",
	"Sagen blev udsat til næste møde.",
	"Forvaltningen redegjorde for de økonomiske konsekvenser.",
	"Udvalget drøftede høringssvarene fra borgerne.",
	"Der afsættes midler i budgettet for det kommende år.",
	"Beslutningen blev truffet enstemmigt.",
	"Et mindretal bestående af Enhedslisten stemte imod.",
	"Punktet blev behandlet for lukkede døre.",
	"Rådmanden orienterede om status for anlægsprojektet.",
}

type feedDocument struct {
	ID          string    `json:"id"`
	Version     int64     `json:"version"`
	SourceType  string    `json:"source_type"`
	Committee   string    `json:"committee"`
	CaseNumber  string    `json:"case_number"`
	Title       string    `json:"title"`
	PublishedAt time.Time `json:"published_at"`
	Text        string    `json:"text"`
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	start := time.Date(2023, 1, 1, 9, 0, 0, 0, time.UTC)
	docs := make([]feedDocument, 0, *numDocs)
	for i := 0; i < *numDocs; i++ {
		committee := committees[rng.Intn(len(committees))]
		title := fmt.Sprintf(subjects[rng.Intn(len(subjects))], places[rng.Intn(len(places))])

		body := fmt.Sprintf("# %s\n\n", title)
		for n := 4 + rng.Intn(12); n > 0; n-- {
			body += sentences[rng.Intn(len(sentences))] + " "
		}

		// One in ten documents gets a second version so ingest
		// exercises the supersede path.
		version := int64(1)
		if rng.Intn(10) == 0 {
			version = 2
		}

		docs = append(docs, feedDocument{
			ID:          fmt.Sprintf("punkt-%06d", i),
			Version:     version,
			SourceType:  []string{"agenda", "minutes", "attachment"}[rng.Intn(3)],
			Committee:   committee,
			CaseNumber:  fmt.Sprintf("%02d/%06d", 23+rng.Intn(2), rng.Intn(999999)),
			Title:       title,
			PublishedAt: start.Add(time.Duration(i) * time.Hour),
			Text:        body,
		})
	}

	if err := os.MkdirAll(filepath.Dir(*output), 0o755); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	f, err := os.Create(*output)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(docs); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("wrote %d documents to %s\n", len(docs), *output)
}
