package search

import (
	"context"
	"fmt"
	"sort"

	agerr "github.com/byraadsarkiv/agendex/internal/errors"
)

// CheckConsistency compares the store's chunk inventory against both
// index generations. A nil return means both indexes cover exactly
// the store's chunks. The vector index is only expected to cover
// embedded chunks, so unembedded ones are not counted as missing.
func (e *Engine) CheckConsistency(ctx context.Context) error {
	storeIDs, err := e.store.AllChunkIDs(ctx)
	if err != nil {
		return fmt.Errorf("list store chunks: %w", err)
	}
	inStore := make(map[string]struct{}, len(storeIDs))
	for _, id := range storeIDs {
		inStore[id] = struct{}{}
	}

	if errc := diff("lexical", inStore, storeIDs, e.lex.Load().AllIDs(), nil); errc != nil {
		return errc
	}

	chunks, _, err := e.store.AllChunks(ctx)
	if err != nil {
		return fmt.Errorf("load chunks: %w", err)
	}
	unembedded := make(map[string]struct{})
	for _, c := range chunks {
		if c.Embedding == nil {
			unembedded[c.ID] = struct{}{}
		}
	}
	return diff("vector", inStore, storeIDs, e.vec.Load().AllIDs(), unembedded)
}

func diff(name string, inStore map[string]struct{}, storeIDs, indexIDs []string, exempt map[string]struct{}) error {
	inIndex := make(map[string]struct{}, len(indexIDs))
	for _, id := range indexIDs {
		inIndex[id] = struct{}{}
	}

	var missing, orphaned []string
	for _, id := range storeIDs {
		if _, ok := inIndex[id]; ok {
			continue
		}
		if _, ok := exempt[id]; ok {
			continue
		}
		missing = append(missing, id)
	}
	for _, id := range indexIDs {
		if _, ok := inStore[id]; !ok {
			orphaned = append(orphaned, id)
		}
	}
	if len(missing) == 0 && len(orphaned) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(orphaned)
	return &agerr.IndexInconsistencyError{Index: name, Missing: missing, Orphaned: orphaned}
}
