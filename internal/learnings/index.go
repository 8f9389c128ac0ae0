// Package learnings provides keyword retrieval over cross-project
// learnings notes, so prompts carry the few notes relevant to the
// user's question instead of the whole log.
package learnings

import (
	"fmt"
	"sync"

	"github.com/blevesearch/bleve/v2"
)

type noteDoc struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// Index is an in-memory full-text index over learnings notes. It is
// rebuilt from disk cheaply, so nothing is persisted.
type Index struct {
	mu     sync.RWMutex
	index  bleve.Index
	bodies map[string]string
}

// NewIndex creates an empty in-memory index.
func NewIndex() (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create learnings index: %w", err)
	}
	return &Index{index: idx, bodies: make(map[string]string)}, nil
}

// Add indexes one note under its name. Re-adding a name replaces the
// previous note.
func (ix *Index) Add(name, body string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.index.Index(name, noteDoc{Name: name, Text: body}); err != nil {
		return fmt.Errorf("index learnings note %s: %w", name, err)
	}
	ix.bodies[name] = body
	return nil
}

// Delete removes a note from the index, so notes whose files vanish
// from disk stop surfacing in prompts. Deleting an unknown name is a
// no-op.
func (ix *Index) Delete(name string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.index.Delete(name); err != nil {
		return fmt.Errorf("delete learnings note %s: %w", name, err)
	}
	delete(ix.bodies, name)
	return nil
}

// Len returns the number of indexed notes.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.bodies)
}

// Search returns the bodies of the top-k notes matching query, best
// first. No matches is an empty slice, not an error.
func (ix *Index) Search(query string, k int) ([]string, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(query), k, 0, false)
	res, err := ix.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search learnings: %w", err)
	}

	var bodies []string
	for _, hit := range res.Hits {
		if body, ok := ix.bodies[hit.ID]; ok {
			bodies = append(bodies, body)
		}
	}
	return bodies, nil
}

// Close releases the underlying index.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.index.Close()
}
