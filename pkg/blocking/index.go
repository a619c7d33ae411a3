// Package blocking bounds fuzzy-match candidate sets with a recall-oriented name index.
package blocking

import (
	"sort"
	"strings"
)

// Index maps normalized names to cluster ids three ways: exact name, 3-rune
// prefix, and word tokens longer than 3 runes. Candidate retrieval unions all
// three probes; false candidates are cheap (the scorer filters them), missed
// candidates are not, so the union is deliberately generous.
//
// The index is owned by the resolver. It is only written between scoring
// phases, so concurrent readers during the parallel phase need no locking.
type Index struct {
	exact  map[string]map[string]struct{}
	prefix map[string]map[string]struct{}
	token  map[string]map[string]struct{}
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		exact:  make(map[string]map[string]struct{}),
		prefix: make(map[string]map[string]struct{}),
		token:  make(map[string]map[string]struct{}),
	}
}

// Add indexes a cluster under a normalized name. Every name variation a
// cluster acquires is indexed; empty names are ignored.
func (ix *Index) Add(clusterID, name string) {
	if name == "" || clusterID == "" {
		return
	}

	addKey(ix.exact, name, clusterID)
	addKey(ix.prefix, namePrefix(name), clusterID)

	for _, tok := range strings.Fields(name) {
		if len([]rune(tok)) > 3 {
			addKey(ix.token, tok, clusterID)
		}
	}
}

// Candidates returns the ids of every indexed cluster whose name shares an
// exact value, a 3-rune prefix, or a long token with the query name. The
// result is sorted so downstream best-candidate selection is deterministic.
func (ix *Index) Candidates(name string) []string {
	if name == "" {
		return nil
	}

	seen := make(map[string]struct{})

	for id := range ix.exact[name] {
		seen[id] = struct{}{}
	}
	for id := range ix.prefix[namePrefix(name)] {
		seen[id] = struct{}{}
	}
	for _, tok := range strings.Fields(name) {
		if len([]rune(tok)) > 3 {
			for id := range ix.token[tok] {
				seen[id] = struct{}{}
			}
		}
	}

	if len(seen) == 0 {
		return nil
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Size returns the number of distinct exact-name keys, used in run logging.
func (ix *Index) Size() int {
	return len(ix.exact)
}

func addKey(m map[string]map[string]struct{}, key, clusterID string) {
	if key == "" {
		return
	}
	set, ok := m[key]
	if !ok {
		set = make(map[string]struct{})
		m[key] = set
	}
	set[clusterID] = struct{}{}
}

// namePrefix returns the first 3 runes of the name (the whole name when shorter).
func namePrefix(name string) string {
	runes := []rune(name)
	if len(runes) > 3 {
		runes = runes[:3]
	}
	return string(runes)
}
