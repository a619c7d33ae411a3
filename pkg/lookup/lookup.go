// Package lookup serves read queries against the latest finished cluster set.
package lookup

import (
	"sort"
	"strings"
	"sync"

	"github.com/Ramsey-B/juniper/pkg/models"
)

// Service answers identity queries from an in-memory snapshot of the most
// recent finished resolution run. Load swaps the whole snapshot at once, so
// readers never observe a half-built set
type Service struct {
	mu         sync.RWMutex
	clusters   []*models.PersonCluster
	byLinkedID map[string]*models.PersonCluster
}

// NewService returns an empty lookup service
func NewService() *Service {
	return &Service{byLinkedID: make(map[string]*models.PersonCluster)}
}

// Load replaces the snapshot with a finished cluster set. When one linked id
// appears in several clusters the first cluster in the given order wins, so
// callers should pass clusters in their stable output order
func (s *Service) Load(clusters []*models.PersonCluster) {
	index := make(map[string]*models.PersonCluster)
	for _, c := range clusters {
		for _, id := range c.AllLinkedCaseIDs {
			if _, exists := index[id]; !exists {
				index[id] = c
			}
		}
		for _, id := range c.AllLinkedRoleIDs {
			if _, exists := index[id]; !exists {
				index[id] = c
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.clusters = clusters
	s.byLinkedID = index
}

// ByLinkedID returns the cluster containing any member whose linked case or
// role ids include the given id
func (s *Service) ByLinkedID(id string) (*models.PersonCluster, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.byLinkedID[id]
	return c, ok
}

// SearchByName returns every cluster whose canonical name contains the query,
// case-insensitively. Identities linked to the most cases sort first, as the
// likeliest answer for an investigative search; ties order by cluster id so
// results are stable
func (s *Service) SearchByName(query string) []*models.PersonCluster {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]*models.PersonCluster, 0)
	for _, c := range s.clusters {
		if c.CanonicalName == nil {
			continue
		}
		if strings.Contains(strings.ToLower(*c.CanonicalName), query) {
			matches = append(matches, c)
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].CaseCount() != matches[j].CaseCount() {
			return matches[i].CaseCount() > matches[j].CaseCount()
		}
		return matches[i].ClusterID < matches[j].ClusterID
	})
	return matches
}

// Size returns the number of clusters in the snapshot
func (s *Service) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clusters)
}
