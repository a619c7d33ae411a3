package models

import (
	"fmt"
	"time"
)

// Matching methods recorded on finalized clusters.
const (
	MatchingMethodEnsembleFuzzy      = "ensemble-fuzzy"
	MatchingMethodSingletonUnmatched = "singleton-unmatched"
)

// TierMethod returns the matching method string for a fingerprint tier (1-5).
func TierMethod(tier int) string {
	return fmt.Sprintf("tier-%d", tier)
}

// QualityFlags summarize data completeness of a cluster's canonical record so
// consumers can triage low-confidence identities for manual review.
type QualityFlags struct {
	HasPhone            bool    `json:"has_phone"`
	HasRelativeName     bool    `json:"has_relative_name"`
	HasLocality         bool    `json:"has_locality"`
	HasAge              bool    `json:"has_age"`
	HasGender           bool    `json:"has_gender"`
	CompletenessPercent float64 `json:"completeness_percent"`
}

// PersonCluster is one resolved identity: every member record is believed to
// refer to the same real-world person.
type PersonCluster struct {
	ClusterID         string  `json:"cluster_id"`
	RunID             string  `json:"run_id"`
	Tier              int     `json:"tier,omitempty"` // 1-5 for fingerprint clusters, 0 otherwise
	FingerprintKey    *string `json:"fingerprint_key,omitempty"`
	MatchingMethod    string  `json:"matching_method"`
	CanonicalRecordID string  `json:"canonical_record_id"`
	CanonicalName     *string `json:"canonical_name,omitempty"`

	MemberRecordIDs  []string `json:"member_record_ids"`
	AllLinkedCaseIDs []string `json:"all_linked_case_ids"`
	AllLinkedRoleIDs []string `json:"all_linked_role_ids"`
	NameVariations   []string `json:"name_variations"`

	// MatchScores maps member record ids joined via the fuzzy path to their
	// recorded ensemble score. Empty for pure fingerprint clusters.
	MatchScores map[string]float64 `json:"match_scores,omitempty"`

	ConfidenceScore float64      `json:"confidence_score"`
	QualityFlags    QualityFlags `json:"quality_flags"`

	CreatedAt time.Time `json:"created_at"`
}

// CaseCount returns the number of distinct linked cases, the ordering key for
// name search results.
func (c *PersonCluster) CaseCount() int {
	return len(c.AllLinkedCaseIDs)
}

// ClusterView is the lookup-facing projection of a cluster.
type ClusterView struct {
	ClusterID         string       `json:"cluster_id"`
	MatchingMethod    string       `json:"matching_method"`
	CanonicalRecordID string       `json:"canonical_record_id"`
	CanonicalName     *string      `json:"canonical_name,omitempty"`
	ConfidenceScore   float64      `json:"confidence_score"`
	CaseCount         int          `json:"case_count"`
	MemberRecordIDs   []string     `json:"member_record_ids"`
	AllLinkedCaseIDs  []string     `json:"all_linked_case_ids"`
	AllLinkedRoleIDs  []string     `json:"all_linked_role_ids"`
	NameVariations    []string     `json:"name_variations"`
	QualityFlags      QualityFlags `json:"quality_flags"`
}

// View converts a cluster to its lookup projection.
func (c *PersonCluster) View() ClusterView {
	return ClusterView{
		ClusterID:         c.ClusterID,
		MatchingMethod:    c.MatchingMethod,
		CanonicalRecordID: c.CanonicalRecordID,
		CanonicalName:     c.CanonicalName,
		ConfidenceScore:   c.ConfidenceScore,
		CaseCount:         c.CaseCount(),
		MemberRecordIDs:   c.MemberRecordIDs,
		AllLinkedCaseIDs:  c.AllLinkedCaseIDs,
		AllLinkedRoleIDs:  c.AllLinkedRoleIDs,
		NameVariations:    c.NameVariations,
		QualityFlags:      c.QualityFlags,
	}
}

// ClusterListResponse is the response for listing clusters.
type ClusterListResponse struct {
	Items      []PersonCluster `json:"items"`
	TotalCount int             `json:"total_count"`
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
}
