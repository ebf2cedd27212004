package risk

import (
	"sort"
)

// Escalation thresholds for the overall severity.
const (
	mediumToHigh  = 5
	mediumCluster = 2
	lowToMedium   = 8
)

// ScoreCounts reduces severity counts to one overall severity.
// Negative counts are treated as zero.
func ScoreCounts(high, medium, low int) Severity {
	switch {
	case high >= 1, medium >= mediumToHigh:
		return SeverityHigh
	case medium >= mediumCluster, low >= lowToMedium:
		return SeverityMedium
	case medium >= 1:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// CountBySeverity tallies findings per tier. Unknown severities are ignored.
func CountBySeverity(findings []Finding) (high, medium, low int) {
	for _, f := range findings {
		switch f.Severity {
		case SeverityHigh:
			high++
		case SeverityMedium:
			medium++
		case SeverityLow:
			low++
		}
	}
	return high, medium, low
}

// Score is ScoreCounts over a finding set. An empty set scores LOW.
func Score(findings []Finding) Severity {
	return ScoreCounts(CountBySeverity(findings))
}

// SortBySeverity orders findings HIGH -> MEDIUM -> LOW in place, keeping
// the relative order of equal severities.
func SortBySeverity(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].Severity.Rank() > findings[j].Severity.Rank()
	})
}

// Assessment is the local, pattern-only verdict for a text.
type Assessment struct {
	Overall  Severity  `json:"overall_severity"`
	Findings []Finding `json:"findings"`
	High     int       `json:"high"`
	Medium   int       `json:"medium"`
	Low      int       `json:"low"`
}

// AssessText matches text against c (the default catalog when nil) and
// scores the result without touching the semantic analyzer or the store.
func AssessText(c *Catalog, text string) (Assessment, error) {
	findings, err := NewMatcher(c).Match(text)
	if err != nil {
		return Assessment{}, err
	}
	findings = Aggregate(findings)
	h, md, l := CountBySeverity(findings)
	return Assessment{
		Overall:  ScoreCounts(h, md, l),
		Findings: findings,
		High:     h,
		Medium:   md,
		Low:      l,
	}, nil
}
