package risk

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreCounts(t *testing.T) {
	tests := []struct {
		name              string
		high, medium, low int
		want              Severity
	}{
		{"no findings", 0, 0, 0, SeverityLow},
		{"one high", 1, 0, 0, SeverityHigh},
		{"five medium", 0, 5, 0, SeverityHigh},
		{"four medium", 0, 4, 0, SeverityMedium},
		{"three medium", 0, 3, 0, SeverityMedium},
		{"two medium", 0, 2, 0, SeverityMedium},
		{"one medium", 0, 1, 0, SeverityMedium},
		{"seven low", 0, 0, 7, SeverityLow},
		{"eight low", 0, 0, 8, SeverityMedium},
		{"many low never high", 0, 0, 100, SeverityMedium},
		{"negative counts", -1, -3, -2, SeverityLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ScoreCounts(tt.high, tt.medium, tt.low))
		})
	}
}

func TestScoreCounts_HighIsMonotonic(t *testing.T) {
	for h := 0; h < 3; h++ {
		for m := 0; m < 7; m++ {
			for l := 0; l < 10; l++ {
				before := ScoreCounts(h, m, l)
				after := ScoreCounts(h+1, m, l)
				assert.GreaterOrEqual(t, after.Rank(), before.Rank(), "h=%d m=%d l=%d", h, m, l)
			}
		}
	}
}

func TestScore_IgnoresUnknownSeverity(t *testing.T) {
	findings := []Finding{
		{Category: "A", Severity: "URGENT"},
		{Category: "B", Severity: SeverityLow},
	}
	assert.Equal(t, SeverityLow, Score(findings))
	assert.Equal(t, SeverityLow, Score(nil))
}

func TestSortBySeverity_Stable(t *testing.T) {
	findings := []Finding{
		{Category: "L1", Severity: SeverityLow},
		{Category: "M1", Severity: SeverityMedium},
		{Category: "H1", Severity: SeverityHigh},
		{Category: "M2", Severity: SeverityMedium},
		{Category: "H2", Severity: SeverityHigh},
	}
	SortBySeverity(findings)

	var got []string
	for _, f := range findings {
		got = append(got, f.Category)
	}
	assert.Equal(t, []string{"H1", "H2", "M1", "M2", "L1"}, got)
}

func TestAssessText(t *testing.T) {
	a, err := AssessText(nil, payWhenPaidText)
	require.NoError(t, err)
	assert.Equal(t, SeverityHigh, a.Overall)
	assert.Equal(t, 1, a.High)

	_, err = AssessText(nil, "")
	assert.True(t, errors.Is(err, ErrInvalidInput))
}
