package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/contract-risk/internal/domain/risk"
)

func TestDecodeFindings(t *testing.T) {
	content := `{"findings":[
		{"category":"payment terms","severity":"critical","matched_text":"pay-when-paid","explanation":"Owner risk."},
		{"category":"SCOPE","severity":"low","matched_text":"  work inferable  ","explanation":""}
	]}`
	got, err := DecodeFindings(content)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, risk.Finding{
		Category:    "PAYMENT_TERMS",
		Severity:    risk.SeverityHigh,
		MatchedText: "pay-when-paid",
		Explanation: "Owner risk.",
		Source:      risk.SourceSemantic,
	}, got[0])
	assert.Equal(t, "work inferable", got[1].MatchedText)
}

func TestDecodeFindings_EmptyList(t *testing.T) {
	got, err := DecodeFindings(`{"findings":[]}`)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecodeFindings_CodeFence(t *testing.T) {
	got, err := DecodeFindings("```json\n{\"findings\":[{\"category\":\"TERM\",\"severity\":\"LOW\",\"matched_text\":\"renews\"}]}\n```")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestDecodeFindings_Malformed(t *testing.T) {
	cases := map[string]string{
		"empty":            "   ",
		"not json":         "I found two risks.",
		"missing findings": `{"risks":[]}`,
		"bad severity":     `{"findings":[{"category":"A","severity":"severe","matched_text":"x"}]}`,
		"no text":          `{"findings":[{"category":"A","severity":"LOW","matched_text":" "}]}`,
		"wrong type":       `{"findings":"none"}`,
		"long category":    `{"findings":[{"category":"` + strings.Repeat("RISK_", 16) + `","severity":"LOW","matched_text":"x"}]}`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeFindings(content)
			assert.Error(t, err)
		})
	}
}

func TestDecodeFindings_TruncatesLongExcerpt(t *testing.T) {
	long := strings.Repeat("a", 800)
	got, err := DecodeFindings(`{"findings":[{"category":"A","severity":"LOW","matched_text":"` + long + `"}]}`)
	require.NoError(t, err)
	assert.Len(t, got[0].MatchedText, 500)
	assert.True(t, strings.HasSuffix(got[0].MatchedText, "..."))
}

func TestPrompts(t *testing.T) {
	sys := GetSystemPrompt([]string{"PAYMENT_TERMS", "TERMINATION"})
	assert.Contains(t, sys, "PAYMENT_TERMS, TERMINATION")
	assert.Contains(t, sys, `"matched_text"`)
	assert.True(t, strings.HasSuffix(GetUserPrompt("The contract."), "The contract."))
}
