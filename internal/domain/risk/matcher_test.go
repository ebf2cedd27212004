package risk

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	payWhenPaidText = "Subcontractor agrees that payment shall be made pay-when-paid, and Contractor shall pay Subcontractor within seven days of receiving payment from Owner."
	convenienceText = "The Contractor may terminate for convenience at any time. Subcontractor must provide written notice of any claim within 24 hours."
	balancedText    = "Payment is due net 30 days from receipt of invoice. Either party may terminate this Agreement for cause upon thirty days' written notice. Contractor's total liability under this Agreement is capped at the contract value."
)

func TestMatch_PayWhenPaid(t *testing.T) {
	findings, err := NewMatcher(nil).Match(payWhenPaidText)
	require.NoError(t, err)
	require.Len(t, findings, 1)

	f := findings[0]
	assert.Equal(t, "PAYMENT_TERMS", f.Category)
	assert.Equal(t, SeverityHigh, f.Severity)
	assert.Equal(t, SourcePattern, f.Source)
	assert.Contains(t, f.MatchedText, "pay-when-paid")
	assert.Contains(t, f.Explanation, `Specific concern: "pay-when-paid"`)
}

func TestMatch_ConvenienceAndShortNotice(t *testing.T) {
	findings, err := NewMatcher(nil).Match(convenienceText)
	require.NoError(t, err)
	require.Len(t, findings, 2)

	categories := []string{findings[0].Category, findings[1].Category}
	assert.ElementsMatch(t, []string{"TERMINATION", "NOTICE_REQUIREMENTS"}, categories)
	for _, f := range findings {
		assert.Equal(t, SeverityMedium, f.Severity)
	}
	assert.Equal(t, SeverityMedium, Score(findings))
}

func TestMatch_BalancedTermsHaveNoHighFindings(t *testing.T) {
	findings, err := NewMatcher(nil).Match(balancedText)
	require.NoError(t, err)
	for _, f := range findings {
		assert.NotEqual(t, SeverityHigh, f.Severity, f.Category)
	}
	assert.NotEqual(t, SeverityHigh, Score(findings))
}

func TestMatch_EmptyInput(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t\r\n"} {
		findings, err := NewMatcher(nil).Match(text)
		assert.Nil(t, findings)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidInput))

		var inv *InvalidInputError
		assert.True(t, errors.As(err, &inv))
	}
}

func TestMatch_Deterministic(t *testing.T) {
	text := strings.Join([]string{payWhenPaidText, convenienceText, balancedText,
		"Subcontractor waives all lien rights. Liquidated damages of $500 per day apply."}, "\n\n")
	m := NewMatcher(nil)

	first, err := m.Match(text)
	require.NoError(t, err)
	second, err := m.Match(text)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestMatch_OneFindingPerSentencePerPattern(t *testing.T) {
	text := "Liquidated damages apply, and liquidated damages are cumulative with liquidated damages for delay."
	findings, err := NewMatcher(nil).Match(text)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "LIQUIDATED_DAMAGES", findings[0].Category)
}

func TestMatch_SameClauseInTwoSentences(t *testing.T) {
	text := "Liquidated damages apply to Phase One. Liquidated damages also apply to Phase Two."
	findings, err := NewMatcher(nil).Match(text)
	require.NoError(t, err)
	assert.Len(t, findings, 2)
}

func TestMatch_SortedBySeverity(t *testing.T) {
	text := "Owner is named as additional insured. Liquidated damages apply. Subcontractor waives all lien rights."
	findings, err := NewMatcher(nil).Match(text)
	require.NoError(t, err)
	require.Len(t, findings, 3)
	assert.Equal(t, SeverityHigh, findings[0].Severity)
	assert.Equal(t, SeverityMedium, findings[1].Severity)
	assert.Equal(t, SeverityLow, findings[2].Severity)
}

func TestMatch_PreservesOriginalCasing(t *testing.T) {
	findings, err := NewMatcher(nil).Match("The Owner may TERMINATE FOR CONVENIENCE upon notice.")
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Contains(t, findings[0].MatchedText, "TERMINATE FOR CONVENIENCE")
}

func TestMatch_ContextIncludesNeighbours(t *testing.T) {
	text := "Section four covers payment. Liquidated damages of $1,000 per day apply. Section five covers warranty."
	findings, err := NewMatcher(nil).Match(text)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, text, findings[0].MatchedText)
}

func TestMatch_ContextIsClipped(t *testing.T) {
	filler := strings.Repeat("The parties acknowledge the recitals set out above ", 12)
	text := filler + "and liquidated damages apply " + filler + "."
	findings, err := NewMatcher(nil).Match(text)
	require.NoError(t, err)
	require.Len(t, findings, 1)

	excerpt := findings[0].MatchedText
	assert.LessOrEqual(t, utf8.RuneCountInString(excerpt), maxExcerptLen)
	assert.True(t, strings.HasPrefix(excerpt, ellipsis))
	assert.True(t, strings.HasSuffix(excerpt, ellipsis))
	assert.Contains(t, excerpt, "liquidated damages")
}

func TestMatch_CustomCatalog(t *testing.T) {
	c, err := NewCatalog(RiskPattern{
		Name:        "escrow",
		Rule:        `escrow\s+account`,
		Severity:    "high",
		Category:    "payment_terms",
		Explanation: "Funds held in {match} may be released late.",
	})
	require.NoError(t, err)

	findings, err := NewMatcher(c).Match("All retainage is deposited to an Escrow Account held by Owner.")
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "PAYMENT_TERMS", findings[0].Category)
	assert.Equal(t, SeverityHigh, findings[0].Severity)
	assert.Equal(t, `Funds held in Escrow Account may be released late. Specific concern: "Escrow Account"`, findings[0].Explanation)
}

func TestNormalizeText(t *testing.T) {
	in := "  First   line\r\ncontinues\there.\r\n\r\n\r\n\r\nSecond paragraph.  \n"
	assert.Equal(t, "First line continues here.\n\nSecond paragraph.", NormalizeText(in))
}

func TestSplitSentences(t *testing.T) {
	text := NormalizeText("Payment is due in 1.5 days. Ok. Is it clear? Yes!\n\nA heading without a stop\n\nThe Owner said \"agreed.\" Then left.")
	got := SplitSentences(text)
	assert.Equal(t, []string{
		"Payment is due in 1.5 days.",
		"Is it clear?",
		"A heading without a stop",
		"The Owner said \"agreed.\"",
	}, got)
}
