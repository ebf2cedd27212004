package risk

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()
	require.NotNil(t, c)
	assert.Greater(t, c.Len(), 20)
	assert.Same(t, c, DefaultCatalog())

	for _, p := range c.Patterns() {
		assert.True(t, p.Severity.Valid(), p.Name)
		assert.NotEmpty(t, p.Category, p.Name)
	}
}

func TestNewCatalog_Validation(t *testing.T) {
	valid := RiskPattern{Name: "x", Rule: "x", Severity: SeverityLow, Category: "C"}

	tests := []struct {
		name  string
		patch func(p *RiskPattern)
	}{
		{"empty name", func(p *RiskPattern) { p.Name = " " }},
		{"empty rule", func(p *RiskPattern) { p.Rule = "" }},
		{"empty category", func(p *RiskPattern) { p.Category = "" }},
		{"long category", func(p *RiskPattern) { p.Category = strings.Repeat("C", MaxCategoryLen+1) }},
		{"bad severity", func(p *RiskPattern) { p.Severity = "SEVERE" }},
		{"bad regex", func(p *RiskPattern) { p.Rule = "(unclosed" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.patch(&p)
			_, err := NewCatalog(p)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidInput))
		})
	}

	_, err := NewCatalog(valid, valid)
	assert.ErrorContains(t, err, "duplicate")
}

func TestCatalog_ExtendLeavesReceiverUnchanged(t *testing.T) {
	base := DefaultCatalog()
	n := base.Len()

	ext, err := base.Extend(RiskPattern{Name: "escrow", Rule: "escrow", Severity: SeverityLow, Category: "PAYMENT_TERMS"})
	require.NoError(t, err)
	assert.Equal(t, n, base.Len())
	assert.Equal(t, n+1, ext.Len())
	assert.Equal(t, "escrow", ext.Patterns()[n].Name)

	_, err = base.Extend(RiskPattern{Name: "pay_when_paid", Rule: "x", Severity: SeverityLow, Category: "C"})
	assert.Error(t, err)
}

func TestLoadCatalogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.yaml")
	data := `patterns:
  - name: escrow
    rule: 'escrow\s+account'
    severity: medium
    category: payment_terms
    explanation: Funds are held in escrow.
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	patterns, err := LoadCatalogFile(path)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, "escrow", patterns[0].Name)

	c, err := NewCatalog(patterns...)
	require.NoError(t, err)
	assert.Equal(t, SeverityMedium, c.Patterns()[0].Severity)
	assert.Equal(t, "PAYMENT_TERMS", c.Patterns()[0].Category)

	_, err = LoadCatalogFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
