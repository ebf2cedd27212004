package risk

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// RiskPattern is one catalog entry. Rule is a regular expression matched
// case-insensitively; Explanation may reference the matched phrase as {match}.
type RiskPattern struct {
	Name        string   `yaml:"name" json:"name"`
	Rule        string   `yaml:"rule" json:"rule"`
	Severity    Severity `yaml:"severity" json:"severity"`
	Category    string   `yaml:"category" json:"category"`
	Explanation string   `yaml:"explanation" json:"explanation"`
}

type compiledPattern struct {
	RiskPattern
	re *regexp.Regexp
}

// Catalog is an immutable, ordered set of compiled risk patterns.
// It is safe to share between goroutines.
type Catalog struct {
	patterns []compiledPattern
}

// NewCatalog validates and compiles the given patterns in order.
func NewCatalog(patterns ...RiskPattern) (*Catalog, error) {
	c := &Catalog{patterns: make([]compiledPattern, 0, len(patterns))}
	seen := make(map[string]bool, len(patterns))
	for i, p := range patterns {
		cp, err := compilePattern(p)
		if err != nil {
			return nil, fmt.Errorf("pattern %d (%q): %w", i, p.Name, err)
		}
		if seen[cp.Name] {
			return nil, fmt.Errorf("pattern %d: duplicate name %q", i, cp.Name)
		}
		seen[cp.Name] = true
		c.patterns = append(c.patterns, cp)
	}
	return c, nil
}

func compilePattern(p RiskPattern) (compiledPattern, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.Category = strings.ToUpper(strings.TrimSpace(p.Category))
	if p.Name == "" {
		return compiledPattern{}, &InvalidInputError{Field: "name", Reason: "must not be empty"}
	}
	if strings.TrimSpace(p.Rule) == "" {
		return compiledPattern{}, &InvalidInputError{Field: "rule", Reason: "must not be empty"}
	}
	if p.Category == "" {
		return compiledPattern{}, &InvalidInputError{Field: "category", Reason: "must not be empty"}
	}
	if utf8.RuneCountInString(p.Category) > MaxCategoryLen {
		return compiledPattern{}, &InvalidInputError{Field: "category", Reason: fmt.Sprintf("longer than %d characters", MaxCategoryLen)}
	}
	sev, ok := ParseSeverity(string(p.Severity))
	if !ok {
		return compiledPattern{}, &InvalidInputError{Field: "severity", Reason: fmt.Sprintf("unknown severity %q", p.Severity)}
	}
	p.Severity = sev
	re, err := regexp.Compile("(?i)" + p.Rule)
	if err != nil {
		return compiledPattern{}, &InvalidInputError{Field: "rule", Reason: err.Error()}
	}
	return compiledPattern{RiskPattern: p, re: re}, nil
}

// Extend returns a new catalog with extra patterns appended. The receiver is unchanged.
func (c *Catalog) Extend(patterns ...RiskPattern) (*Catalog, error) {
	all := make([]RiskPattern, 0, len(c.patterns)+len(patterns))
	all = append(all, c.Patterns()...)
	all = append(all, patterns...)
	return NewCatalog(all...)
}

// Patterns returns a copy of the pattern definitions in catalog order.
func (c *Catalog) Patterns() []RiskPattern {
	out := make([]RiskPattern, len(c.patterns))
	for i, p := range c.patterns {
		out[i] = p.RiskPattern
	}
	return out
}

func (c *Catalog) Len() int { return len(c.patterns) }

type catalogFile struct {
	Patterns []RiskPattern `yaml:"patterns"`
}

// LoadCatalogFile reads additional pattern definitions from a YAML file:
//
//	patterns:
//	  - name: auto_renewal
//	    rule: 'automatic(?:ally)?\s+renew'
//	    severity: LOW
//	    category: TERM
//	    explanation: Contract renews unless cancelled.
func LoadCatalogFile(path string) ([]RiskPattern, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse pattern file %s: %w", path, err)
	}
	return f.Patterns, nil
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// DefaultCatalog returns the built-in catalog. Built once, shared read-only.
func DefaultCatalog() *Catalog {
	defaultOnce.Do(func() {
		c, err := NewCatalog(defaultPatterns...)
		if err != nil {
			panic(fmt.Sprintf("built-in risk catalog is invalid: %v", err))
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

var defaultPatterns = []RiskPattern{
	// payment
	{
		Name:        "pay_when_paid",
		Rule:        `\bpa(?:y|id)[\s-]+(?:when|if)[\s-]+paid\b|\bpayment\s+(?:to\s+subcontractor\s+)?(?:is|shall\s+be)\s+(?:expressly\s+)?contingent\s+(?:up)?on\s+(?:receipt\s+of\s+)?payment\s+from\s+(?:the\s+)?owner\b`,
		Severity:    SeverityHigh,
		Category:    "PAYMENT_TERMS",
		Explanation: "Payment is conditioned on the owner paying first, shifting the owner's credit risk onto you.",
	},
	{
		Name:        "extended_payment_period",
		Rule:        `\bnet\s+(?:60|75|90|120)\b|\bwithin\s+(?:60|75|90|120|sixty|seventy-five|ninety)\s+days\s+(?:of|after|from)\s+(?:receipt\s+of\s+)?(?:the\s+|an?\s+|each\s+)?invoice`,
		Severity:    SeverityMedium,
		Category:    "PAYMENT_TERMS",
		Explanation: "Payment is due well beyond the customary 30 days, straining cash flow.",
	},
	{
		Name:        "excessive_retainage",
		Rule:        `\bretain(?:age)?\s+(?:of\s+)?(?:1[1-9]|[2-9]\d)\s*(?:%|percent)`,
		Severity:    SeverityMedium,
		Category:    "PAYMENT_TERMS",
		Explanation: "Retainage above 10% ties up a large share of earned payment.",
	},
	{
		Name:        "right_to_withhold",
		Rule:        `\bright\s+to\s+(?:set[\s-]?off|withhold|back[\s-]?charge)\b`,
		Severity:    SeverityMedium,
		Category:    "PAYMENT_TERMS",
		Explanation: "The other party may withhold or offset payment at its discretion.",
	},
	// termination
	{
		Name:        "termination_for_convenience",
		Rule:        `\bterminat\w*\s+(?:this\s+(?:agreement|contract|subcontract)\s+)?for\s+(?:its\s+(?:own\s+)?)?convenience\b`,
		Severity:    SeverityMedium,
		Category:    "TERMINATION",
		Explanation: "The contract can be ended without any fault on your part.",
	},
	{
		Name:        "termination_without_notice",
		Rule:        `\bterminat\w*[^.]{0,60}?\bwithout\s+(?:prior\s+)?(?:notice|cause)\b`,
		Severity:    SeverityHigh,
		Category:    "TERMINATION",
		Explanation: "The contract can be ended immediately, with no opportunity to cure.",
	},
	// notice
	{
		Name:        "short_notice_window",
		Rule:        `\bwithin\s+(?:\d{1,2}|twenty[\s-]?four|forty[\s-]?eight|seventy[\s-]?two)\s+hours\b`,
		Severity:    SeverityMedium,
		Category:    "NOTICE_REQUIREMENTS",
		Explanation: "Notice must be given within hours; missing the window may forfeit rights.",
	},
	{
		Name:        "notice_waiver",
		Rule:        `\bfailure\s+to\s+(?:provide|give)\s+(?:timely\s+)?(?:written\s+)?notice\s+shall\s+(?:constitute|result\s+in)\s+(?:a\s+)?waiver\b`,
		Severity:    SeverityHigh,
		Category:    "NOTICE_REQUIREMENTS",
		Explanation: "A missed notice deadline waives the underlying claim entirely.",
	},
	// liability
	{
		Name:        "unlimited_liability",
		Rule:        `\bunlimited\s+liability\b|\bliability\s+shall\s+not\s+be\s+limited\b|\bwithout\s+(?:any\s+)?limitation\s+(?:of|on)\s+liability\b`,
		Severity:    SeverityHigh,
		Category:    "LIABILITY",
		Explanation: "Liability is uncapped and can exceed the value of the contract.",
	},
	{
		Name:        "consequential_damages",
		Rule:        `\bliable\s+for\s+(?:any\s+and\s+all\s+|all\s+|any\s+)?(?:consequential|indirect|special)\s+damages\b`,
		Severity:    SeverityMedium,
		Category:    "LIABILITY",
		Explanation: "You may be liable for consequential losses such as lost profits.",
	},
	// indemnity
	{
		Name:        "indemnity_for_others_negligence",
		Rule:        `\b(?:indemnify|hold\s+harmless)\b[^.]{0,200}?\b(?:sole|active)\s+negligence\s+of\s+(?:the\s+)?(?:contractor|owner|indemnitee)`,
		Severity:    SeverityHigh,
		Category:    "INDEMNIFICATION",
		Explanation: "You must indemnify the other party even for losses it caused itself.",
	},
	{
		Name:        "broad_form_indemnity",
		Rule:        `\bindemnify,?\s+defend,?\s+and\s+hold\s+harmless\b`,
		Severity:    SeverityMedium,
		Category:    "INDEMNIFICATION",
		Explanation: "A broad duty to defend and indemnify, including legal costs.",
	},
	// damages and schedule
	{
		Name:        "liquidated_damages",
		Rule:        `\bliquidated\s+damages\b`,
		Severity:    SeverityMedium,
		Category:    "LIQUIDATED_DAMAGES",
		Explanation: "Fixed daily damages apply to late completion.",
	},
	{
		Name:        "no_damages_for_delay",
		Rule:        `\bno\s+damages\s+for\s+delay\b|\bsole\s+remedy\s+(?:for\s+(?:any\s+)?delays?\s+)?shall\s+be\s+an?\s+extension\s+of\s+time\b`,
		Severity:    SeverityHigh,
		Category:    "SCHEDULE",
		Explanation: "Delay costs caused by others cannot be recovered.",
	},
	// changes
	{
		Name:        "changes_without_adjustment",
		Rule:        `\bchanges?\s+(?:in|to)\s+the\s+(?:work|scope)\b[^.]{0,80}?\bwithout\s+(?:an?\s+)?(?:adjustment|increase)\s+(?:in|to|of)\s+(?:the\s+)?(?:contract\s+|subcontract\s+)?(?:price|sum)`,
		Severity:    SeverityMedium,
		Category:    "CHANGE_ORDERS",
		Explanation: "Scope can change without a matching price adjustment.",
	},
	{
		Name:        "proceed_pending_dispute",
		Rule:        `\bproceed\s+(?:diligently\s+)?with\s+the\s+work\s+pending\s+(?:final\s+)?(?:resolution|the\s+outcome)\b`,
		Severity:    SeverityLow,
		Category:    "CHANGE_ORDERS",
		Explanation: "Work must continue, and be financed, while a dispute is open.",
	},
	// disputes
	{
		Name:        "jury_trial_waiver",
		Rule:        `\bwaive[sd]?\s+(?:any\s+and\s+all\s+|any\s+|all\s+)?(?:right\s+to\s+(?:a\s+)?)?(?:trial\s+by\s+jury|jury\s+trial)\b`,
		Severity:    SeverityMedium,
		Category:    "DISPUTE_RESOLUTION",
		Explanation: "The right to a jury trial is given up.",
	},
	{
		Name:        "exclusive_venue",
		Rule:        `\bexclusive\s+(?:venue|jurisdiction)\b`,
		Severity:    SeverityLow,
		Category:    "DISPUTE_RESOLUTION",
		Explanation: "Disputes must be brought in a forum chosen by the other party.",
	},
	{
		Name:        "binding_arbitration",
		Rule:        `\bbinding\s+arbitration\b`,
		Severity:    SeverityLow,
		Category:    "DISPUTE_RESOLUTION",
		Explanation: "Disputes go to arbitration with limited appeal rights.",
	},
	// lien
	{
		Name:        "advance_lien_waiver",
		Rule:        `\bwaive[sd]?\s+(?:any\s+and\s+all\s+|all\s+|any\s+)?(?:mechanic'?s'?\s+)?lien\s+rights\b`,
		Severity:    SeverityHigh,
		Category:    "LIEN_RIGHTS",
		Explanation: "Lien rights, the main security for payment, are waived.",
	},
	// warranty and insurance
	{
		Name:        "extended_warranty",
		Rule:        `\bwarrant\w*\b[^.]{0,60}?\bfor\s+(?:a\s+period\s+of\s+)?(?:two|three|four|five|ten|[2-9]|10)\s+(?:\(\d+\)\s+)?years\b`,
		Severity:    SeverityLow,
		Category:    "WARRANTY",
		Explanation: "The warranty period exceeds the customary one year.",
	},
	{
		Name:        "additional_insured",
		Rule:        `\badditional\s+insureds?\b`,
		Severity:    SeverityLow,
		Category:    "INSURANCE",
		Explanation: "Your policies must cover other parties, which may raise premiums.",
	},
	{
		Name:        "waiver_of_subrogation",
		Rule:        `\bwaiver\s+of\s+subrogation\b`,
		Severity:    SeverityLow,
		Category:    "INSURANCE",
		Explanation: "Your insurer cannot recover losses from the other party.",
	},
	// general
	{
		Name:        "flow_down",
		Rule:        `\bbound\s+to\s+(?:the\s+)?contractor\s+(?:by|to)\s+the\s+(?:same\s+)?terms\b|\bflow[\s-]?down\b`,
		Severity:    SeverityLow,
		Category:    "FLOW_DOWN",
		Explanation: "Obligations of the prime contract pass down to you, sight unseen.",
	},
	{
		Name:        "inferable_scope",
		Rule:        `\bwork\s+(?:reasonably\s+)?(?:inferable|incidental)\b`,
		Severity:    SeverityMedium,
		Category:    "SCOPE",
		Explanation: "Scope includes unstated work \"inferable\" from the documents.",
	},
	{
		Name:        "automatic_renewal",
		Rule:        `\bautomatic(?:ally)?\s+renew(?:s|ed|al)?\b`,
		Severity:    SeverityLow,
		Category:    "TERM",
		Explanation: "The contract renews unless actively cancelled.",
	},
}
