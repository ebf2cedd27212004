package prompt

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bryanwahyu/contract-risk/internal/domain/risk"
)

// GetSystemPrompt provides strict directions and schema for JSON output.
// categories is the vocabulary the answer should prefer.
func GetSystemPrompt(categories []string) string {
	return fmt.Sprintf(`You are a senior construction contract reviewer acting for the subcontractor. You must produce one valid JSON object only (no markdown, no commentary) that follows the schema below. Do not include code fences.

Requirements:
- Output must be a single JSON object with a "findings" array. Use an empty array when nothing is risky.
- Use uppercase severity values: HIGH, MEDIUM, LOW.
- category is an uppercase identifier of at most 64 characters. Prefer one of: %s. Use a new identifier only when none fits.
- matched_text must be copied verbatim from the contract, at most 500 characters.
- explanation says in one or two sentences why the clause is risky for the subcontractor.
- Do not give legal advice for a specific jurisdiction.

Schema (example with empty values):
{
  "findings": [
    {
      "category": "<string>",
      "severity": "<HIGH|MEDIUM|LOW>",
      "matched_text": "<string>",
      "explanation": "<string>"
    }
  ]
}`, strings.Join(categories, ", "))
}

// GetUserPrompt wraps the contract text.
func GetUserPrompt(text string) string {
	return "Review the following contract and respond with the JSON per schema.\n\nCONTRACT:\n" + text
}

// Response is the structure requested by the system prompt.
type Response struct {
	Findings *[]ResponseFinding `json:"findings"`
}

type ResponseFinding struct {
	Category    string `json:"category"`
	Severity    string `json:"severity"`
	MatchedText string `json:"matched_text"`
	Explanation string `json:"explanation"`
}

// DecodeFindings parses a model answer. Anything that does not follow the
// schema is an error, never an empty result.
func DecodeFindings(content string) ([]risk.Finding, error) {
	content = stripFences(strings.TrimSpace(content))
	if content == "" {
		return nil, fmt.Errorf("empty response")
	}

	var resp Response
	dec := json.NewDecoder(strings.NewReader(content))
	if err := dec.Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Findings == nil {
		return nil, fmt.Errorf("response has no findings field")
	}

	out := make([]risk.Finding, 0, len(*resp.Findings))
	for i, f := range *resp.Findings {
		sev, ok := risk.ParseSeverity(f.Severity)
		if !ok {
			return nil, fmt.Errorf("finding %d: unknown severity %q", i, f.Severity)
		}
		category := strings.ToUpper(strings.TrimSpace(f.Category))
		matched := strings.TrimSpace(f.MatchedText)
		if category == "" || matched == "" {
			return nil, fmt.Errorf("finding %d: category and matched_text are required", i)
		}
		if utf8.RuneCountInString(category) > risk.MaxCategoryLen {
			return nil, fmt.Errorf("finding %d: category longer than %d characters", i, risk.MaxCategoryLen)
		}
		out = append(out, risk.Finding{
			Category:    strings.ReplaceAll(category, " ", "_"),
			Severity:    sev,
			MatchedText: truncate(matched, 500),
			Explanation: strings.TrimSpace(f.Explanation),
			Source:      risk.SourceSemantic,
		})
	}
	return out, nil
}

// stripFences tolerates a ```json block despite the instructions.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
