package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanwahyu/contract-risk/internal/application/analysis"
	"github.com/bryanwahyu/contract-risk/internal/domain/risk"
	"github.com/bryanwahyu/contract-risk/internal/logger"
)

var (
	scanSemantic bool
	scanJSON     bool
	scanFailOn   string
	scanTimeout  time.Duration
)

var scanCmd = &cobra.Command{
	Use:   "scan <file>",
	Short: "Assess a plain-text contract and print its findings",
	Long: `Scan runs the pattern catalog over a plain-text contract and prints the
findings with the overall severity. Nothing is stored.

Use "-" to read from stdin.

Example:
  contractrisk scan subcontract.txt
  contractrisk scan subcontract.txt --semantic --json
  cat subcontract.txt | contractrisk scan - --fail-on high`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().BoolVar(&scanSemantic, "semantic", false, "also run the OpenAI semantic analyzer (needs an API key)")
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "print the assessment as JSON")
	scanCmd.Flags().StringVar(&scanFailOn, "fail-on", "", "exit with status 2 when the overall severity is at least this level")
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", 2*time.Minute, "overall scan timeout")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	var threshold risk.Severity
	if scanFailOn != "" {
		sev, ok := risk.ParseSeverity(scanFailOn)
		if !ok {
			return fmt.Errorf("invalid --fail-on %q (allowed: high, medium, low)", scanFailOn)
		}
		threshold = sev
	}

	text, err := readInput(cmd.InOrStdin(), args[0])
	if err != nil {
		return err
	}
	catalog, err := buildCatalog(cfg.Analysis.PatternsFile)
	if err != nil {
		return fmt.Errorf("pattern catalog: %w", err)
	}

	var analyzer risk.SemanticAnalyzer
	if scanSemantic {
		if !cfg.SemanticEnabled() {
			return errors.New("--semantic needs openai.apiKey, CONTRACTRISK_OPENAI_APIKEY or OPENAI_API_KEY")
		}
		if analyzer, err = newAnalyzer(cfg, catalog); err != nil {
			return err
		}
	}
	opts, err := serviceOptions(cfg, catalog, logger.New(cfg, "contractrisk"))
	if err != nil {
		return err
	}
	if !scanSemantic {
		opts.Policy = analysis.PatternFallback
	}
	// evaluation touches no store
	svc := analysis.NewService(nil, nil, analyzer, opts)

	ctx, cancel := context.WithTimeout(cmd.Context(), scanTimeout)
	defer cancel()
	eval, err := svc.Evaluate(ctx, text)
	if err != nil {
		return errors.New(risk.PublicMessage(err))
	}
	// pattern-only is the expected mode here, not a degradation
	if !scanSemantic {
		eval.Degraded = false
	}

	out := cmd.OutOrStdout()
	if scanJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(eval); err != nil {
			return err
		}
	} else {
		printAssessment(out, eval)
	}

	if threshold != "" && eval.Overall.Rank() >= threshold.Rank() {
		return fmt.Errorf("overall severity %s: %w", eval.Overall, errThreshold)
	}
	return nil
}

func readInput(stdin io.Reader, name string) (string, error) {
	var (
		data []byte
		err  error
	)
	if name == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return string(data), nil
}

func printAssessment(w io.Writer, eval analysis.Evaluation) {
	high, medium, low := risk.CountBySeverity(eval.Findings)
	fmt.Fprintf(w, "Overall severity: %s (high=%d medium=%d low=%d)\n",
		eval.Overall, high, medium, low)
	if eval.Degraded {
		fmt.Fprintln(w, "Warning: semantic analysis failed, findings are pattern-only")
	}
	if len(eval.Findings) == 0 {
		fmt.Fprintln(w, "No findings.")
		return
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEVERITY\tCATEGORY\tSOURCE\tEXCERPT")
	for _, f := range eval.Findings {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.Severity, f.Category, f.Source, excerpt(f.MatchedText, 80))
	}
	_ = tw.Flush()
}

func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
