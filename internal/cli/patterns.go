package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	patternsFile string
	patternsJSON bool
)

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "List the risk pattern catalog",
	Long: `Patterns prints the built-in catalog, extended with the patterns of
--file (or analysis.patternsFile) when given. Invalid extra patterns are
reported and nothing is listed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		file := patternsFile
		if file == "" {
			file = cfg.Analysis.PatternsFile
		}
		catalog, err := buildCatalog(file)
		if err != nil {
			return fmt.Errorf("pattern catalog: %w", err)
		}

		out := cmd.OutOrStdout()
		if patternsJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(catalog.Patterns())
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tSEVERITY\tCATEGORY")
		for _, p := range catalog.Patterns() {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Name, p.Severity, p.Category)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(out, "\n%d patterns\n", catalog.Len())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(patternsCmd)

	patternsCmd.Flags().StringVar(&patternsFile, "file", "", "YAML file with extra patterns")
	patternsCmd.Flags().BoolVar(&patternsJSON, "json", false, "print patterns as JSON")
}
