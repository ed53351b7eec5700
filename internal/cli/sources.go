package cli

import (
	"github.com/spf13/cobra"

	"github.com/scbrown/genfeedback/internal/source"
)

// sourceInfo is the JSON structure for the sources command output.
type sourceInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available source plugins",
	Long: `Display the registered source plugins that gf bridge --source can use to
decode diagnostic output into violations.`,
	Example: `  gf sources
  gf sources --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		names := source.Names()
		sources := make([]sourceInfo, 0, len(names))
		for _, name := range names {
			sources = append(sources, sourceInfo{Name: name, Description: source.Describe(source.Get(name))})
		}

		w := cmd.OutOrStdout()
		if jsonOutput {
			return writeJSON(w, sources)
		}
		tbl := NewTable(w, "NAME", "DESCRIPTION")
		for _, s := range sources {
			tbl.Row(s.Name, s.Description)
		}
		return tbl.Flush()
	},
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}
