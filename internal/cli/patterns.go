package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/scbrown/genfeedback/internal/model"
	"github.com/scbrown/genfeedback/internal/store"
)

var (
	patternsEntity    string
	patternsEndpoint  string
	patternsKind      string
	patternsErrorType string
	patternsMin       int
	patternsLimit     int
)

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "List recorded anti-patterns",
	Long: `Patterns lists anti-patterns ranked the way the advisor sees them: highest
severity first, then most frequent, then most recent. Filters on entity and
endpoint also match wildcard records.`,
	Example: `  gf patterns
  gf patterns --entity Cart --min 2
  gf patterns --kind integrity --limit 10 --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := store.QueryOpts{
			Entity:         patternsEntity,
			Endpoint:       patternsEndpoint,
			ErrorType:      patternsErrorType,
			MinOccurrences: patternsMin,
			Limit:          patternsLimit,
		}
		if patternsKind != "" {
			opts.Kind = model.ParseErrorKind(patternsKind)
		}
		return withStore(func(ctx context.Context, s store.Store) error {
			ps, err := s.Query(ctx, opts)
			if err != nil {
				return fmt.Errorf("query patterns: %w", err)
			}
			w := cmd.OutOrStdout()
			if jsonOutput {
				if ps == nil {
					ps = []model.AntiPattern{}
				}
				return writeJSON(w, ps)
			}
			writePatternsTable(w, ps)
			return nil
		})
	},
}

func init() {
	patternsCmd.Flags().StringVar(&patternsEntity, "entity", "", "filter by entity")
	patternsCmd.Flags().StringVar(&patternsEndpoint, "endpoint", "", "filter by normalized endpoint")
	patternsCmd.Flags().StringVar(&patternsKind, "kind", "", "filter by error kind (e.g. integrity, validation)")
	patternsCmd.Flags().StringVar(&patternsErrorType, "error-type", "", "filter by error type (e.g. server_error)")
	patternsCmd.Flags().IntVar(&patternsMin, "min", 1, "minimum occurrence count")
	patternsCmd.Flags().IntVar(&patternsLimit, "limit", 50, "maximum number of results")
	rootCmd.AddCommand(patternsCmd)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func writePatternsTable(w io.Writer, ps []model.AntiPattern) {
	if len(ps) == 0 {
		fmt.Fprintln(w, "No patterns found.")
		return
	}
	tbl := NewTable(w, "ID", "ENTITY", "ENDPOINT", "EXCEPTION", "KIND", "COUNT", "SEVERITY", "LAST SEEN")
	for _, p := range ps {
		tbl.Row(
			shortID(p.ID),
			p.EntityPattern,
			truncate(p.EndpointPattern, 32),
			p.ExceptionClass,
			p.Kind.String(),
			humanize.Comma(int64(p.OccurrenceCount)),
			fmt.Sprintf("%.2f", p.SeverityScore),
			humanize.Time(p.LastSeen),
		)
	}
	tbl.Flush()
}
