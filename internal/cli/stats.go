package cli

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/scbrown/genfeedback/internal/store"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show summary statistics about learned patterns",
	Long: `Display a summary of stored knowledge: anti-pattern and repair counts,
total occurrences, the date range, and breakdowns by error type, error kind
and entity.`,
	Example: `  gf stats
  gf stats --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, s store.Store) error {
			st, err := s.Stats(ctx)
			if err != nil {
				return fmt.Errorf("get stats: %w", err)
			}
			w := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(w, st)
			}
			printStatsText(w, st)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func printStatsText(w io.Writer, st store.Stats) {
	color := isTTY(w)

	fmt.Fprintf(w, "Anti-patterns:  %s\n", humanize.Comma(int64(st.AntiPatterns)))
	fmt.Fprintf(w, "Repairs:        %s\n", humanize.Comma(int64(st.Repairs)))
	fmt.Fprintf(w, "Occurrences:    %s\n", humanize.Comma(int64(st.Occurrences)))

	if st.AntiPatterns == 0 {
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Date range:     %s to %s\n", st.Earliest.Format("2006-01-02"), st.Latest.Format("2006-01-02"))
	fmt.Fprintf(w, "Last seen:      %s\n", humanize.Time(st.Latest))

	writeCounts(w, "By error type:", st.ByErrorType, color)
	writeCounts(w, "By kind:", st.ByKind, color)

	if len(st.TopEntities) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, bold("Top entities:", color))
		for _, e := range st.TopEntities {
			fmt.Fprintf(w, "  %-20s %d\n", e.Name, e.Count)
		}
	}
}

// writeCounts prints m sorted by count descending, then by name.
func writeCounts(w io.Writer, title string, m map[string]int, color bool) {
	if len(m) == 0 {
		return
	}
	type kv struct {
		key string
		val int
	}
	sorted := make([]kv, 0, len(m))
	for k, v := range m {
		sorted = append(sorted, kv{k, v})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].val != sorted[j].val {
			return sorted[i].val > sorted[j].val
		}
		return sorted[i].key < sorted[j].key
	})
	fmt.Fprintln(w)
	fmt.Fprintln(w, bold(title, color))
	for _, s := range sorted {
		fmt.Fprintf(w, "  %-20s %d\n", s.key, s.val)
	}
}
