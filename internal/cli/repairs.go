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
	repairsEntity   string
	repairsEndpoint string
	repairsType     string
	repairsLimit    int
)

var repairsCmd = &cobra.Command{
	Use:   "repairs",
	Short: "List recorded repair patterns",
	Long: `Repairs lists the fixes that made failing generations pass, most
successful first. They are recorded by gf record for events that carry fixed
code, and feed the "use" half of gf advise.`,
	Example: `  gf repairs
  gf repairs --entity Cart
  gf repairs --type integrity --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := store.RepairQueryOpts{
			Entity:     repairsEntity,
			Endpoint:   repairsEndpoint,
			RepairType: repairsType,
			Limit:      repairsLimit,
		}
		return withStore(func(ctx context.Context, s store.Store) error {
			rs, err := s.QueryRepairs(ctx, opts)
			if err != nil {
				return fmt.Errorf("query repairs: %w", err)
			}
			w := cmd.OutOrStdout()
			if jsonOutput {
				if rs == nil {
					rs = []model.RepairPattern{}
				}
				return writeJSON(w, rs)
			}
			writeRepairsTable(w, rs)
			return nil
		})
	},
}

func init() {
	repairsCmd.Flags().StringVar(&repairsEntity, "entity", "", "filter by entity")
	repairsCmd.Flags().StringVar(&repairsEndpoint, "endpoint", "", "filter by normalized endpoint")
	repairsCmd.Flags().StringVar(&repairsType, "type", "", "filter by repair type")
	repairsCmd.Flags().IntVar(&repairsLimit, "limit", 50, "maximum number of results")
	rootCmd.AddCommand(repairsCmd)
}

func writeRepairsTable(w io.Writer, rs []model.RepairPattern) {
	if len(rs) == 0 {
		fmt.Fprintln(w, "No repairs found.")
		return
	}
	tbl := NewTable(w, "ID", "TYPE", "ENTITY", "ENDPOINT", "SUCCESSES", "LAST APPLIED", "FIX")
	for _, r := range rs {
		tbl.Row(
			shortID(r.ID),
			r.RepairType,
			r.EntityPattern,
			truncate(r.EndpointPattern, 32),
			humanize.Comma(int64(r.SuccessCount)),
			humanize.Time(r.LastApplied),
			truncate(r.FixDescription, 48),
		)
	}
	tbl.Flush()
}
