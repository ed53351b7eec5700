package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/scbrown/genfeedback/internal/loop"
	"github.com/scbrown/genfeedback/internal/model"
)

var (
	adviseEndpoint string
	adviseMin      int
)

var adviseCmd = &cobra.Command{
	Use:   "advise <entity>",
	Short: "Show what to avoid and what to do when generating an entity",
	Long: `Advise lists the recorded anti-patterns for an entity as things to avoid,
and the known fixes and route conventions as things to do. Use "*" as the
entity to advise on an endpoint alone.

--endpoint narrows the advice to one route; include the method to get
route-specific guidance, such as an existence check for DELETE /orders/{id}.`,
	Example: `  gf advise Cart
  gf advise Order --endpoint "DELETE /orders/{id}"
  gf advise Cart --min 3 --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLoop(func(ctx context.Context, l *loop.Loop) error {
			adv := l.Advise(ctx, args[0], adviseEndpoint, adviseMin)
			w := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(w, adv)
			}
			writeAdviceText(w, adv)
			return nil
		})
	},
}

func init() {
	adviseCmd.Flags().StringVar(&adviseEndpoint, "endpoint", "", `endpoint, optionally with method (e.g. "DELETE /orders/{id}")`)
	adviseCmd.Flags().IntVar(&adviseMin, "min", 0, "minimum occurrences for a pattern to count (default from config)")
	rootCmd.AddCommand(adviseCmd)
}

func writeAdviceText(w io.Writer, adv model.Advice) {
	color := isTTY(w)
	width := defaultTermWidth
	if color {
		width = getTermWidth()
	}

	target := adv.Entity
	if adv.Endpoint != "" {
		target += " " + adv.Endpoint
	}
	fmt.Fprintf(w, "Advice for %s\n", target)
	if adv.Degraded {
		fmt.Fprintln(w, "(store unavailable; showing route guidance only)")
	}
	if !adv.HasAdvice() {
		fmt.Fprintln(w, "\nNo guidance recorded yet.")
		return
	}
	fmt.Fprintf(w, "Matched %d pattern(s): %d high risk, %d medium risk\n", len(adv.Matched), adv.HighRisk, adv.MediumRisk)

	for _, sec := range []struct {
		title string
		items []string
	}{{"Avoid:", adv.Avoid}, {"Use:", adv.Use}} {
		if len(sec.items) == 0 {
			continue
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, bold(sec.title, color))
		for i, it := range sec.items {
			fmt.Fprintf(w, "  %2d. %s\n", i+1, truncate(it, max(width-6, 30)))
		}
	}
}
