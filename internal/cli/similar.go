package cli

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/scbrown/genfeedback/internal/advisor"
	"github.com/scbrown/genfeedback/internal/store"
)

// DefaultSimilarThreshold is the minimum message similarity similar reports.
const DefaultSimilarThreshold = 0.5

var (
	similarThreshold float64
	similarTopN      int
)

// similarMatch is one ranked neighbour of a pattern.
type similarMatch struct {
	ID       string  `json:"pattern_id"`
	Entity   string  `json:"entity_pattern"`
	Endpoint string  `json:"endpoint_pattern"`
	Message  string  `json:"error_message_pattern"`
	Score    float64 `json:"score"`
}

// similarOutput is the JSON structure for similar results.
type similarOutput struct {
	Query   string         `json:"query"`
	Matches []similarMatch `json:"matches"`
}

var similarCmd = &cobra.Command{
	Use:   "similar <pattern-id>",
	Short: "Find anti-patterns with messages similar to one pattern",
	Long: `Similar ranks the other recorded anti-patterns by how close their message
templates are to the given pattern's, using normalized edit distance. It is a
quick way to spot failures that differ only in wording or in the entity they
hit.`,
	Example: `  gf similar 3f2a9c1e
  gf similar 3f2a9c1e --threshold 0.3 --top 10 --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		threshold := similarThreshold
		if threshold <= 0 {
			threshold = DefaultSimilarThreshold
		}
		return withStore(func(ctx context.Context, s store.Store) error {
			p, err := findPattern(ctx, s, args[0])
			if err != nil {
				return err
			}
			if p == nil {
				return fmt.Errorf("no pattern with id %q", args[0])
			}
			all, err := s.Query(ctx, store.QueryOpts{MinOccurrences: 1})
			if err != nil {
				return fmt.Errorf("query patterns: %w", err)
			}

			matches := []similarMatch{}
			for _, o := range all {
				if o.ID == p.ID {
					continue
				}
				score := advisor.Similarity(p.ErrorMessagePattern, o.ErrorMessagePattern)
				if score < threshold {
					continue
				}
				matches = append(matches, similarMatch{
					ID:       o.ID,
					Entity:   o.EntityPattern,
					Endpoint: o.EndpointPattern,
					Message:  o.ErrorMessagePattern,
					Score:    score,
				})
			}
			sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
			if similarTopN > 0 && len(matches) > similarTopN {
				matches = matches[:similarTopN]
			}

			w := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(w, similarOutput{Query: p.ID, Matches: matches})
			}
			writeSimilarTable(w, p.ErrorMessagePattern, matches)
			return nil
		})
	},
}

func init() {
	similarCmd.Flags().Float64Var(&similarThreshold, "threshold", 0, "minimum similarity score (default 0.5)")
	similarCmd.Flags().IntVar(&similarTopN, "top", 5, "maximum number of matches")
	rootCmd.AddCommand(similarCmd)
}

func writeSimilarTable(w io.Writer, query string, matches []similarMatch) {
	if len(matches) == 0 {
		fmt.Fprintf(w, "No similar patterns found for %q\n", truncate(query, 60))
		return
	}
	tbl := NewTable(w, "RANK", "ID", "ENTITY", "SCORE", "MESSAGE")
	for i, m := range matches {
		tbl.Row(fmt.Sprintf("%d", i+1), shortID(m.ID), m.Entity, fmt.Sprintf("%.2f", m.Score), truncate(m.Message, 50))
	}
	tbl.Flush()
}
