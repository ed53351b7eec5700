package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/scbrown/genfeedback/internal/model"
	"github.com/scbrown/genfeedback/internal/store"
)

// inspectOutput is the JSON structure for inspect.
type inspectOutput struct {
	Pattern *model.AntiPattern    `json:"pattern,omitempty"`
	Repair  *model.RepairPattern  `json:"repair,omitempty"`
	Repairs []model.RepairPattern `json:"related_repairs,omitempty"`
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <id>",
	Short: "Show one anti-pattern or repair in detail",
	Long: `Inspect prints every field of an anti-pattern or repair pattern. The id
may be the full id or the unique prefix shown by gf patterns and gf repairs.
For an anti-pattern, the repairs recorded for the same entity and endpoint are
listed as well.`,
	Example: `  gf inspect 3f2a9c1e
  gf inspect 3f2a9c1e-8d4b-5b6f-9a0e-1c2d3e4f5a6b --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, s store.Store) error {
			out, err := lookup(ctx, s, args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(w, out)
			}
			writeInspectText(w, out)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func lookup(ctx context.Context, s store.Store, id string) (inspectOutput, error) {
	var out inspectOutput
	p, err := findPattern(ctx, s, id)
	if err != nil {
		return out, err
	}
	if p != nil {
		out.Pattern = p
		out.Repairs, err = s.QueryRepairs(ctx, store.RepairQueryOpts{Entity: p.EntityPattern, Endpoint: p.EndpointPattern, Limit: 5})
		if err != nil {
			return out, fmt.Errorf("query repairs: %w", err)
		}
		return out, nil
	}

	rp, err := s.GetRepair(ctx, id)
	if err != nil {
		return out, fmt.Errorf("get repair: %w", err)
	}
	if rp == nil {
		rs, err := s.QueryRepairs(ctx, store.RepairQueryOpts{})
		if err != nil {
			return out, fmt.Errorf("query repairs: %w", err)
		}
		for i := range rs {
			if strings.HasPrefix(rs[i].ID, id) {
				if rp != nil {
					return out, fmt.Errorf("id prefix %q is ambiguous", id)
				}
				rp = &rs[i]
			}
		}
	}
	if rp == nil {
		return out, fmt.Errorf("no pattern or repair with id %q", id)
	}
	out.Repair = rp
	return out, nil
}

// findPattern resolves a full id or a unique id prefix. It returns nil when
// nothing matches.
func findPattern(ctx context.Context, s store.Store, id string) (*model.AntiPattern, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get pattern: %w", err)
	}
	if p != nil {
		return p, nil
	}
	ps, err := s.Query(ctx, store.QueryOpts{MinOccurrences: 1})
	if err != nil {
		return nil, fmt.Errorf("query patterns: %w", err)
	}
	var found *model.AntiPattern
	for i := range ps {
		if strings.HasPrefix(ps[i].ID, id) {
			if found != nil {
				return nil, fmt.Errorf("id prefix %q is ambiguous", id)
			}
			found = &ps[i]
		}
	}
	return found, nil
}

func writeInspectText(w io.Writer, out inspectOutput) {
	color := isTTY(w)
	if p := out.Pattern; p != nil {
		fmt.Fprintf(w, "Pattern:     %s\n", p.ID)
		fmt.Fprintf(w, "Entity:      %s\n", p.EntityPattern)
		fmt.Fprintf(w, "Endpoint:    %s\n", p.EndpointPattern)
		fmt.Fprintf(w, "Field:       %s\n", p.FieldPattern)
		fmt.Fprintf(w, "Exception:   %s (%s)\n", p.ExceptionClass, p.Kind)
		fmt.Fprintf(w, "Error type:  %s\n", p.ErrorType)
		fmt.Fprintf(w, "Message:     %s\n", p.ErrorMessagePattern)
		fmt.Fprintf(w, "Occurrences: %s\n", humanize.Comma(int64(p.OccurrenceCount)))
		fmt.Fprintf(w, "Severity:    %.2f\n", p.SeverityScore)
		fmt.Fprintf(w, "First seen:  %s (%s)\n", p.CreatedAt.UTC().Format(time.RFC3339), humanize.Time(p.CreatedAt))
		fmt.Fprintf(w, "Last seen:   %s (%s)\n", p.LastSeen.UTC().Format(time.RFC3339), humanize.Time(p.LastSeen))
		writeSnippet(w, "Failing code:", p.BadCodeSnippet, color)
		writeSnippet(w, "Correct code:", p.CorrectCodeSnippet, color)
		if len(out.Repairs) > 0 {
			fmt.Fprintln(w)
			fmt.Fprintln(w, bold("Repairs:", color))
			for _, r := range out.Repairs {
				fmt.Fprintf(w, "  %s  %s (applied %dx)\n", shortID(r.ID), r.FixDescription, r.SuccessCount)
			}
		}
		return
	}
	r := out.Repair
	fmt.Fprintf(w, "Repair:       %s\n", r.ID)
	fmt.Fprintf(w, "Type:         %s\n", r.RepairType)
	fmt.Fprintf(w, "Entity:       %s\n", r.EntityPattern)
	fmt.Fprintf(w, "Endpoint:     %s\n", r.EndpointPattern)
	fmt.Fprintf(w, "Field:        %s\n", r.FieldPattern)
	fmt.Fprintf(w, "Fix:          %s\n", r.FixDescription)
	if r.TargetFileHint != "" {
		fmt.Fprintf(w, "Target file:  %s\n", r.TargetFileHint)
	}
	fmt.Fprintf(w, "Successes:    %s\n", humanize.Comma(int64(r.SuccessCount)))
	fmt.Fprintf(w, "Last applied: %s\n", humanize.Time(r.LastApplied))
	writeSnippet(w, "Code:", r.CodeSnippet, color)
}

func writeSnippet(w io.Writer, title, code string, color bool) {
	if code == "" {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, bold(title, color))
	for _, line := range strings.Split(code, "\n") {
		fmt.Fprintf(w, "    %s\n", line)
	}
}
