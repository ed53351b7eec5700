package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scbrown/genfeedback/internal/loop"
	"github.com/scbrown/genfeedback/internal/model"
)

var adjustCmd = &cobra.Command{
	Use:   "adjust <entity>",
	Short: "Show structural overrides for a templated generator",
	Long: `Adjust maps the anti-patterns recorded against an entity to field and
relationship overrides: nullable foreign keys, defaults, type coercion, lazy
loading and optional fields. The same store always yields the same overrides.`,
	Example: `  gf adjust Product
  gf adjust Product --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLoop(func(ctx context.Context, l *loop.Loop) error {
			adj := l.AdjustmentsFor(ctx, args[0])
			w := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(w, adj)
			}
			writeAdjustmentsTable(w, adj)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(adjustCmd)
}

func writeAdjustmentsTable(w io.Writer, adj model.Adjustments) {
	if adj.Empty() {
		fmt.Fprintf(w, "No adjustments for %s\n", adj.Entity)
		return
	}
	fields := make([]string, 0, len(adj.Fields))
	for f := range adj.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	tbl := NewTable(w, "FIELD", "OVERRIDE", "REASON")
	for _, f := range fields {
		tbl.Row(f, describeOverride(adj.Fields[f]), truncate(adj.Rationale[f], 60))
	}
	rels := make([]string, 0, len(adj.Relationships))
	for r := range adj.Relationships {
		rels = append(rels, r)
	}
	sort.Strings(rels)
	for _, r := range rels {
		rel := adj.Relationships[r]
		tbl.Row(r, fmt.Sprintf("relationship nullable=%t on_delete=%s", rel.Nullable, rel.OnDelete), "")
	}
	tbl.Flush()
}

func describeOverride(o model.FieldOverride) string {
	var parts []string
	if o.Nullable != nil {
		parts = append(parts, fmt.Sprintf("%s=%t", model.AdjustNullable, *o.Nullable))
	}
	if o.Default != nil {
		parts = append(parts, fmt.Sprintf("%s=%#v", model.AdjustDefault, o.Default))
	}
	if o.TypeCoerce != nil {
		parts = append(parts, fmt.Sprintf("%s=%t", model.AdjustTypeCoerce, *o.TypeCoerce))
	}
	if o.Lazy != "" {
		parts = append(parts, fmt.Sprintf("%s=%s", model.AdjustLazyLoad, o.Lazy))
	}
	if o.Optional != nil {
		parts = append(parts, fmt.Sprintf("%s=%t", model.AdjustOptional, *o.Optional))
	}
	return strings.Join(parts, " ")
}
