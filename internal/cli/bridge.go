package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/scbrown/genfeedback/internal/loop"
	"github.com/scbrown/genfeedback/internal/model"
	"github.com/scbrown/genfeedback/internal/source"
)

var (
	bridgeSource string
	bridgeFile   string
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Store diagnostic violations as anti-patterns",
	Long: `Bridge converts violations reported by another diagnostic subsystem into
anti-patterns in the same store the feedback cycle writes. Bridging the same
violation twice increments the existing record.

Without --source, input is a violation object or a JSON array of violations
(YAML when --file ends in .yaml or .yml). With --source, input is decoded by
the named source plugin; see gf sources for the list.

A violation that fails validation is counted and reported; it never stops the
rest of the batch.`,
	Example: `  echo '{"endpoint":"POST /orders/{id}/pay","violation_type":"business_logic","detail":"Order 12 is already paid"}' | gf bridge
  gf bridge --source diagnostic < diagnostics.ndjson
  gf bridge --source smoke-report --file smoke.yaml --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, yamlInput, err := readInput(cmd.InOrStdin(), bridgeFile)
		if err != nil {
			return err
		}
		var vs []model.Violation
		if bridgeSource == "" {
			if vs, err = decodeViolations(raw, yamlInput); err != nil {
				return err
			}
		} else if source.Get(bridgeSource) == nil {
			return fmt.Errorf("unknown source %q (available: %s)", bridgeSource, strings.Join(source.Names(), ", "))
		}

		return withLoop(func(ctx context.Context, l *loop.Loop) error {
			var res model.BatchResult
			if bridgeSource != "" {
				res, err = l.Bridge().Ingest(ctx, raw, bridgeSource)
				if err != nil {
					return err
				}
			} else {
				res = l.Bridge().BridgeBatch(ctx, vs)
			}
			return writeBatchResult(cmd.OutOrStdout(), res)
		})
	},
}

func init() {
	bridgeCmd.Flags().StringVar(&bridgeSource, "source", "", "decode input with a source plugin")
	bridgeCmd.Flags().StringVarP(&bridgeFile, "file", "f", "", "read violations from a file instead of stdin")
	rootCmd.AddCommand(bridgeCmd)
}

func decodeViolations(raw []byte, yamlInput bool) ([]model.Violation, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	var vs []model.Violation
	if yamlInput {
		var node yaml.Node
		if err := yaml.Unmarshal(raw, &node); err != nil {
			return nil, fmt.Errorf("parsing YAML violations: %w", err)
		}
		if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
			err := node.Decode(&vs)
			return vs, wrapViolations(err)
		}
		var v model.Violation
		err := node.Decode(&v)
		return []model.Violation{v}, wrapViolations(err)
	}
	if raw[0] == '[' {
		err := json.Unmarshal(raw, &vs)
		return vs, wrapViolations(err)
	}
	var v model.Violation
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, wrapViolations(err)
	}
	return []model.Violation{v}, nil
}

func wrapViolations(err error) error {
	if err != nil {
		return fmt.Errorf("parsing violations: %w", err)
	}
	return nil
}

func writeBatchResult(w io.Writer, res model.BatchResult) error {
	if jsonOutput {
		return writeJSON(w, res)
	}
	fmt.Fprintf(w, "Bridged %d violation(s): %d new, %d existing, %d failed\n",
		res.Bridged, res.NewPatterns, res.ExistingPatterns, res.Failed)
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  error: %s\n", e)
	}
	return nil
}
