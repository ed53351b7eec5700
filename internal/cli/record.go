package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/scbrown/genfeedback/internal/loop"
	"github.com/scbrown/genfeedback/internal/model"
)

var (
	recordFile string
	recordGen  model.GenContext
)

// eventBatch is the object form of record input. Bad holds one error for
// each event that could not be decoded.
type eventBatch struct {
	Context model.GenContext     `json:"context" yaml:"context"`
	Events  []model.FailureEvent `json:"events" yaml:"events"`
	Bad     []error              `json:"-" yaml:"-"`
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Run a feedback cycle over failure events",
	Long: `Record reads the failures observed in one generation attempt and stores
what they teach as anti-patterns. Events that carry a fixed code snippet also
store a repair pattern.

Input is read from stdin, or from --file. It may be a single event object, a
JSON array of events, newline-delimited events, or an object of the form
{"context": {...}, "events": [...]}. Files ending in .yaml or .yml are read
as YAML. The generation context given by flags fills any field the input
context leaves empty. An event that cannot be decoded is reported on stderr
and counted as failed; the rest of the batch is still recorded.`,
	Example: `  echo '{"endpoint":"/carts/7/items","method":"POST","exception_class":"IntegrityError","error_message":"null value in column category_id","status_code":500}' | gf record
  gf record --entity Cart --file failures.yaml
  gf record --json < run-42.ndjson`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, yamlInput, err := readInput(cmd.InOrStdin(), recordFile)
		if err != nil {
			return err
		}
		batch, err := decodeEvents(raw, yamlInput)
		if err != nil {
			return err
		}
		gc := mergeContext(batch.Context, recordGen)

		return withLoop(func(ctx context.Context, l *loop.Loop) error {
			stats := l.FeedbackCycleFor(ctx, gc, batch.Events)
			for _, e := range batch.Bad {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipped event: %v\n", e)
			}
			stats.Total += len(batch.Bad)
			stats.Failed += len(batch.Bad)
			w := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(w, stats)
			}
			fmt.Fprintln(w, stats.Summary())
			if len(stats.Entities) > 0 {
				fmt.Fprintf(w, "Entities: %s\n", strings.Join(stats.Entities, ", "))
			}
			return nil
		})
	},
}

func init() {
	recordCmd.Flags().StringVarP(&recordFile, "file", "f", "", "read events from a file instead of stdin")
	recordCmd.Flags().StringVar(&recordGen.Entity, "entity", "", "entity being generated")
	recordCmd.Flags().StringVar(&recordGen.Method, "method", "", "HTTP method of the generated endpoint")
	recordCmd.Flags().StringVar(&recordGen.Endpoint, "endpoint", "", "path of the generated endpoint")
	rootCmd.AddCommand(recordCmd)
}

// readInput returns the contents of path, or of stdin when path is empty,
// and whether the content should be read as YAML.
func readInput(stdin io.Reader, path string) ([]byte, bool, error) {
	if path == "" {
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return nil, false, fmt.Errorf("reading stdin: %w", err)
		}
		return raw, false, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("reading %s: %w", path, err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	return raw, ext == ".yaml" || ext == ".yml", nil
}

// decodeEvents accepts every input shape record documents. Events are
// decoded one at a time; an event that does not decode lands in batch.Bad
// and the rest are kept. An error is returned only when the input as a
// whole is unreadable.
func decodeEvents(raw []byte, yamlInput bool) (eventBatch, error) {
	var batch eventBatch
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return batch, nil
	}
	if yamlInput {
		return decodeYAMLEvents(raw)
	}

	var items []json.RawMessage
	switch raw[0] {
	case '[':
		if err := json.Unmarshal(raw, &items); err != nil {
			return batch, wrapDecode(err)
		}
		batch.addJSON(items)
		return batch, nil
	case '{':
	default:
		return batch, fmt.Errorf("parsing events: expected JSON object or array")
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		if evs, ok := obj["events"]; ok {
			if c, ok := obj["context"]; ok {
				if err := json.Unmarshal(c, &batch.Context); err != nil {
					return batch, fmt.Errorf("parsing events: context: %w", err)
				}
			}
			if err := json.Unmarshal(evs, &items); err != nil {
				return batch, wrapDecode(err)
			}
			batch.addJSON(items)
			return batch, nil
		}
		batch.addJSON([]json.RawMessage{raw})
		return batch, nil
	}

	// Newline-delimited events.
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 8<<20)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		var ev model.FailureEvent
		if err := json.Unmarshal(text, &ev); err != nil {
			batch.Bad = append(batch.Bad, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		batch.Events = append(batch.Events, ev)
	}
	return batch, sc.Err()
}

func (b *eventBatch) addJSON(items []json.RawMessage) {
	for i, item := range items {
		var ev model.FailureEvent
		if err := json.Unmarshal(item, &ev); err != nil {
			b.Bad = append(b.Bad, fmt.Errorf("event %d: %w", i, err))
			continue
		}
		b.Events = append(b.Events, ev)
	}
}

func decodeYAMLEvents(raw []byte) (eventBatch, error) {
	var batch eventBatch
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return batch, fmt.Errorf("parsing YAML events: %w", err)
	}
	if len(doc.Content) == 0 {
		return batch, nil
	}
	root := doc.Content[0]

	var items []*yaml.Node
	switch root.Kind {
	case yaml.SequenceNode:
		items = root.Content
	case yaml.MappingNode:
		var obj struct {
			Context model.GenContext `yaml:"context"`
			Events  []*yaml.Node     `yaml:"events"`
		}
		if err := root.Decode(&obj); err != nil {
			return batch, wrapDecode(err)
		}
		batch.Context = obj.Context
		items = obj.Events
	default:
		return batch, fmt.Errorf("parsing YAML events: expected a mapping or a list")
	}
	for i, item := range items {
		var ev model.FailureEvent
		if err := item.Decode(&ev); err != nil {
			batch.Bad = append(batch.Bad, fmt.Errorf("event %d: %w", i, err))
			continue
		}
		batch.Events = append(batch.Events, ev)
	}
	return batch, nil
}

func wrapDecode(err error) error {
	if err != nil {
		return fmt.Errorf("parsing events: %w", err)
	}
	return nil
}

// mergeContext fills the empty fields of gc from fallback.
func mergeContext(gc, fallback model.GenContext) model.GenContext {
	if gc.Entity == "" {
		gc.Entity = fallback.Entity
	}
	if gc.Method == "" {
		gc.Method = fallback.Method
	}
	if gc.Endpoint == "" {
		gc.Endpoint = fallback.Endpoint
	}
	if gc.ExpectedBehavior == "" {
		gc.ExpectedBehavior = fallback.ExpectedBehavior
	}
	return gc
}

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
