package source

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/scbrown/genfeedback/internal/model"
)

// diagnosticAliases maps the alternate key names some diagnostics emitters
// use onto the canonical violation keys.
var diagnosticAliases = map[string]string{
	"path":    "endpoint",
	"route":   "endpoint",
	"status":  "http_status",
	"type":    "violation_type",
	"message": "detail",
	"error":   "detail",
}

// knownDiagnosticFields lists the canonical keys copied onto a Violation.
// Anything else in the payload is ignored.
var knownDiagnosticFields = map[string]bool{
	"endpoint":       true,
	"method":         true,
	"violation_type": true,
	"detail":         true,
	"exception":      true,
	"entity":         true,
	"code":           true,
	"http_status":    true,
}

// diagnostic implements Source for the runtime diagnostics subsystem. It
// accepts a single violation object, a JSON array, an object with a
// "violations" array, or newline-delimited objects.
type diagnostic struct{}

func init() {
	Register(&diagnostic{})
}

// Name returns "diagnostic".
func (d *diagnostic) Name() string { return "diagnostic" }

// Description returns a short human-readable description of this source.
func (d *diagnostic) Description() string { return "runtime diagnostics violation records (JSON/NDJSON)" }

// Extract decodes diagnostic violation records. In the array, envelope and
// newline-delimited forms each record is decoded on its own, so one bad
// record is reported without dropping the rest.
func (d *diagnostic) Extract(raw []byte) ([]model.Violation, []error, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil, nil
	}

	var (
		recs []json.RawMessage
		bad  []error
	)
	switch raw[0] {
	case '[':
		if err := json.Unmarshal(raw, &recs); err != nil {
			return nil, nil, fmt.Errorf("diagnostic: parsing JSON array: %w", err)
		}
	case '{':
		var err error
		recs, bad, err = decodeRecords(raw)
		if err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, fmt.Errorf("diagnostic: expected JSON object or array, got %q", raw[0])
	}

	out := make([]model.Violation, 0, len(recs))
	for i, rec := range recs {
		v, err := violationFromRecord(rec)
		if err != nil {
			bad = append(bad, fmt.Errorf("diagnostic: record %d: %w", i, err))
			continue
		}
		out = append(out, v)
	}
	return out, bad, nil
}

// decodeRecords handles the envelope, single-object and NDJSON forms. NDJSON
// lines that are not JSON are returned in bad.
func decodeRecords(raw []byte) ([]json.RawMessage, []error, error) {
	var first map[string]json.RawMessage
	if err := json.Unmarshal(raw, &first); err == nil {
		if vs, ok := first["violations"]; ok {
			var recs []json.RawMessage
			if err := json.Unmarshal(vs, &recs); err != nil {
				return nil, nil, fmt.Errorf("diagnostic: parsing violations: %w", err)
			}
			return recs, nil, nil
		}
		return []json.RawMessage{raw}, nil, nil
	}

	var (
		recs []json.RawMessage
		bad  []error
	)
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		if !json.Valid(text) {
			var m map[string]json.RawMessage
			err := json.Unmarshal(text, &m)
			bad = append(bad, fmt.Errorf("diagnostic: line %d: %w", line, err))
			continue
		}
		recs = append(recs, json.RawMessage(bytes.Clone(text)))
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("diagnostic: reading input: %w", err)
	}
	return recs, bad, nil
}

func violationFromRecord(rec json.RawMessage) (model.Violation, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(rec, &m); err != nil {
		return model.Violation{}, fmt.Errorf("expected JSON object: %w", err)
	}
	return violationFromMap(m)
}

func violationFromMap(m map[string]json.RawMessage) (model.Violation, error) {
	canon := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		k = strings.ToLower(k)
		if alias, ok := diagnosticAliases[k]; ok {
			if _, exists := m[alias]; exists {
				continue
			}
			k = alias
		}
		if knownDiagnosticFields[k] {
			canon[k] = v
		}
	}
	buf, err := json.Marshal(canon)
	if err != nil {
		return model.Violation{}, err
	}
	var v model.Violation
	if err := json.Unmarshal(buf, &v); err != nil {
		return model.Violation{}, fmt.Errorf("decoding fields: %w", err)
	}
	v.Source = "diagnostic"
	return v, nil
}
