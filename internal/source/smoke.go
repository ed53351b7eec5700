package source

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/scbrown/genfeedback/internal/fingerprint"
	"github.com/scbrown/genfeedback/internal/model"
)

// smokeReport is the report a smoke-test run writes. YAML is a superset of
// JSON, so both encodings decode through the same structure.
type smokeReport struct {
	Entity  string      `yaml:"entity"`
	Results []yaml.Node `yaml:"results"`
}

type smokeResult struct {
	Name      string `yaml:"name"`
	Method    string `yaml:"method"`
	Path      string `yaml:"path"`
	Status    int    `yaml:"status"`
	Expected  int    `yaml:"expected_status"`
	Passed    *bool  `yaml:"passed"`
	Error     string `yaml:"error"`
	Exception string `yaml:"exception"`
	Entity    string `yaml:"entity"`
	Code      string `yaml:"code"`
}

// failed reports whether the result is a failure. An explicit passed flag
// wins; otherwise the status is compared with the expected one, or checked
// for an error class when no expectation was recorded.
func (r smokeResult) failed() bool {
	if r.Passed != nil {
		return !*r.Passed
	}
	if r.Expected != 0 {
		return r.Status != r.Expected
	}
	return r.Status >= 400 || r.Error != ""
}

// smoke implements Source for smoke-test reports.
type smoke struct{}

func init() {
	Register(&smoke{})
}

// Name returns "smoke-report".
func (s *smoke) Name() string { return "smoke-report" }

// Description returns a short human-readable description of this source.
func (s *smoke) Description() string { return "smoke-test run reports (YAML or JSON)" }

// Extract returns one violation per failed smoke result. Passing results
// are skipped; a result that does not decode or has no path is reported in
// bad.
func (s *smoke) Extract(raw []byte) ([]model.Violation, []error, error) {
	var rep smokeReport
	if err := yaml.Unmarshal(raw, &rep); err != nil {
		return nil, nil, fmt.Errorf("smoke-report: parsing report: %w", err)
	}

	var (
		out []model.Violation
		bad []error
	)
	for i, node := range rep.Results {
		var r smokeResult
		if err := node.Decode(&r); err != nil {
			bad = append(bad, fmt.Errorf("smoke-report: result %d: %w", i, err))
			continue
		}
		if !r.failed() {
			continue
		}
		if r.Path == "" {
			bad = append(bad, fmt.Errorf("smoke-report: result %d: missing path", i))
			continue
		}
		entity := r.Entity
		if entity == "" {
			entity = rep.Entity
		}
		detail := strings.TrimSpace(r.Error)
		if detail == "" {
			detail = fmt.Sprintf("%s %s returned %d", strings.ToUpper(r.Method), r.Path, r.Status)
			if r.Expected != 0 {
				detail += fmt.Sprintf(", expected %d", r.Expected)
			}
		}
		out = append(out, model.Violation{
			Endpoint:      r.Path,
			Method:        strings.ToUpper(r.Method),
			ViolationType: fingerprint.InferErrorType(r.Status, detail),
			Detail:        detail,
			Exception:     r.Exception,
			Entity:        entity,
			Code:          r.Code,
			HTTPStatus:    r.Status,
			Source:        "smoke-report",
		})
	}
	return out, bad, nil
}
