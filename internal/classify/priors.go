package classify

import (
	"maps"

	"github.com/scbrown/genfeedback/internal/model"
)

// Priors maps an error kind to its severity in [0,1]. Only the ordering is
// meaningful: a higher prior ranks a pattern earlier.
type Priors map[model.ErrorKind]float64

// DefaultPriors returns the built-in severity table.
func DefaultPriors() Priors {
	return Priors{
		model.KindIntegrity:     0.9,
		model.KindAttribute:     0.8,
		model.KindType:          0.7,
		model.KindKey:           0.7,
		model.KindValidation:    0.6,
		model.KindFieldRequired: 0.6,
		model.KindValue:         0.5,
		model.KindNotFound:      0.5,
		model.KindPermission:    0.5,
		model.KindUnknown:       0.4,
	}
}

// Merge returns a copy of p with every entry of over applied on top.
// Values are clamped to [0,1].
func (p Priors) Merge(over Priors) Priors {
	out := maps.Clone(p)
	if out == nil {
		out = Priors{}
	}
	for k, v := range over {
		out[k] = min(max(v, 0), 1)
	}
	return out
}

// Severity returns the prior for k, falling back to the unknown prior.
func (p Priors) Severity(k model.ErrorKind) float64 {
	if v, ok := p[k]; ok {
		return v
	}
	return p[model.KindUnknown]
}

// ParsePriors converts a kind-name keyed table, as found in config files,
// into Priors. Unknown kind names are reported in the second return value.
func ParsePriors(raw map[string]float64) (Priors, []string) {
	out := Priors{}
	var unknown []string
	for name, v := range raw {
		k := model.ParseErrorKind(name)
		if k == model.KindUnknown && name != string(model.KindUnknown) {
			unknown = append(unknown, name)
			continue
		}
		out[k] = v
	}
	return out, unknown
}
