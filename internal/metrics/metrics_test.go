package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.CyclesTotal.Inc()
	m.ViolationsBridged.WithLabelValues(OutcomeCreated).Inc()
	m.ViolationsBridged.WithLabelValues(OutcomeCreated).Inc()

	if got := testutil.ToFloat64(m.CyclesTotal); got != 1 {
		t.Errorf("cycles = %v, want 1", got)
	}

	expected := `
# HELP gf_violations_bridged_total Diagnostic violations bridged into the pattern store by outcome
# TYPE gf_violations_bridged_total counter
gf_violations_bridged_total{outcome="created"} 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "gf_violations_bridged_total"); err != nil {
		t.Error(err)
	}
}

func TestNewWithNilRegisterer(t *testing.T) {
	m := New(nil)
	m.StoreErrors.WithLabelValues("upsert").Inc()
	if got := testutil.ToFloat64(m.StoreErrors.WithLabelValues("upsert")); got != 1 {
		t.Errorf("store errors = %v, want 1", got)
	}

	// A second set must not collide with the first.
	New(nil).CyclesTotal.Inc()
}

func TestNewTwiceOnOneRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	defer func() {
		if recover() == nil {
			t.Error("expected duplicate registration to panic")
		}
	}()
	New(reg)
}
