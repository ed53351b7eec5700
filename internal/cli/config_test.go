package cli

import (
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/scbrown/genfeedback/internal/config"
)

func TestConfigCmdShowEmpty(t *testing.T) {
	setupCLI(t)

	out := mustRun(t, "", "config")
	if !strings.Contains(out, "KEY") || !strings.Contains(out, "VALUE") {
		t.Errorf("expected table headers, got: %s", out)
	}
	for _, key := range config.ValidKeys() {
		if !strings.Contains(out, key) {
			t.Errorf("expected key %s, got: %s", key, out)
		}
	}
	if !strings.Contains(out, "(not set)") {
		t.Errorf("expected (not set) for empty values, got: %s", out)
	}
}

func TestConfigCmdSetGet(t *testing.T) {
	setupCLI(t)

	out := mustRun(t, "", "config", "store_mode", "badger")
	if strings.TrimSpace(out) != "store_mode = badger" {
		t.Errorf("set output = %q", out)
	}
	out = mustRun(t, "", "config", "store_mode")
	if strings.TrimSpace(out) != "badger" {
		t.Errorf("get output = %q, want badger", out)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("read config file: %v", err)
	}
	if !strings.Contains(string(data), "store_mode = 'badger'") && !strings.Contains(string(data), `store_mode = "badger"`) {
		t.Errorf("config file does not record store_mode:\n%s", data)
	}
}

func TestConfigCmdSeverityPrior(t *testing.T) {
	setupCLI(t)

	mustRun(t, "", "config", "severity_priors.integrity", "0.95")
	out := mustRun(t, "", "config", "severity_priors.integrity")
	if strings.TrimSpace(out) != "0.95" {
		t.Errorf("get prior = %q, want 0.95", out)
	}
	out = mustRun(t, "", "config")
	if !strings.Contains(out, "severity_priors.integrity") {
		t.Errorf("show output missing prior row:\n%s", out)
	}
}

func TestConfigCmdRejectsBadInput(t *testing.T) {
	setupCLI(t)

	cases := [][]string{
		{"config", "no_such_key"},
		{"config", "store_mode", "mongo"},
		{"config", "min_occurrences", "-1"},
		{"config", "severity_priors.integrity", "1.5"},
	}
	for _, args := range cases {
		if _, err := runCLI(t, "", args...); err == nil {
			t.Errorf("gf %s: expected error", strings.Join(args, " "))
		}
	}
}

func TestConfigCmdJSON(t *testing.T) {
	setupCLI(t)

	mustRun(t, "", "config", "advice_cap", "5")
	out := mustRun(t, "", "config", "--json")

	var cfg config.Config
	if err := json.Unmarshal([]byte(out), &cfg); err != nil {
		t.Fatalf("decode JSON output: %v\n%s", err, out)
	}
	if cfg.AdviceCap != 5 {
		t.Errorf("advice_cap = %d, want 5", cfg.AdviceCap)
	}
}
