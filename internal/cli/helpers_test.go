package cli

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/scbrown/genfeedback/internal/config"
)

// testDBPath is the database the commands run against, set by setupCLI.
var testDBPath string

// setupCLI points the CLI at a fresh database and config file.
func setupCLI(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	testDBPath = filepath.Join(dir, "test.db")
	dbPath = testDBPath
	configPath = filepath.Join(dir, "config.toml")
	t.Cleanup(func() {
		resetFlags(rootCmd)
		dbPath = defaultDBPath()
		configPath = config.Path()
		testDBPath = ""
	})
	return dir
}

// resetFlags returns every flag in the tree to its default and clears its
// changed state, since cobra keeps both across Execute calls.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// runCLI executes gf with args and stdin and returns what it wrote to stdout.
func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	if testDBPath != "" {
		dbPath = testDBPath
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetIn(nil)
	}()
	err := rootCmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	out, err := runCLI(t, stdin, args...)
	if err != nil {
		t.Fatalf("gf %s: %v", strings.Join(args, " "), err)
	}
	return out
}
