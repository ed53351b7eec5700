package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scbrown/genfeedback/internal/loop"
)

var promptEndpoint string

type promptOutput struct {
	Entity   string `json:"entity"`
	Endpoint string `json:"endpoint,omitempty"`
	Prompt   string `json:"prompt"`
}

var promptCmd = &cobra.Command{
	Use:   "prompt <entity>",
	Short: "Print the learned guidance block for an LLM prompt",
	Long: `Prompt renders the advice for an entity as the text block that is placed
in the generation prompt. Nothing is printed when there is no guidance.`,
	Example: `  gf prompt Cart
  gf prompt Order --endpoint "DELETE /orders/{id}"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLoop(func(ctx context.Context, l *loop.Loop) error {
			text := l.PromptFor(ctx, args[0], promptEndpoint)
			w := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(w, promptOutput{Entity: args[0], Endpoint: promptEndpoint, Prompt: text})
			}
			fmt.Fprint(w, text)
			return nil
		})
	},
}

func init() {
	promptCmd.Flags().StringVar(&promptEndpoint, "endpoint", "", `endpoint, optionally with method (e.g. "DELETE /orders/{id}")`)
	rootCmd.AddCommand(promptCmd)
}
