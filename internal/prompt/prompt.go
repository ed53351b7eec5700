// Package prompt renders advice as a text block for an LLM prompt.
package prompt

import (
	"fmt"
	"strings"

	"github.com/scbrown/genfeedback/internal/model"
)

// MaxItems is the number of bullets rendered per section.
const MaxItems = 5

// Render returns the guidance block for adv, or "" when there is nothing to
// say. Each section holds at most MaxItems bullets; empty sections are
// left out.
func Render(adv model.Advice) string {
	if !adv.HasAdvice() {
		return ""
	}
	name := adv.Entity
	if name == "" || name == model.Wildcard {
		name = "this endpoint"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "LEARNED GUIDANCE FOR %s (from previous generation failures):\n", name)
	section(&b, "AVOID", adv.Avoid)
	section(&b, "USE", adv.Use)
	return b.String()
}

func section(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(title + ":\n")
	for i, it := range items[:min(len(items), MaxItems)] {
		fmt.Fprintf(b, "  %d. %s\n", i+1, oneLine(it))
	}
}

// oneLine keeps a bullet on a single line.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
