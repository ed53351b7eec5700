package prompt

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scbrown/genfeedback/internal/model"
)

func TestRenderEmpty(t *testing.T) {
	assert.Empty(t, Render(model.Advice{Entity: "Cart"}))
	assert.Empty(t, Render(model.Advice{Entity: "Cart", Matched: []model.AntiPattern{{}}}))
}

func TestRenderFormat(t *testing.T) {
	got := Render(model.Advice{
		Entity: "Cart",
		Avoid:  []string{"IntegrityError on field 'category_id': null value", "KeyError:\n  'sku'"},
		Use:    []string{"Set category_id from the product"},
	})
	want := `LEARNED GUIDANCE FOR Cart (from previous generation failures):
AVOID:
  1. IntegrityError on field 'category_id': null value
  2. KeyError: 'sku'
USE:
  1. Set category_id from the product
`
	assert.Equal(t, want, got)
}

func TestRenderOmitsEmptySections(t *testing.T) {
	got := Render(model.Advice{Entity: "Order", Avoid: []string{"x"}})
	assert.NotContains(t, got, "USE:")

	got = Render(model.Advice{Entity: "*", Use: []string{"check existence"}})
	assert.True(t, strings.HasPrefix(got, "LEARNED GUIDANCE FOR this endpoint"))
	assert.NotContains(t, got, "AVOID:")
	assert.Contains(t, got, "USE:\n  1. check existence\n")
}

func TestRenderIsBounded(t *testing.T) {
	var avoid, use []string
	for i := range 9 {
		avoid = append(avoid, fmt.Sprintf("avoid %d", i))
		use = append(use, fmt.Sprintf("use %d", i))
	}
	got := Render(model.Advice{Entity: "Cart", Avoid: avoid, Use: use})

	assert.Equal(t, 5, strings.Count(got, "avoid "))
	assert.Equal(t, 5, strings.Count(got, "use "))
	assert.Contains(t, got, "  5. avoid 4\n")
	assert.NotContains(t, got, "avoid 5")
	assert.NotContains(t, got, "  6. ")
}
