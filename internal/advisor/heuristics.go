package advisor

import (
	"fmt"
	"slices"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/scbrown/genfeedback/internal/fingerprint"
)

// similarityThreshold is the normalized Levenshtein similarity at or above
// which two items are the same advice.
const similarityThreshold = 0.9

// actionKeywords are path segments that name a state transition rather
// than a resource.
var actionKeywords = map[string]bool{
	"checkout": true, "activate": true, "deactivate": true, "cancel": true,
	"pay": true, "confirm": true, "approve": true, "reject": true,
	"complete": true, "submit": true, "ship": true, "refund": true,
	"close": true, "reopen": true, "publish": true, "archive": true,
}

func needsExistenceCheck(method, path string) bool {
	switch method {
	case "PUT", "PATCH", "DELETE":
		return fingerprint.HasIDSegment(path)
	}
	return false
}

func existenceCheckAdvice(entity string) string {
	return fmt.Sprintf("Load the %s by id and return 404 if it does not exist before validating the request body", entity)
}

// actionKeyword returns the first action segment of path, or "".
func actionKeyword(path string) string {
	for _, seg := range strings.Split(path, "/") {
		seg = strings.ToLower(seg)
		if actionKeywords[seg] {
			return seg
		}
	}
	return ""
}

func statePreconditionAdvice(entity, action string) string {
	return fmt.Sprintf("Check that the %s is in a state that allows %s before changing it, and return 409 or 422 when it is not", entity, action)
}

// dedupe drops exact and near-duplicate items, keeping the first of each
// group so the input ranking is preserved. Items that name different
// identifiers, such as two field names, are never merged however close
// their text is.
func dedupe(items []string) []string {
	var out []string
	var norms []string
	var idents [][]string
	for _, it := range items {
		n := strings.ToLower(strings.Join(strings.Fields(it), " "))
		if n == "" {
			continue
		}
		ids := identifiers(n)
		dup := false
		for i, seen := range norms {
			if n == seen || (slices.Equal(ids, idents[i]) && Similarity(n, seen) >= similarityThreshold) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, it)
			norms = append(norms, n)
			idents = append(idents, ids)
		}
	}
	return out
}

// identifiers returns the sorted words of s that look like code or data
// rather than prose, meaning any word holding a digit or one of _/{}'".
func identifiers(s string) []string {
	var ids []string
	for _, w := range strings.Fields(s) {
		if strings.ContainsAny(w, "_/{}'\"0123456789") {
			ids = append(ids, strings.Trim(w, ".,:;()"))
		}
	}
	slices.Sort(ids)
	return ids
}

// Similarity returns 1 minus the Levenshtein distance between a and b
// divided by the longer length, in runes.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len([]rune(a)), len([]rune(b))
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}
