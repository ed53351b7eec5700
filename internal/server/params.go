package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

type adviceParams struct {
	Entity         string
	Endpoint       string
	MinOccurrences int
}

func parseInt(r *http.Request, key string) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, s, err)
	}
	return n, nil
}

// parseAdviceParams reads entity, endpoint and min_occurrences. An endpoint
// may carry its method ("DELETE /orders/{id}") or take it from the method
// parameter. At least one of entity and endpoint is required.
func parseAdviceParams(r *http.Request) (adviceParams, error) {
	q := r.URL.Query()
	p := adviceParams{
		Entity:   strings.TrimSpace(q.Get("entity")),
		Endpoint: strings.TrimSpace(q.Get("endpoint")),
	}
	if m := strings.TrimSpace(q.Get("method")); m != "" && p.Endpoint != "" && !strings.Contains(p.Endpoint, " ") {
		p.Endpoint = strings.ToUpper(m) + " " + p.Endpoint
	}
	if p.Entity == "" && p.Endpoint == "" {
		return p, fmt.Errorf("entity or endpoint query parameter is required")
	}
	n, err := parseInt(r, "min_occurrences")
	if err != nil {
		return p, err
	}
	if n < 0 {
		return p, fmt.Errorf("min_occurrences must not be negative")
	}
	p.MinOccurrences = n
	return p, nil
}
