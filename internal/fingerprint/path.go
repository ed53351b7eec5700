package fingerprint

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/scbrown/genfeedback/internal/model"
)

// IDPlaceholder replaces identifier segments in endpoint paths.
const IDPlaceholder = "{id}"

var (
	reIntSegment   = regexp.MustCompile(`^\d+$`)
	reUUIDSegment  = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	reObjectID     = regexp.MustCompile(`^[0-9a-f]{24}$`)
	reVersionSeg   = regexp.MustCompile(`^v\d+$`)
	reNamedParam   = regexp.MustCompile(`^(\{[^}]*\}|:[A-Za-z_]\w*|<[^>]*>)$`)
	reservedPrefix = map[string]bool{
		"api":      true,
		"rest":     true,
		"internal": true,
		"admin":    true,
		"public":   true,
	}
	httpMethods = map[string]bool{
		"GET": true, "POST": true, "PUT": true, "PATCH": true,
		"DELETE": true, "HEAD": true, "OPTIONS": true,
	}
)

// SplitEndpoint splits "METHOD /path" into its parts. Either part may be
// empty.
func SplitEndpoint(s string) (method, path string) {
	fields := strings.Fields(s)
	switch {
	case len(fields) == 0:
		return "", ""
	case httpMethods[strings.ToUpper(fields[0])]:
		return strings.ToUpper(fields[0]), strings.Join(fields[1:], "")
	default:
		return "", strings.Join(fields, "")
	}
}

// NormalizePath canonicalizes an endpoint path: scheme, host, query and
// fragment are dropped, the path is lowercased, and integer, UUID and named
// parameter segments become {id}. An empty path yields the wildcard.
func NormalizePath(raw string) string {
	_, p := SplitEndpoint(raw)
	if p == "" {
		return model.Wildcard
	}
	if i := strings.Index(p, "://"); i >= 0 {
		rest := p[i+3:]
		if j := strings.IndexByte(rest, '/'); j >= 0 {
			p = rest[j:]
		} else {
			p = "/"
		}
	}
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}

	var segs []string
	for _, seg := range strings.Split(p, "/") {
		if seg == "" {
			continue
		}
		if isIDSegment(seg) {
			segs = append(segs, IDPlaceholder)
			continue
		}
		segs = append(segs, strings.ToLower(seg))
	}
	return "/" + strings.Join(segs, "/")
}

func isIDSegment(seg string) bool {
	return reIntSegment.MatchString(seg) ||
		reUUIDSegment.MatchString(seg) ||
		reObjectID.MatchString(seg) ||
		reNamedParam.MatchString(seg)
}

// HasIDSegment reports whether a normalized path addresses a single resource.
func HasIDSegment(path string) bool {
	for _, seg := range strings.Split(path, "/") {
		if seg == IDPlaceholder {
			return true
		}
	}
	return false
}

// InferEntity returns the entity addressed by a normalized path: the first
// segment that is neither a placeholder nor a reserved prefix, singularized
// and capitalized. Paths with no such segment yield the wildcard.
func InferEntity(path string) string {
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || seg == model.Wildcard || seg == IDPlaceholder {
			continue
		}
		if reservedPrefix[seg] || reVersionSeg.MatchString(seg) {
			continue
		}
		if name := entityName(seg); name != "" {
			return name
		}
	}
	return model.Wildcard
}

// NormalizeEntity canonicalizes an entity name supplied by a caller so that
// "cart", "carts", "Carts" and "Cart" all become "Cart", and "order_items"
// becomes "OrderItem".
func NormalizeEntity(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || name == model.Wildcard {
		return model.Wildcard
	}
	if strings.ContainsAny(name, "-_ ") || strings.ToLower(name) == name {
		if n := entityName(name); n != "" {
			return n
		}
		return model.Wildcard
	}
	r := []rune(singularize(name))
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// entityName turns a snake, kebab or lowercase word into a singular
// CamelCase entity name.
func entityName(seg string) string {
	words := strings.FieldsFunc(seg, func(r rune) bool {
		return r == '-' || r == '_' || r == ' ' || r == '.'
	})
	if len(words) == 0 {
		return ""
	}
	words[len(words)-1] = singularize(strings.ToLower(words[len(words)-1]))
	var b strings.Builder
	for _, w := range words {
		r := []rune(strings.ToLower(w))
		if len(r) == 0 {
			continue
		}
		r[0] = unicode.ToUpper(r[0])
		b.WriteString(string(r))
	}
	return b.String()
}

// singularize applies the plural rules generated CRUD routes use.
func singularize(w string) string {
	lower := strings.ToLower(w)
	switch {
	case len(w) <= 3:
		return w
	case strings.HasSuffix(lower, "ies"):
		return w[:len(w)-3] + "y"
	case strings.HasSuffix(lower, "sses"), strings.HasSuffix(lower, "xes"),
		strings.HasSuffix(lower, "ches"), strings.HasSuffix(lower, "shes"),
		strings.HasSuffix(lower, "zes"):
		return w[:len(w)-2]
	case strings.HasSuffix(lower, "ss"), strings.HasSuffix(lower, "us"), strings.HasSuffix(lower, "is"):
		return w
	case strings.HasSuffix(lower, "s"):
		return w[:len(w)-1]
	}
	return w
}
