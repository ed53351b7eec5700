package fingerprint

import (
	"regexp"
	"strings"

	"github.com/scbrown/genfeedback/internal/model"
)

// MaxPatternRunes bounds templated messages and code snippets.
const MaxPatternRunes = 500

// UnknownClass is the exception class used when none can be determined.
const UnknownClass = "Unknown"

var businessKeywords = []string{
	"insufficient", "out of stock", "balance", "already", "cannot",
	"not allowed", "invalid state", "status", "expired", "limit exceeded",
	"quantity",
}

var (
	reExceptionToken = regexp.MustCompile(`\b([A-Za-z_][\w.]*(?:Error|Exception))\b`)
	reFieldRequired  = regexp.MustCompile(`(?i)\bfield required\b`)
	reFieldMarker    = regexp.MustCompile("(?i)\\b(?:column|field|attribute|key)\\b\\s*[:=]?\\s*[\"'`(]?([A-Za-z_][A-Za-z0-9_]*)")
	reFieldSubject   = regexp.MustCompile(`\b([a-z_][a-z0-9_]*) (?:is required|must not be null|cannot be null|may not be null)\b`)
	reMarkerSuffix   = regexp.MustCompile(`(?i)\b(?:column|field|attribute|key|table|relation|constraint|property)\s*$`)
	reIdentifier     = regexp.MustCompile(`^[A-Za-z_][\w.]*$`)

	reUUID     = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)
	reDate     = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}(?:[T ]\d{2}:\d{2}(?::\d{2}(?:\.\d+)?)?(?:Z|[+-]\d{2}:?\d{2})?)?\b`)
	reNumber   = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)
	reSpaceRun = regexp.MustCompile(`\s+`)
)

// fieldStopwords are words that follow a field marker in prose but never
// name a field ("field required", "key value").
var fieldStopwords = map[string]bool{
	"required": true, "missing": true, "value": true, "values": true,
	"constraint": true, "is": true, "does": true, "not": true, "the": true,
	"a": true, "an": true, "of": true, "must": true, "cannot": true,
	"violates": true, "in": true, "on": true, "for": true, "to": true,
	"error": true, "type": true,
}

// InferErrorType maps an HTTP status (0 for a service-layer exception) and
// message onto the error-type taxonomy.
func InferErrorType(status int, message string) string {
	switch {
	case status == 404:
		return model.ErrorTypeNotFound
	case status == 422:
		if hasBusinessKeyword(message) {
			return model.ErrorTypeBusinessLogic
		}
		return model.ErrorTypeValidation
	case status == 400:
		return model.ErrorTypeBadRequest
	case status == 401:
		return model.ErrorTypeAuth
	case status == 403:
		return model.ErrorTypeForbidden
	case status == 409:
		return model.ErrorTypeBusinessLogic
	case status == 0 || status >= 500:
		return model.ErrorTypeServer
	default:
		return model.ErrorTypeBadRequest
	}
}

func hasBusinessKeyword(message string) bool {
	lower := strings.ToLower(message)
	for _, kw := range businessKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ExtractExceptionClass returns the short exception class name. An explicit
// class wins (last dotted component); otherwise the first Error/Exception
// token in the message is used.
func ExtractExceptionClass(explicit, message string) string {
	if c := shortClass(explicit); c != "" {
		return c
	}
	if m := reExceptionToken.FindStringSubmatch(message); m != nil {
		if c := shortClass(m[1]); c != "" {
			return c
		}
	}
	if reFieldRequired.MatchString(message) {
		return "FieldRequired"
	}
	return UnknownClass
}

func shortClass(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, ":()")
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		s = s[i+1:]
	}
	return s
}

// KindFor maps an exception class onto an ErrorKind. The status code is a
// fallback for classes that carry no meaning on their own.
func KindFor(class string, status int) model.ErrorKind {
	switch class {
	case "IntegrityError", "ForeignKeyViolation", "UniqueViolation",
		"NotNullViolation", "IntegrityConstraintViolation", "ConstraintViolationException":
		return model.KindIntegrity
	case "ValidationError", "RequestValidationError", "ValidationException":
		return model.KindValidation
	case "TypeError":
		return model.KindType
	case "AttributeError", "DetachedInstanceError", "MissingGreenlet", "LazyInitializationException":
		return model.KindAttribute
	case "FieldRequired", "MissingFieldError":
		return model.KindFieldRequired
	case "KeyError":
		return model.KindKey
	case "ValueError":
		return model.KindValue
	case "NotFoundError", "NoResultFound", "ObjectDoesNotExist", "EntityNotFoundException":
		return model.KindNotFound
	case "PermissionError", "PermissionDenied", "AccessDeniedException":
		return model.KindPermission
	}
	switch {
	case strings.Contains(class, "Integrity"):
		return model.KindIntegrity
	case strings.Contains(class, "Validation"):
		return model.KindValidation
	case strings.Contains(class, "NotFound"):
		return model.KindNotFound
	}
	switch status {
	case 404:
		return model.KindNotFound
	case 401, 403:
		return model.KindPermission
	}
	return model.KindUnknown
}

// ExtractField returns the first schema identifier named in message, or ""
// when there is none.
func ExtractField(message string) string {
	for _, m := range reFieldMarker.FindAllStringSubmatch(message, -1) {
		if !fieldStopwords[strings.ToLower(m[1])] {
			return m[1]
		}
	}
	for _, m := range reFieldSubject.FindAllStringSubmatch(message, -1) {
		if !fieldStopwords[m[1]] {
			return m[1]
		}
	}
	return ""
}

// TemplateMessage strips volatile values from an error message so that
// recurrences of the same failure produce the same text. Quoted literals
// become '...' unless they name a schema element, then dates, UUIDs and
// numbers are replaced by DATE, UUID and N.
func TemplateMessage(msg string) string {
	s := templateQuoted(msg)
	s = reUUID.ReplaceAllString(s, "UUID")
	s = reDate.ReplaceAllString(s, "DATE")
	s = reNumber.ReplaceAllString(s, "N")
	s = strings.TrimSpace(reSpaceRun.ReplaceAllString(s, " "))
	return Truncate(s, MaxPatternRunes)
}

func templateQuoted(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		c := s[i]
		if (c == '\'' || c == '"') && (i == 0 || !isWordByte(s[i-1])) {
			if end := strings.IndexByte(s[i+1:], c); end >= 0 {
				lit := s[i+1 : i+1+end]
				if !strings.ContainsRune(lit, '\n') {
					if reIdentifier.MatchString(lit) && reMarkerSuffix.MatchString(s[:i]) {
						b.WriteString(s[i : i+end+2])
					} else {
						b.WriteByte(c)
						b.WriteString("...")
						b.WriteByte(c)
					}
					i += end + 2
					continue
				}
			}
		}
		b.WriteByte(c)
		i++
	}
	return b.String()
}

func isWordByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// Truncate bounds s to max runes.
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// FirstLine returns the first non-blank line of s, trimmed.
func FirstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
