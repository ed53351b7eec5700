package model

// ErrorKind is the closed set of failure kinds downstream consumers switch on.
// The classifier derives it once from the exception class; it is persisted
// with the pattern so nothing re-parses class names later.
type ErrorKind string

const (
	KindUnknown       ErrorKind = "unknown"
	KindIntegrity     ErrorKind = "integrity"
	KindValidation    ErrorKind = "validation"
	KindType          ErrorKind = "type"
	KindAttribute     ErrorKind = "attribute"
	KindFieldRequired ErrorKind = "field_required"
	KindKey           ErrorKind = "key"
	KindValue         ErrorKind = "value"
	KindNotFound      ErrorKind = "not_found"
	KindPermission    ErrorKind = "permission"
)

// Kinds lists every ErrorKind in a stable order.
func Kinds() []ErrorKind {
	return []ErrorKind{
		KindUnknown, KindIntegrity, KindValidation, KindType, KindAttribute,
		KindFieldRequired, KindKey, KindValue, KindNotFound, KindPermission,
	}
}

// ParseErrorKind returns the kind named s, or KindUnknown.
func ParseErrorKind(s string) ErrorKind {
	for _, k := range Kinds() {
		if string(k) == s {
			return k
		}
	}
	return KindUnknown
}

func (k ErrorKind) String() string {
	if k == "" {
		return string(KindUnknown)
	}
	return string(k)
}
