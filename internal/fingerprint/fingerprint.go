// Package fingerprint turns raw failure context into the canonical,
// order-independent identity used to deduplicate failures. Everything here is
// pure: no I/O, no shared state, same input same output.
package fingerprint

import (
	"github.com/google/uuid"
	"github.com/scbrown/genfeedback/internal/model"
)

// Input is the raw failure context as observed by a capture path.
type Input struct {
	Path           string
	StatusCode     int
	ExceptionClass string
	Message        string
	// Entity overrides path-based entity inference when set.
	Entity string
}

// Result is a normalized failure.
type Result struct {
	Fingerprint    model.Fingerprint
	Kind           model.ErrorKind
	MessagePattern string
}

// Namespaces for deterministic ids. Anti-patterns and repairs hash into
// different namespaces so their ids never collide.
var (
	antiPatternNS = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/scbrown/genfeedback/anti-pattern"))
	repairNS      = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/scbrown/genfeedback/repair"))
)

// Normalize converts raw failure context into a fingerprint, error kind and
// templated message.
func Normalize(in Input) Result {
	path := NormalizePath(in.Path)
	class := ExtractExceptionClass(in.ExceptionClass, in.Message)

	var entity string
	if in.Entity != "" {
		entity = NormalizeEntity(in.Entity)
	} else {
		entity = InferEntity(path)
	}

	field := ExtractField(in.Message)
	if field == "" {
		field = model.Wildcard
	}

	return Result{
		Fingerprint: model.Fingerprint{
			ErrorType:       InferErrorType(in.StatusCode, in.Message),
			ExceptionClass:  class,
			EntityPattern:   entity,
			EndpointPattern: path,
			FieldPattern:    field,
		},
		Kind:           KindFor(class, in.StatusCode),
		MessagePattern: TemplateMessage(in.Message),
	}
}

// PatternID returns the stable anti-pattern id for fp.
func PatternID(fp model.Fingerprint) string {
	return uuid.NewSHA1(antiPatternNS, []byte(fp.Key())).String()
}

// RepairID returns the stable repair id for k.
func RepairID(k model.RepairKey) string {
	return uuid.NewSHA1(repairNS, []byte(k.Key())).String()
}
