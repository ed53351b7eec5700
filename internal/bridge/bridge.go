// Package bridge reconciles violations captured by the runtime diagnostics
// subsystem into the same pattern store the feedback cycle writes to. A
// violation goes through the same classifier and the same upsert as a
// failure event, so both capture paths converge on one record per
// fingerprint.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/scbrown/genfeedback/internal/classify"
	"github.com/scbrown/genfeedback/internal/fingerprint"
	"github.com/scbrown/genfeedback/internal/metrics"
	"github.com/scbrown/genfeedback/internal/model"
	"github.com/scbrown/genfeedback/internal/notify"
	"github.com/scbrown/genfeedback/internal/source"
	"github.com/scbrown/genfeedback/internal/store"
)

var tracer = otel.Tracer("genfeedback.bridge")

// ErrInvalidViolation is returned for violations that fail validation.
var ErrInvalidViolation = errors.New("invalid violation")

// ErrUnknownSource is returned by Ingest for an unregistered source name.
var ErrUnknownSource = errors.New("unknown source")

// Result is the outcome of bridging one violation.
type Result struct {
	Success     bool   `json:"success"`
	PatternID   string `json:"pattern_id,omitempty"`
	Created     bool   `json:"created"`
	Occurrences int    `json:"occurrences,omitempty"`
}

// Bridge converts violations into anti-pattern upserts.
type Bridge struct {
	store      store.Store
	classifier *classify.Classifier
	validate   *validator.Validate
	bus        notify.Bus
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bridge) {
		if m != nil {
			b.metrics = m
		}
	}
}

// WithBus publishes an invalidation for every entity a bridge call touches.
func WithBus(bus notify.Bus) Option {
	return func(b *Bridge) { b.bus = bus }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) { b.now = now }
}

// New returns a Bridge writing to s through c.
func New(s store.Store, c *classify.Classifier, opts ...Option) *Bridge {
	b := &Bridge{
		store:      s,
		classifier: c,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     slog.New(slog.DiscardHandler),
		metrics:    metrics.New(nil),
		now:        time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Bridge validates, classifies and stores one violation.
func (b *Bridge) Bridge(ctx context.Context, v model.Violation) (Result, error) {
	res, entity, err := b.bridge(ctx, v)
	if err == nil {
		b.invalidate(ctx, []string{entity})
	}
	return res, err
}

func (b *Bridge) bridge(ctx context.Context, v model.Violation) (Result, string, error) {
	ctx, span := tracer.Start(ctx, "Bridge.Bridge",
		trace.WithAttributes(
			attribute.String("violation.endpoint", v.Endpoint),
			attribute.String("violation.type", v.ViolationType),
			attribute.String("violation.source", v.Source),
		),
	)
	defer span.End()

	fail := func(err error) (Result, string, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		b.metrics.ViolationsBridged.WithLabelValues(metrics.OutcomeFailed).Inc()
		return Result{}, "", err
	}

	if err := b.validate.Struct(v); err != nil {
		return fail(fmt.Errorf("%w: %v", ErrInvalidViolation, err))
	}
	cl, err := b.classifier.Classify(model.GenContext{}, ToEvent(v))
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrInvalidViolation, err))
	}
	rec, created, err := b.store.Upsert(ctx, cl.AntiPattern(b.now()))
	if err != nil {
		return fail(fmt.Errorf("store violation: %w", err))
	}

	outcome := metrics.OutcomeExisting
	if created {
		outcome = metrics.OutcomeCreated
	}
	b.metrics.ViolationsBridged.WithLabelValues(outcome).Inc()
	span.SetAttributes(
		attribute.String("pattern.id", rec.ID),
		attribute.Bool("pattern.created", created),
		attribute.Int("pattern.occurrences", rec.OccurrenceCount),
	)
	b.logger.Debug("violation bridged",
		"pattern_id", rec.ID,
		"entity", rec.EntityPattern,
		"endpoint", rec.EndpointPattern,
		"created", created,
		"occurrences", rec.OccurrenceCount,
	)
	return Result{
		Success:     true,
		PatternID:   rec.ID,
		Created:     created,
		Occurrences: rec.OccurrenceCount,
	}, rec.EntityPattern, nil
}

// BridgeBatch bridges every violation independently. A failing item is
// counted and reported in Errors; it never stops the rest of the batch.
func (b *Bridge) BridgeBatch(ctx context.Context, vs []model.Violation) model.BatchResult {
	var br model.BatchResult
	var touched []string
	for i, v := range vs {
		res, entity, err := b.bridge(ctx, v)
		if err != nil {
			br.Failed++
			br.Errors = append(br.Errors, fmt.Sprintf("violation %d (%s): %v", i, v.Endpoint, err))
			b.logger.Warn("violation not bridged", "index", i, "endpoint", v.Endpoint, "error", err)
			continue
		}
		br.Bridged++
		if res.Created {
			br.NewPatterns++
		} else {
			br.ExistingPatterns++
		}
		touched = append(touched, entity)
	}
	b.invalidate(ctx, touched)
	return br
}

// Ingest decodes raw with the named source plugin and bridges every
// violation it yields. Each record the plugin could not decode counts as one
// failure next to the bridged ones; an unreadable payload counts as one.
func (b *Bridge) Ingest(ctx context.Context, raw []byte, sourceName string) (model.BatchResult, error) {
	src := source.Get(sourceName)
	if src == nil {
		return model.BatchResult{}, fmt.Errorf("%w: %q (available: %s)", ErrUnknownSource, sourceName, strings.Join(source.Names(), ", "))
	}
	vs, bad, err := src.Extract(raw)
	if err != nil {
		bad = []error{err}
	}
	br := b.BridgeBatch(ctx, vs)
	for _, e := range bad {
		b.metrics.ViolationsBridged.WithLabelValues(metrics.OutcomeFailed).Inc()
		b.logger.Warn("diagnostic record not decoded", "source", sourceName, "error", e)
		br.Failed++
		br.Errors = append(br.Errors, e.Error())
	}
	return br, nil
}

func (b *Bridge) invalidate(ctx context.Context, entities []string) {
	if err := notify.PublishEntities(ctx, b.bus, notify.OriginBridge, entities); err != nil {
		b.logger.Warn("publish invalidation", "error", err)
	}
}

// violationStatus maps a violation type onto the status the harness would
// have reported for it. Unknown types map to 0, a service-layer exception.
var violationStatus = map[string]int{
	model.ErrorTypeNotFound:      404,
	model.ErrorTypeValidation:    422,
	model.ErrorTypeBusinessLogic: 409,
	model.ErrorTypeBadRequest:    400,
	model.ErrorTypeAuth:          401,
	model.ErrorTypeForbidden:     403,
	model.ErrorTypeServer:        500,
}

// ToEvent converts a violation into the failure event the harness would
// have produced for the same failure.
func ToEvent(v model.Violation) model.FailureEvent {
	method, path := fingerprint.SplitEndpoint(v.Endpoint)
	if v.Method != "" {
		method = strings.ToUpper(v.Method)
	}
	status := v.HTTPStatus
	if status == 0 {
		status = violationStatus[strings.ToLower(strings.TrimSpace(v.ViolationType))]
	}
	msg := strings.TrimSpace(v.Detail)
	if msg == "" {
		msg = v.ViolationType
	}
	return model.FailureEvent{
		GenContext: model.GenContext{
			Entity:   v.Entity,
			Method:   method,
			Endpoint: path,
		},
		ExceptionClass: v.Exception,
		ErrorMessage:   msg,
		FailedCode:     v.Code,
		StatusCode:     status,
	}
}
