// Package service implements the registry: access control, the property and
// report ledgers, settlement and the parameter store. Every operation runs as
// one atomic unit of work against a ports.Ledger.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	registrymetrics "propledger/internal/registry/metrics"
	"propledger/internal/registry/models"
	"propledger/internal/registry/ports"
	id "propledger/pkg/domain"
	dErrors "propledger/pkg/domain-errors"
	"propledger/pkg/platform/sentinel"
	"propledger/pkg/requestcontext"
)

const tracerName = "propledger/internal/registry/service"

// Service is the registry and settlement engine.
type Service struct {
	ledger     ports.Ledger
	transferer ports.Transferer
	logger     *slog.Logger
	metrics    *registrymetrics.Metrics
	tracer     trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *registrymetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTransferer replaces the default balance-crediting transferer.
func WithTransferer(t ports.Transferer) Option {
	return func(s *Service) {
		s.transferer = t
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// New constructs a Service over ledger.
func New(ledger ports.Ledger, opts ...Option) (*Service, error) {
	if ledger == nil {
		return nil, errors.New("ledger is required")
	}
	s := &Service{ledger: ledger}
	for _, opt := range opts {
		opt(s)
	}
	if s.transferer == nil {
		s.transferer = CreditTransferer{}
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	return s, nil
}

// unitFunc is the body of an operation. caller is the authenticated
// principal; store observes all writes of the current unit of work.
type unitFunc func(ctx context.Context, store ports.Store, caller id.PrincipalID) error

// mutate runs fn as one atomic, non-reentrant unit of work.
func (s *Service) mutate(ctx context.Context, op string, fn unitFunc) (err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "registry."+op)
	defer func() {
		if r := recover(); r != nil {
			_ = s.finish(ctx, span, op, start, fmt.Errorf("panic: %v", r))
			panic(r)
		}
		err = s.finish(ctx, span, op, start, err)
	}()

	if s.guarded(ctx) {
		return dErrors.New(dErrors.CodeReentrantCall, op+" called while another registry operation is in progress")
	}
	caller, err := requireCaller(ctx)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String("registry.caller", caller.String()))

	return s.ledger.RunInTx(s.enterGuard(ctx), func(txCtx context.Context, store ports.Store) error {
		return fn(s.withActiveStore(txCtx, store), store, caller)
	})
}

// read runs fn against the in-flight unit of work when called from inside
// one, otherwise against a read-only view.
func (s *Service) read(ctx context.Context, op string, fn unitFunc) (err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "registry."+op)
	defer func() {
		if r := recover(); r != nil {
			_ = s.finish(ctx, span, op, start, fmt.Errorf("panic: %v", r))
			panic(r)
		}
		err = s.finish(ctx, span, op, start, err)
	}()

	caller, err := requireCaller(ctx)
	if err != nil {
		return err
	}
	return s.view(ctx, func(ctx context.Context, store ports.Store) error {
		return fn(ctx, store, caller)
	})
}

func (s *Service) view(ctx context.Context, fn func(ctx context.Context, store ports.Store) error) error {
	if store, ok := s.activeStore(ctx); ok {
		return fn(ctx, store)
	}
	return s.ledger.View(ctx, fn)
}

// finish normalizes err, records telemetry and logs the outcome.
func (s *Service) finish(ctx context.Context, span trace.Span, op string, start time.Time, err error) error {
	defer span.End()

	if err != nil {
		if _, ok := dErrors.CodeOf(err); !ok {
			if errors.Is(err, context.DeadlineExceeded) {
				err = dErrors.Wrap(err, dErrors.CodeTimeout, "registry operation timed out")
			} else {
				err = dErrors.Wrap(err, dErrors.CodeInternal, "registry operation failed")
			}
		}
	}

	code, _ := dErrors.CodeOf(err)
	s.metrics.ObserveOperation(op, start, string(code))

	attrs := []any{
		"operation", op,
		"request_id", requestcontext.RequestID(ctx),
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if caller, ok := requestcontext.Caller(ctx); ok {
		attrs = append(attrs, "caller", caller.String())
	}

	switch {
	case err == nil:
		s.logger.DebugContext(ctx, "registry operation completed", attrs...)
	case code == dErrors.CodeInternal || code == dErrors.CodeTimeout:
		span.RecordError(err)
		span.SetStatus(codes.Error, string(code))
		s.logger.ErrorContext(ctx, "registry operation failed", append(attrs, "error", err)...)
	default:
		span.SetStatus(codes.Error, string(code))
		s.logger.InfoContext(ctx, "registry operation rejected", append(attrs, "code", string(code))...)
	}
	return err
}

func requireCaller(ctx context.Context) (id.PrincipalID, error) {
	caller, ok := requestcontext.Caller(ctx)
	if !ok {
		return id.PrincipalID{}, dErrors.New(dErrors.CodeUnauthenticated, "caller identity is required")
	}
	return caller, nil
}

func requireAuthorized(ctx context.Context, store ports.Store, caller id.PrincipalID) error {
	m, err := store.Membership(ctx, caller)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load membership")
	}
	if !m.Authorized() {
		return dErrors.New(dErrors.CodeUnauthorized, "caller is not authorized")
	}
	return nil
}

func requireRegistryOwner(ctx context.Context, store ports.Store, caller id.PrincipalID) (models.Principals, error) {
	p, err := store.Principals(ctx)
	if err != nil {
		return p, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load principals")
	}
	if p.Owner != caller {
		return p, dErrors.New(dErrors.CodeUnauthorized, "only the registry owner may perform this operation")
	}
	return p, nil
}

func requireAdmin(ctx context.Context, store ports.Store, caller id.PrincipalID) error {
	p, err := store.Principals(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load principals")
	}
	if p.Admin != caller {
		return dErrors.New(dErrors.CodeUnauthorized, "only the admin may grant roles")
	}
	return nil
}

func requireRole(ctx context.Context, store ports.Store, role models.Role, caller id.PrincipalID) error {
	ok, err := store.HasRole(ctx, role, caller)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load role")
	}
	if !ok {
		return dErrors.New(dErrors.CodeUnauthorized, fmt.Sprintf("caller lacks %s", role))
	}
	return nil
}

func requirePrincipal(p id.PrincipalID, name string) error {
	if p.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, name+" is required")
	}
	return nil
}

func loadProperty(ctx context.Context, store ports.Store, propertyID id.PropertyID) (*models.Property, error) {
	p, err := store.FindProperty(ctx, propertyID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "property not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load property")
	}
	return p, nil
}

func loadReport(ctx context.Context, store ports.Store, reportID id.ReportID) (*models.Report, error) {
	r, err := store.FindReport(ctx, reportID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "report not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load report")
	}
	return r, nil
}

func loadParameters(ctx context.Context, store ports.Store) (*models.Parameters, error) {
	p, err := store.Parameters(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load parameters")
	}
	return p, nil
}

// emit appends event to the outbox of the current unit of work.
func (s *Service) emit(ctx context.Context, store ports.Store, event models.Event) error {
	event.ID = uuid.New()
	event.OccurredAt = requestcontext.Now(ctx)
	event.RequestID = requestcontext.RequestID(ctx)
	event.Client = requestcontext.Client(ctx)
	if err := store.AppendEvent(ctx, event); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record event")
	}
	return nil
}
