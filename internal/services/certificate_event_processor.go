package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	domain "github.com/certified-builder/api/internal/domain"
	"github.com/certified-builder/api/internal/platform/observability"
	"github.com/certified-builder/api/internal/repositories"
)

const defaultConflictRetries = 3

var errEventSkipped = errors.New("certificate event skipped")

// CertificateEventProcessorDeps bundles collaborators required to apply completion events.
type CertificateEventProcessorDeps struct {
	Orders          repositories.OrderRepository
	Certificates    repositories.CertificateRepository
	Storage         CertificateStorage
	Source          OrderSource
	Metrics         CertificateRecorder
	ConflictRetries int
	Clock           func() time.Time
	IDGenerator     func() string
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type certificateEventProcessor struct {
	orders       repositories.OrderRepository
	certificates repositories.CertificateRepository
	storage      CertificateStorage
	source       OrderSource
	metrics      CertificateRecorder
	retries      int
	clock        func() time.Time
	newID        func() string
	logger       func(context.Context, string, map[string]any)
}

var _ CertificateEventProcessor = (*certificateEventProcessor)(nil)

// NewCertificateEventProcessor constructs the consumer side of the generation pipeline.
func NewCertificateEventProcessor(deps CertificateEventProcessorDeps) (CertificateEventProcessor, error) {
	if deps.Orders == nil {
		return nil, errors.New("certificate event processor: order repository is required")
	}
	if deps.Certificates == nil {
		return nil, errors.New("certificate event processor: certificate repository is required")
	}
	if deps.Storage == nil {
		return nil, errors.New("certificate event processor: storage is required")
	}

	retries := deps.ConflictRetries
	if retries <= 0 {
		retries = defaultConflictRetries
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopCertificateRecorder{}
	}

	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}

	return &certificateEventProcessor{
		orders:       deps.Orders,
		certificates: deps.Certificates,
		storage:      deps.Storage,
		source:       deps.Source,
		metrics:      metrics,
		retries:      retries,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (p *certificateEventProcessor) HandleMessage(ctx context.Context, data []byte) (EventOutcome, error) {
	var events []CompletionEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return EventOutcome{}, fmt.Errorf("%w: %v", ErrEventPayloadInvalid, err)
	}
	return p.HandleEvents(ctx, events), nil
}

// HandleEvents applies the events one after another. A failing event never stops the rest.
func (p *certificateEventProcessor) HandleEvents(ctx context.Context, events []CompletionEvent) EventOutcome {
	ctx, span := observability.StartSpan(ctx, "certificates.HandleEvents",
		attribute.Int("certificates.events", len(events)),
	)
	defer span.End()

	var outcome EventOutcome
	for _, event := range events {
		err := p.handleEvent(ctx, event)
		switch {
		case err == nil:
			outcome.Processed++
		case errors.Is(err, errEventSkipped):
			outcome.Skipped++
			p.logger(ctx, "certificate.event.skipped", map[string]any{
				"orderId": event.OrderID,
				"reason":  err.Error(),
			})
		default:
			outcome.Failed++
			retryable := !errors.Is(err, ErrCertificateInvalidInput)
			if retryable {
				outcome.Retryable++
			}
			p.logger(ctx, "certificate.event.failed", map[string]any{
				"orderId":   event.OrderID,
				"productId": event.ProductID,
				"retryable": retryable,
				"error":     err.Error(),
			})
		}
	}

	p.metrics.RecordEvents(outcome)
	span.SetAttributes(
		attribute.Int("certificates.processed", outcome.Processed),
		attribute.Int("certificates.skipped", outcome.Skipped),
		attribute.Int("certificates.failed", outcome.Failed),
	)
	if outcome.Failed > 0 {
		span.SetStatus(codes.Error, "certificate events failed")
	}
	return outcome
}

func (p *certificateEventProcessor) handleEvent(ctx context.Context, event CompletionEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.OrderID <= 0 {
		return fmt.Errorf("%w: order id must be positive", ErrCertificateInvalidInput)
	}
	key := strings.TrimSpace(event.CertificateKey)
	if event.Success && key == "" {
		return fmt.Errorf("%w: successful event without certificate key", ErrCertificateInvalidInput)
	}

	order, err := p.orders.FindByID(ctx, event.OrderID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return fmt.Errorf("%w: order %d not found", errEventSkipped, event.OrderID)
		}
		return fmt.Errorf("lookup order %d: %w", event.OrderID, err)
	}

	for attempt := 1; attempt <= p.retries; attempt++ {
		cert, found, err := p.loadCertificate(ctx, event.OrderID)
		if err != nil {
			return err
		}

		next, previousKey, changed := p.apply(ctx, cert, found, order, event.Success, key)
		if !changed {
			p.notify(ctx, cert)
			return nil
		}

		saved, err := p.certificates.Save(ctx, next)
		if err != nil {
			if repositories.IsConflict(err) {
				p.logger(ctx, "certificate.save.conflict", map[string]any{
					"orderId": event.OrderID,
					"attempt": attempt,
				})
				continue
			}
			return fmt.Errorf("save certificate %d: %w", event.OrderID, err)
		}

		if previousKey != "" && previousKey != key {
			if err := p.storage.DeleteArtifact(ctx, previousKey); err != nil {
				p.logger(ctx, "certificate.artifact_delete.failed", map[string]any{
					"orderId": event.OrderID,
					"key":     previousKey,
					"error":   err.Error(),
				})
			}
		}

		p.notify(ctx, saved)
		return nil
	}
	return fmt.Errorf("%w: certificate %d changed concurrently %d times", ErrCertificateUnavailable, event.OrderID, p.retries)
}

func (p *certificateEventProcessor) loadCertificate(ctx context.Context, orderID int) (Certificate, bool, error) {
	cert, err := p.certificates.FindByOrderID(ctx, orderID)
	if err == nil {
		return cert, true, nil
	}
	if repositories.IsNotFound(err) {
		return Certificate{}, false, nil
	}
	return Certificate{}, false, fmt.Errorf("lookup certificate %d: %w", orderID, err)
}

// apply computes the certificate after a completion event. A success is sticky: once the
// certificate holds an artifact only a different successful artifact replaces it. previousKey
// is the artifact the update supersedes.
func (p *certificateEventProcessor) apply(ctx context.Context, cert Certificate, found bool, order Order, success bool, key string) (Certificate, string, bool) {
	now := p.clock()

	if !found {
		next := Certificate{
			ID:          p.newID(),
			OrderID:     order.OrderID,
			Success:     boolPtr(success),
			OrderDate:   order.OrderDate,
			Product:     order.Product,
			Participant: order.Participant,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if success {
			next.CertificateKey = key
			p.attachLink(ctx, &next, now)
		}
		return next, "", true
	}

	if !success || (cert.Succeeded() && cert.CertificateKey == key) {
		return cert, "", false
	}

	previousKey := cert.CertificateKey
	cert.Success = boolPtr(true)
	cert.CertificateKey = key
	cert.CertificateURL = ""
	cert.GeneratedAt = nil
	cert.UpdatedAt = now
	p.attachLink(ctx, &cert, now)
	return cert, previousKey, true
}

// attachLink signs a download link for the certificate artifact. On failure the link stays
// empty and the generation time unset so the next listing signs it again.
func (p *certificateEventProcessor) attachLink(ctx context.Context, cert *Certificate, now time.Time) {
	link, err := p.storage.SignedLink(ctx, cert.CertificateKey)
	if err != nil {
		p.logger(ctx, "certificate.link.failed", map[string]any{
			"orderId": cert.OrderID,
			"key":     cert.CertificateKey,
			"error":   err.Error(),
		})
		return
	}
	cert.CertificateURL = link
	cert.GeneratedAt = &now
}

func (p *certificateEventProcessor) notify(ctx context.Context, cert Certificate) {
	if p.source == nil {
		return
	}
	if err := p.source.NotifyCertificate(ctx, cert.View()); err != nil {
		p.logger(ctx, "certificate.notify.failed", map[string]any{
			"orderId": cert.OrderID,
			"error":   err.Error(),
		})
	}
}

func boolPtr(v bool) *bool {
	return &v
}

type noopCertificateRecorder struct{}

func (noopCertificateRecorder) RecordEvents(domain.EventOutcome) {}
func (noopCertificateRecorder) RecordLinkRefresh(error)         {}

var _ CertificateRecorder = noopCertificateRecorder{}
