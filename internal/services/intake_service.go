package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/certified-builder/api/internal/platform/observability"
	"github.com/certified-builder/api/internal/platform/textutil"
	"github.com/certified-builder/api/internal/repositories"
)

const defaultIntakeConcurrency = 8

// IntakeServiceDeps bundles collaborators required to construct an intake service.
type IntakeServiceDeps struct {
	Products     repositories.ProductRepository
	Participants repositories.ParticipantRepository
	Orders       repositories.OrderRepository
	Source       OrderSource
	Publisher    OrderPublisher
	Metrics      IntakeRecorder
	Concurrency  int
	Clock        func() time.Time
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type intakeService struct {
	products     repositories.ProductRepository
	participants repositories.ParticipantRepository
	orders       repositories.OrderRepository
	entities     *entityService
	source       OrderSource
	publisher    OrderPublisher
	metrics      IntakeRecorder
	concurrency  int
	logger       func(context.Context, string, map[string]any)
}

var _ IntakeService = (*intakeService)(nil)

// NewIntakeService wires the batch ingestion workflow. The order source is optional; without it
// only BuildOrdersFromRaw and ProcessBatch are usable.
func NewIntakeService(deps IntakeServiceDeps) (IntakeService, error) {
	if deps.Publisher == nil {
		return nil, errors.New("intake service: publisher is required")
	}
	entities, err := newEntityService(deps.Products, deps.Participants, deps.Orders, deps.Clock)
	if err != nil {
		return nil, fmt.Errorf("intake service: %w", err)
	}

	concurrency := deps.Concurrency
	if concurrency <= 0 {
		concurrency = defaultIntakeConcurrency
	}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopIntakeRecorder{}
	}

	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}

	return &intakeService{
		products:     deps.Products,
		participants: deps.Participants,
		orders:       deps.Orders,
		entities:     entities,
		source:       deps.Source,
		publisher:    deps.Publisher,
		metrics:      metrics,
		concurrency:  concurrency,
		logger:       logger,
	}, nil
}

func (s *intakeService) ProcessBatch(ctx context.Context, raws []RawOrder) (BatchResult, error) {
	if ctx == nil {
		return BatchResult{}, errors.New("intake service: context is required")
	}

	eligible := make([]RawOrder, 0, len(raws))
	for _, raw := range raws {
		if raw.EligibleForCertificate() {
			eligible = append(eligible, raw)
		}
	}

	ctx, span := observability.StartSpan(ctx, "intake.ProcessBatch",
		attribute.Int("intake.received", len(raws)),
		attribute.Int("intake.eligible", len(eligible)),
	)
	defer span.End()

	result := BatchResult{
		ExistingOrderIDs: []int{},
		NewOrders:        []Order{},
		NewRawOrders:     []RawOrder{},
	}
	if len(eligible) == 0 {
		return result, nil
	}

	refs := newReferenceCache(s.products, s.participants, s.entities)

	var (
		mu     sync.Mutex
		failed int
	)
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, raw := range eligible {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			order, created, err := s.intakeOne(ctx, refs, raw)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				failed++
				s.logger(ctx, "intake.order.failed", map[string]any{
					"orderId":   raw.OrderID,
					"productId": raw.ProductID,
					"error":     err.Error(),
				})
			case created:
				result.NewOrders = append(result.NewOrders, order)
				result.NewRawOrders = append(result.NewRawOrders, raw)
			default:
				result.ExistingOrderIDs = append(result.ExistingOrderIDs, raw.OrderID)
			}
			return nil
		})
	}
	_ = g.Wait()

	slices.Sort(result.ExistingOrderIDs)
	slices.SortFunc(result.NewOrders, func(a, b Order) int { return a.OrderID - b.OrderID })
	slices.SortFunc(result.NewRawOrders, func(a, b RawOrder) int { return a.OrderID - b.OrderID })

	s.metrics.RecordBatch(len(result.ExistingOrderIDs), len(result.NewOrders), failed)
	span.SetAttributes(
		attribute.Int("intake.existing", len(result.ExistingOrderIDs)),
		attribute.Int("intake.created", len(result.NewOrders)),
		attribute.Int("intake.failed", failed),
	)

	if err := ctx.Err(); err != nil {
		return result, err
	}
	if failed > 0 && failed == len(eligible) {
		return result, fmt.Errorf("%w: all %d orders failed", ErrIntakeUnavailable, failed)
	}
	return result, nil
}

// intakeOne resolves the references of raw and creates its order when unseen. created is false
// when the order already existed, including when a concurrent batch created it first.
func (s *intakeService) intakeOne(ctx context.Context, refs *referenceCache, raw RawOrder) (Order, bool, error) {
	if err := validateRawOrder(raw); err != nil {
		return Order{}, false, err
	}

	if _, err := raw.ParsedOrderDate(); err != nil {
		s.logger(ctx, "intake.order_date.invalid", map[string]any{
			"orderId":   raw.OrderID,
			"orderDate": raw.OrderDate,
		})
	}

	product, err := refs.Product(ctx, raw)
	if err != nil {
		return Order{}, false, fmt.Errorf("resolve product %d: %w", raw.ProductID, err)
	}
	participant, err := refs.Participant(ctx, raw)
	if err != nil {
		return Order{}, false, fmt.Errorf("resolve participant: %w", err)
	}

	existing, err := s.orders.FindByID(ctx, raw.OrderID)
	if err == nil {
		return existing, false, nil
	}
	if !repositories.IsNotFound(err) {
		return Order{}, false, fmt.Errorf("lookup order %d: %w", raw.OrderID, err)
	}

	order, err := s.entities.CreateOrder(ctx, raw, product, participant)
	if err != nil {
		if repositories.IsConflict(err) {
			return Order{}, false, nil
		}
		return Order{}, false, fmt.Errorf("create order %d: %w", raw.OrderID, err)
	}
	return order, true, nil
}

func validateRawOrder(raw RawOrder) error {
	switch {
	case raw.OrderID <= 0:
		return fmt.Errorf("%w: order id must be positive", ErrIntakeInvalidInput)
	case raw.ProductID <= 0:
		return fmt.Errorf("%w: product id must be positive", ErrIntakeInvalidInput)
	case textutil.NormalizeEmail(raw.Email) == "":
		return fmt.Errorf("%w: email is required", ErrIntakeInvalidInput)
	}
	return nil
}

func (s *intakeService) BuildOrders(ctx context.Context, productID int) (BuildOrdersResult, error) {
	if ctx == nil {
		return BuildOrdersResult{}, errors.New("intake service: context is required")
	}
	if productID <= 0 {
		return BuildOrdersResult{}, fmt.Errorf("%w: product id must be positive", ErrIntakeInvalidInput)
	}
	if s.source == nil {
		return BuildOrdersResult{}, fmt.Errorf("%w: order source not configured", ErrOrderSourceUnavailable)
	}

	raws, err := s.source.GetOrders(ctx, productID)
	if err != nil {
		return BuildOrdersResult{}, fmt.Errorf("%w: %v", ErrOrderSourceUnavailable, err)
	}
	s.logger(ctx, "intake.orders.fetched", map[string]any{
		"productId": productID,
		"count":     len(raws),
	})

	result, err := s.BuildOrdersFromRaw(ctx, raws)
	result.ProductID = productID
	return result, err
}

func (s *intakeService) BuildOrdersFromRaw(ctx context.Context, raws []RawOrder) (BuildOrdersResult, error) {
	if ctx == nil {
		return BuildOrdersResult{}, errors.New("intake service: context is required")
	}

	batch, err := s.ProcessBatch(ctx, raws)
	result := BuildOrdersResult{
		ProductID:           batchProductID(raws),
		CertificateQuantity: len(batch.NewOrders),
		ExistingOrders:      batch.ExistingOrderIDs,
		NewOrders:           batch.NewOrderIDs(),
	}
	if result.ExistingOrders == nil {
		result.ExistingOrders = []int{}
	}
	if err != nil {
		return result, err
	}
	if len(batch.NewOrders) == 0 {
		return result, nil
	}

	payload := batch.NewRawOrders
	messageID, err := s.publisher.PublishNewOrders(ctx, payload)
	s.metrics.RecordPublish(err)
	if err != nil {
		s.logger(ctx, "intake.publish.failed", map[string]any{
			"productId": result.ProductID,
			"orders":    result.NewOrders,
			"error":     err.Error(),
		})
		return result, fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	result.MessageID = messageID
	s.logger(ctx, "intake.published", map[string]any{
		"productId": result.ProductID,
		"messageId": messageID,
		"count":     len(payload),
	})
	return result, nil
}

// batchProductID returns the product shared by every order, or zero for mixed batches.
func batchProductID(raws []RawOrder) int {
	productID := 0
	for _, raw := range raws {
		switch {
		case productID == 0:
			productID = raw.ProductID
		case raw.ProductID != productID:
			return 0
		}
	}
	return productID
}

type noopIntakeRecorder struct{}

func (noopIntakeRecorder) RecordBatch(int, int, int) {}
func (noopIntakeRecorder) RecordPublish(error)       {}

var _ IntakeRecorder = noopIntakeRecorder{}
