package firestore

import (
	"context"
	"errors"

	domain "github.com/certified-builder/api/internal/domain"
	pfirestore "github.com/certified-builder/api/internal/platform/firestore"
	"github.com/certified-builder/api/internal/repositories"
)

// OrderRepository persists immutable orders keyed by order id.
type OrderRepository struct {
	docs *pfirestore.Collection[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}
	return &OrderRepository{
		docs: pfirestore.NewCollection[orderDocument](provider, ordersCollection),
	}, nil
}

// Create relies on the document create precondition, so a concurrent insert of the same
// order id fails with a conflict.
func (r *OrderRepository) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	order.CreatedAt = order.CreatedAt.UTC()
	doc := orderDocument{
		OrderID:     order.OrderID,
		ProductID:   order.Product.ProductID,
		OrderDate:   timePtr(order.OrderDate),
		Product:     encodeProductSnapshot(order.Product),
		Participant: encodeParticipantSnapshot(order.Participant),
		CreatedAt:   order.CreatedAt,
	}
	if err := r.docs.Create(ctx, intDocID(order.OrderID), doc); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID int) (domain.Order, error) {
	doc, err := r.docs.Get(ctx, intDocID(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return domain.Order{
		OrderID:     doc.OrderID,
		OrderDate:   timeValue(doc.OrderDate),
		Product:     decodeProductSnapshot(doc.Product),
		Participant: decodeParticipantSnapshot(doc.Participant),
		CreatedAt:   doc.CreatedAt.UTC(),
	}, nil
}

func (r *OrderRepository) CountByProduct(ctx context.Context, productID int) (int, error) {
	return r.docs.Count(ctx, forProduct(productID))
}

func (r *OrderRepository) DeleteByProduct(ctx context.Context, productID int) (int, error) {
	return r.docs.DeleteMatching(ctx, forProduct(productID))
}

func forProduct(productID int) pfirestore.Filter {
	return pfirestore.Where("productId", "==", productID)
}
