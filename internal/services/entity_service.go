package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/certified-builder/api/internal/domain"
	"github.com/certified-builder/api/internal/platform/textutil"
	"github.com/certified-builder/api/internal/repositories"
)

// entityService persists the product, participant and order records derived from a raw order.
type entityService struct {
	products     repositories.ProductRepository
	participants repositories.ParticipantRepository
	orders       repositories.OrderRepository
	clock        func() time.Time
}

func newEntityService(products repositories.ProductRepository, participants repositories.ParticipantRepository, orders repositories.OrderRepository, clock func() time.Time) (*entityService, error) {
	if products == nil {
		return nil, errors.New("entity service: product repository is required")
	}
	if participants == nil {
		return nil, errors.New("entity service: participant repository is required")
	}
	if orders == nil {
		return nil, errors.New("entity service: order repository is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &entityService{
		products:     products,
		participants: participants,
		orders:       orders,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

func (s *entityService) CreateProduct(ctx context.Context, raw RawOrder) (domain.Product, error) {
	if raw.ProductID <= 0 {
		return domain.Product{}, fmt.Errorf("%w: product id must be positive", ErrIntakeInvalidInput)
	}
	return s.products.Create(ctx, domain.Product{
		ProductID:             raw.ProductID,
		Name:                  textutil.Normalize(raw.ProductName),
		CertificateDetails:    textutil.SanitizeRichText(raw.CertificateDetails),
		CertificateLogo:       textutil.NormalizeAsset(raw.CertificateLogo),
		CertificateBackground: textutil.NormalizeAsset(raw.CertificateBackground),
		CheckinLatitude:       textutil.Normalize(raw.CheckinLatitude),
		CheckinLongitude:      textutil.Normalize(raw.CheckinLongitude),
		TimeCheckin:           textutil.Normalize(raw.TimeCheckin),
		CreatedAt:             s.clock(),
	})
}

func (s *entityService) CreateParticipant(ctx context.Context, raw RawOrder) (domain.Participant, error) {
	email := textutil.NormalizeEmail(raw.Email)
	if email == "" {
		return domain.Participant{}, fmt.Errorf("%w: email is required", ErrIntakeInvalidInput)
	}
	return s.participants.Create(ctx, domain.Participant{
		Email:     email,
		FirstName: textutil.Normalize(raw.FirstName),
		LastName:  textutil.Normalize(raw.LastName),
		Phone:     textutil.Normalize(raw.Phone),
		CPF:       textutil.Normalize(raw.CPF),
		City:      textutil.Normalize(raw.City),
		CreatedAt: s.clock(),
	})
}

// CreateOrder stores the order with write-once snapshots of the resolved product and participant.
// A malformed order date is kept as the zero time.
func (s *entityService) CreateOrder(ctx context.Context, raw RawOrder, product domain.Product, participant domain.Participant) (Order, error) {
	orderDate, _ := raw.ParsedOrderDate()
	return s.orders.Create(ctx, domain.Order{
		OrderID:     raw.OrderID,
		OrderDate:   orderDate,
		Product:     product.Snapshot(),
		Participant: participant.Snapshot(),
		CreatedAt:   s.clock(),
	})
}
