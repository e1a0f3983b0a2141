package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/certified-builder/api/internal/repositories"
)

// ProductServiceDeps bundles collaborators required to construct a product service.
type ProductServiceDeps struct {
	Products     repositories.ProductRepository
	Orders       repositories.OrderRepository
	Certificates repositories.CertificateRepository
	Storage      CertificateStorage
	Clock        func() time.Time
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type productService struct {
	products     repositories.ProductRepository
	orders       repositories.OrderRepository
	certificates repositories.CertificateRepository
	storage      CertificateStorage
	clock        func() time.Time
	logger       func(context.Context, string, map[string]any)
}

var _ ProductService = (*productService)(nil)

// NewProductService constructs the product workflows.
func NewProductService(deps ProductServiceDeps) (ProductService, error) {
	if deps.Products == nil {
		return nil, errors.New("product service: product repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("product service: order repository is required")
	}
	if deps.Certificates == nil {
		return nil, errors.New("product service: certificate repository is required")
	}
	if deps.Storage == nil {
		return nil, errors.New("product service: storage is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}

	return &productService{
		products:     deps.Products,
		orders:       deps.Orders,
		certificates: deps.Certificates,
		storage:      deps.Storage,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// DeleteProduct removes the product, its orders, its stored artifacts and its certificates, in
// that order. Participants are kept. Artifact removal is best effort.
func (s *productService) DeleteProduct(ctx context.Context, productID int) (ProductDeletion, error) {
	if productID <= 0 {
		return ProductDeletion{}, fmt.Errorf("%w: product id must be positive", ErrProductInvalidInput)
	}

	if _, err := s.products.FindByID(ctx, productID); err != nil {
		return ProductDeletion{}, wrapRepoError(ErrProductUnavailable, ErrProductNotFound, err)
	}

	if err := s.products.Delete(ctx, productID); err != nil {
		return ProductDeletion{}, wrapRepoError(ErrProductUnavailable, ErrProductNotFound, err)
	}

	orders, err := s.orders.DeleteByProduct(ctx, productID)
	if err != nil {
		return ProductDeletion{}, wrapRepoError(ErrProductUnavailable, nil, err)
	}

	artifacts, err := s.storage.DeleteProductArtifacts(ctx, productID)
	if err != nil {
		s.logger(ctx, "product.artifacts_delete.failed", map[string]any{
			"productId": productID,
			"deleted":   artifacts,
			"error":     err.Error(),
		})
	}

	certificates, err := s.certificates.DeleteByProduct(ctx, productID)
	if err != nil {
		return ProductDeletion{}, wrapRepoError(ErrProductUnavailable, nil, err)
	}

	deletedAt := s.clock()
	s.logger(ctx, "product.deleted", map[string]any{
		"productId":    productID,
		"orders":       orders,
		"artifacts":    artifacts,
		"certificates": certificates,
	})
	return ProductDeletion{ProductID: productID, DeletedAt: deletedAt}, nil
}
