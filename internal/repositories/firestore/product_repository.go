package firestore

import (
	"context"
	"errors"

	domain "github.com/certified-builder/api/internal/domain"
	pfirestore "github.com/certified-builder/api/internal/platform/firestore"
	"github.com/certified-builder/api/internal/repositories"
)

// ProductRepository persists products in the products collection keyed by product id.
type ProductRepository struct {
	docs *pfirestore.Collection[productDocument]
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository: firestore provider is required")
	}
	return &ProductRepository{
		docs: pfirestore.NewCollection[productDocument](provider, productsCollection),
	}, nil
}

func (r *ProductRepository) Create(ctx context.Context, product domain.Product) (domain.Product, error) {
	product.CreatedAt = product.CreatedAt.UTC()
	doc := productDocument{
		ProductID:             product.ProductID,
		Name:                  product.Name,
		CertificateDetails:    product.CertificateDetails,
		CertificateLogo:       product.CertificateLogo,
		CertificateBackground: product.CertificateBackground,
		CheckinLatitude:       product.CheckinLatitude,
		CheckinLongitude:      product.CheckinLongitude,
		TimeCheckin:           product.TimeCheckin,
		CreatedAt:             product.CreatedAt,
	}
	if err := r.docs.Create(ctx, intDocID(product.ProductID), doc); err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

func (r *ProductRepository) FindByID(ctx context.Context, productID int) (domain.Product, error) {
	doc, err := r.docs.Get(ctx, intDocID(productID))
	if err != nil {
		return domain.Product{}, err
	}
	return domain.Product{
		ProductID:             doc.ProductID,
		Name:                  doc.Name,
		CertificateDetails:    doc.CertificateDetails,
		CertificateLogo:       doc.CertificateLogo,
		CertificateBackground: doc.CertificateBackground,
		CheckinLatitude:       doc.CheckinLatitude,
		CheckinLongitude:      doc.CheckinLongitude,
		TimeCheckin:           doc.TimeCheckin,
		CreatedAt:             doc.CreatedAt.UTC(),
	}, nil
}

func (r *ProductRepository) Delete(ctx context.Context, productID int) error {
	return r.docs.Delete(ctx, intDocID(productID))
}
