package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/certified-builder/api/internal/domain"
	pfirestore "github.com/certified-builder/api/internal/platform/firestore"
	"github.com/certified-builder/api/internal/repositories"
)

// CertificateRepository stores one certificate per order, keyed by order id, and guards
// updates with a version counter.
type CertificateRepository struct {
	provider *pfirestore.Provider
	docs     *pfirestore.Collection[certificateDocument]
}

var _ repositories.CertificateRepository = (*CertificateRepository)(nil)

// NewCertificateRepository constructs a Firestore-backed certificate repository.
func NewCertificateRepository(provider *pfirestore.Provider) (*CertificateRepository, error) {
	if provider == nil {
		return nil, errors.New("certificate repository: firestore provider is required")
	}
	return &CertificateRepository{
		provider: provider,
		docs:     pfirestore.NewCollection[certificateDocument](provider, certificatesCollection),
	}, nil
}

func (r *CertificateRepository) FindByOrderID(ctx context.Context, orderID int) (domain.Certificate, error) {
	doc, err := r.docs.Get(ctx, intDocID(orderID))
	if err != nil {
		return domain.Certificate{}, err
	}
	return decodeCertificate(doc), nil
}

func (r *CertificateRepository) ListByProduct(ctx context.Context, productID int) ([]domain.Certificate, error) {
	found, err := r.docs.Find(ctx, forProduct(productID))
	if err != nil {
		return nil, err
	}
	certs := make([]domain.Certificate, 0, len(found))
	for _, doc := range found {
		certs = append(certs, decodeCertificate(doc))
	}
	sort.Slice(certs, func(i, j int) bool { return certs[i].OrderID < certs[j].OrderID })
	return certs, nil
}

// Save compares the stored version with cert.Version inside a transaction and writes the
// certificate with the next version.
func (r *CertificateRepository) Save(ctx context.Context, cert domain.Certificate) (domain.Certificate, error) {
	id := intDocID(cert.OrderID)
	expected := cert.Version

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.docs.Ref(ctx, id)
		if err != nil {
			return err
		}

		snapshot, err := tx.Get(ref)
		var stored int64
		switch status.Code(err) {
		case codes.OK:
			current, decodeErr := r.docs.Decode(snapshot)
			if decodeErr != nil {
				return decodeErr
			}
			stored = current.Version
		case codes.NotFound:
			stored = 0
		default:
			return err
		}
		if stored != expected {
			return fmt.Errorf("certificate %s at version %d, expected %d: %w", id, stored, expected, pfirestore.ErrVersionMismatch)
		}

		next := cert
		next.Version = expected + 1
		return tx.Set(ref, encodeCertificate(next))
	})
	if err != nil {
		return domain.Certificate{}, pfirestore.WrapError("certificates.save", err)
	}

	cert.Version = expected + 1
	return cert, nil
}

func (r *CertificateRepository) DeleteByProduct(ctx context.Context, productID int) (int, error) {
	return r.docs.DeleteMatching(ctx, forProduct(productID))
}
