package repositories

import (
	"context"
	"errors"

	domain "github.com/certified-builder/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Participants() ParticipantRepository
	Orders() OrderRepository
	Certificates() CertificateRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ProductRepository persists products keyed by their external id.
type ProductRepository interface {
	// Create stores the product; it fails with a conflict when the id already exists.
	Create(ctx context.Context, product domain.Product) (domain.Product, error)
	FindByID(ctx context.Context, productID int) (domain.Product, error)
	Delete(ctx context.Context, productID int) error
}

// ParticipantRepository persists participants keyed by normalised email.
type ParticipantRepository interface {
	// Create stores the participant; it fails with a conflict when the email already exists.
	Create(ctx context.Context, participant domain.Participant) (domain.Participant, error)
	FindByEmail(ctx context.Context, email string) (domain.Participant, error)
}

// OrderRepository persists immutable orders.
type OrderRepository interface {
	// Create stores the order only if no order with the same id exists.
	Create(ctx context.Context, order domain.Order) (domain.Order, error)
	FindByID(ctx context.Context, orderID int) (domain.Order, error)
	CountByProduct(ctx context.Context, productID int) (int, error)
	DeleteByProduct(ctx context.Context, productID int) (int, error)
}

// CertificateRepository persists one certificate per order.
type CertificateRepository interface {
	FindByOrderID(ctx context.Context, orderID int) (domain.Certificate, error)
	ListByProduct(ctx context.Context, productID int) ([]domain.Certificate, error)
	// Save creates (Version 0) or replaces the certificate when the stored version equals
	// cert.Version. A mismatch is reported as a conflict. The returned certificate carries
	// the new version.
	Save(ctx context.Context, cert domain.Certificate) (domain.Certificate, error)
	DeleteByProduct(ctx context.Context, productID int) (int, error)
}

// HealthRepository exposes dependency health checks used by system endpoints.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// IsNotFound reports whether err is a repository not-found failure.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err is a repository conflict failure.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// IsUnavailable reports whether err is a repository availability failure.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}
