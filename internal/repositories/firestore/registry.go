package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/certified-builder/api/internal/platform/firestore"
	"github.com/certified-builder/api/internal/repositories"
)

type registry struct {
	provider     *pfirestore.Provider
	products     *ProductRepository
	participants *ParticipantRepository
	orders       *OrderRepository
	certificates *CertificateRepository
	health       repositories.HealthRepository
}

// NewRegistry wires every Firestore repository on a shared provider. Closing the registry
// closes the provider.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (repositories.Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry: provider is required")
	}
	if health == nil {
		return nil, errors.New("firestore registry: health repository is required")
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	participants, err := NewParticipantRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	certificates, err := NewCertificateRepository(provider)
	if err != nil {
		return nil, err
	}
	return &registry{
		provider:     provider,
		products:     products,
		participants: participants,
		orders:       orders,
		certificates: certificates,
		health:       health,
	}, nil
}

func (r *registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

func (r *registry) Products() repositories.ProductRepository         { return r.products }
func (r *registry) Participants() repositories.ParticipantRepository { return r.participants }
func (r *registry) Orders() repositories.OrderRepository             { return r.orders }
func (r *registry) Certificates() repositories.CertificateRepository { return r.certificates }
func (r *registry) Health() repositories.HealthRepository            { return r.health }
