package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/certified-builder/api/internal/repositories"
)

// CertificateServiceDeps bundles collaborators required to construct a certificate service.
type CertificateServiceDeps struct {
	Products     repositories.ProductRepository
	Orders       repositories.OrderRepository
	Certificates repositories.CertificateRepository
	Storage      CertificateStorage
	Source       OrderSource
	Metrics      CertificateRecorder
	Clock        func() time.Time
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type certificateService struct {
	products     repositories.ProductRepository
	orders       repositories.OrderRepository
	certificates repositories.CertificateRepository
	storage      CertificateStorage
	source       OrderSource
	metrics      CertificateRecorder
	clock        func() time.Time
	logger       func(context.Context, string, map[string]any)
}

var _ CertificateService = (*certificateService)(nil)

// NewCertificateService constructs the certificate read side.
func NewCertificateService(deps CertificateServiceDeps) (CertificateService, error) {
	if deps.Products == nil {
		return nil, errors.New("certificate service: product repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("certificate service: order repository is required")
	}
	if deps.Certificates == nil {
		return nil, errors.New("certificate service: certificate repository is required")
	}
	if deps.Storage == nil {
		return nil, errors.New("certificate service: storage is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopCertificateRecorder{}
	}

	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}

	return &certificateService{
		products:     deps.Products,
		orders:       deps.Orders,
		certificates: deps.Certificates,
		storage:      deps.Storage,
		source:       deps.Source,
		metrics:      metrics,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// ListCertificates returns the certificates of a product, re-signing links of successful
// certificates whose link is older than the link validity window.
func (s *certificateService) ListCertificates(ctx context.Context, productID int) ([]CertificateView, error) {
	if productID <= 0 {
		return nil, fmt.Errorf("%w: product id must be positive", ErrCertificateInvalidInput)
	}

	certs, err := s.certificates.ListByProduct(ctx, productID)
	if err != nil {
		return nil, wrapRepoError(ErrCertificateUnavailable, nil, err)
	}

	now := s.clock()
	views := make([]CertificateView, 0, len(certs))
	for _, cert := range certs {
		if cert.Succeeded() && cert.LinkExpired(now) {
			cert = s.refreshLink(ctx, cert, now)
		}
		views = append(views, cert.View())
	}
	return views, nil
}

// refreshLink returns the certificate with a new link, or the unchanged certificate when
// signing or persisting fails.
func (s *certificateService) refreshLink(ctx context.Context, cert Certificate, now time.Time) Certificate {
	link, err := s.storage.SignedLink(ctx, cert.CertificateKey)
	if err != nil {
		s.metrics.RecordLinkRefresh(err)
		s.logger(ctx, "certificate.link_refresh.failed", map[string]any{
			"orderId": cert.OrderID,
			"key":     cert.CertificateKey,
			"error":   err.Error(),
		})
		return cert
	}

	next := cert
	generatedAt := now
	next.CertificateURL = link
	next.GeneratedAt = &generatedAt
	next.UpdatedAt = now

	saved, err := s.certificates.Save(ctx, next)
	s.metrics.RecordLinkRefresh(err)
	if err != nil {
		s.logger(ctx, "certificate.link_refresh.failed", map[string]any{
			"orderId": cert.OrderID,
			"error":   err.Error(),
		})
		return cert
	}
	return saved
}

func (s *certificateService) Stats(ctx context.Context, productID int) (CertificateStats, error) {
	if productID <= 0 {
		return CertificateStats{}, fmt.Errorf("%w: product id must be positive", ErrCertificateInvalidInput)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return CertificateStats{}, wrapRepoError(ErrCertificateUnavailable, ErrCertificateProductNotFound, err)
	}

	total, err := s.orders.CountByProduct(ctx, productID)
	if err != nil {
		return CertificateStats{}, wrapRepoError(ErrCertificateUnavailable, nil, err)
	}

	certs, err := s.certificates.ListByProduct(ctx, productID)
	if err != nil {
		return CertificateStats{}, wrapRepoError(ErrCertificateUnavailable, nil, err)
	}

	stats := CertificateStats{
		ProductID:   product.ProductID,
		ProductName: product.Name,
		Total:       total,
	}
	for _, cert := range certs {
		switch {
		case cert.Success == nil:
			stats.Pending++
		case *cert.Success:
			stats.Succeeded++
		default:
			stats.Failed++
		}
	}
	return stats, nil
}

// NotifyCertificates pushes every certificate of the product to the order source batch endpoint.
func (s *certificateService) NotifyCertificates(ctx context.Context, productID int) ([]CertificateView, error) {
	if s.source == nil {
		return nil, fmt.Errorf("%w: order source not configured", ErrOrderSourceUnavailable)
	}

	views, err := s.ListCertificates(ctx, productID)
	if err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return views, nil
	}

	if err := s.source.NotifyCertificates(ctx, views); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOrderSourceUnavailable, err)
	}
	s.logger(ctx, "certificate.notified", map[string]any{
		"productId": productID,
		"count":     len(views),
	})
	return views, nil
}
