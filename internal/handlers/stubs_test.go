package handlers

import (
	"context"
	"time"

	"github.com/certified-builder/api/internal/services"
)

type stubSystemService struct {
	report   services.SystemHealthReport
	liveness services.SystemHealthReport
	err      error
}

func (s *stubSystemService) Liveness(context.Context) services.SystemHealthReport {
	return s.liveness
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

type stubIntakeService struct {
	productID int
	raws      []services.RawOrder
	result    services.BuildOrdersResult
	err       error
}

func (s *stubIntakeService) ProcessBatch(context.Context, []services.RawOrder) (services.BatchResult, error) {
	return services.BatchResult{}, nil
}

func (s *stubIntakeService) BuildOrders(_ context.Context, productID int) (services.BuildOrdersResult, error) {
	s.productID = productID
	return s.result, s.err
}

func (s *stubIntakeService) BuildOrdersFromRaw(_ context.Context, raws []services.RawOrder) (services.BuildOrdersResult, error) {
	s.raws = raws
	return s.result, s.err
}

type stubCertificateService struct {
	productID int
	views     []services.CertificateView
	stats     services.CertificateStats
	err       error
	notified  bool
}

func (s *stubCertificateService) ListCertificates(_ context.Context, productID int) ([]services.CertificateView, error) {
	s.productID = productID
	return s.views, s.err
}

func (s *stubCertificateService) Stats(_ context.Context, productID int) (services.CertificateStats, error) {
	s.productID = productID
	return s.stats, s.err
}

func (s *stubCertificateService) NotifyCertificates(_ context.Context, productID int) ([]services.CertificateView, error) {
	s.productID = productID
	s.notified = true
	return s.views, s.err
}

type stubProductService struct {
	productID int
	err       error
	now       time.Time
}

func (s *stubProductService) DeleteProduct(_ context.Context, productID int) (services.ProductDeletion, error) {
	s.productID = productID
	if s.err != nil {
		return services.ProductDeletion{}, s.err
	}
	return services.ProductDeletion{ProductID: productID, DeletedAt: s.now}, nil
}

type stubEventProcessor struct {
	data    []byte
	outcome services.EventOutcome
	err     error
}

func (s *stubEventProcessor) HandleMessage(_ context.Context, data []byte) (services.EventOutcome, error) {
	s.data = data
	return s.outcome, s.err
}

func (s *stubEventProcessor) HandleEvents(context.Context, []services.CompletionEvent) services.EventOutcome {
	return s.outcome
}

var (
	_ services.SystemService             = (*stubSystemService)(nil)
	_ services.IntakeService             = (*stubIntakeService)(nil)
	_ services.CertificateService        = (*stubCertificateService)(nil)
	_ services.ProductService            = (*stubProductService)(nil)
	_ services.CertificateEventProcessor = (*stubEventProcessor)(nil)
)
