package services

import (
	"context"

	domain "github.com/certified-builder/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	RawOrder           = domain.RawOrder
	Order              = domain.Order
	Certificate        = domain.Certificate
	CertificateView    = domain.CertificateView
	CertificateStats   = domain.CertificateStats
	CompletionEvent    = domain.CompletionEvent
	EventOutcome       = domain.EventOutcome
	BatchResult        = domain.BatchResult
	BuildOrdersResult  = domain.BuildOrdersResult
	ProductDeletion    = domain.ProductDeletion
	SystemHealthReport = domain.SystemHealthReport
)

// IntakeService turns raw order batches into persisted orders and build requests.
type IntakeService interface {
	// ProcessBatch classifies eligible orders as existing or new, creating the new ones.
	ProcessBatch(ctx context.Context, raws []RawOrder) (BatchResult, error)
	// BuildOrders fetches the orders of a product from the order source and runs BuildOrdersFromRaw.
	BuildOrders(ctx context.Context, productID int) (BuildOrdersResult, error)
	// BuildOrdersFromRaw processes the batch and publishes the new orders for generation.
	BuildOrdersFromRaw(ctx context.Context, raws []RawOrder) (BuildOrdersResult, error)
}

// CertificateEventProcessor applies completion events to certificate records.
type CertificateEventProcessor interface {
	HandleMessage(ctx context.Context, data []byte) (EventOutcome, error)
	HandleEvents(ctx context.Context, events []CompletionEvent) EventOutcome
}

// CertificateService serves certificate reads and notification replays.
type CertificateService interface {
	ListCertificates(ctx context.Context, productID int) ([]CertificateView, error)
	Stats(ctx context.Context, productID int) (CertificateStats, error)
	NotifyCertificates(ctx context.Context, productID int) ([]CertificateView, error)
}

// ProductService runs product level workflows.
type ProductService interface {
	DeleteProduct(ctx context.Context, productID int) (ProductDeletion, error)
}

// SystemService backs the liveness and readiness endpoints.
type SystemService interface {
	Liveness(ctx context.Context) SystemHealthReport
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// OrderSource is the upstream system holding orders and receiving certificate updates.
type OrderSource interface {
	GetOrders(ctx context.Context, productID int) ([]RawOrder, error)
	NotifyCertificate(ctx context.Context, view CertificateView) error
	NotifyCertificates(ctx context.Context, views []CertificateView) error
}

// OrderPublisher hands new orders to the certificate generation pipeline.
type OrderPublisher interface {
	PublishNewOrders(ctx context.Context, orders []RawOrder) (string, error)
}

// CertificateStorage manages generated certificate artifacts.
type CertificateStorage interface {
	SignedLink(ctx context.Context, key string) (string, error)
	DeleteArtifact(ctx context.Context, key string) error
	DeleteProductArtifacts(ctx context.Context, productID int) (int, error)
}

// IntakeRecorder receives intake counters.
type IntakeRecorder interface {
	RecordBatch(existing, created, failed int)
	RecordPublish(err error)
}

// CertificateRecorder receives certificate counters.
type CertificateRecorder interface {
	RecordEvents(outcome EventOutcome)
	RecordLinkRefresh(err error)
}

// Logger is the structured logging hook shared by services.
type Logger func(ctx context.Context, event string, fields map[string]any)

func noopLogger(context.Context, string, map[string]any) {}
