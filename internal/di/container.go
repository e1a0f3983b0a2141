package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/certified-builder/api/internal/platform/config"
	"github.com/certified-builder/api/internal/repositories"
	"github.com/certified-builder/api/internal/services"
)

// Services bundles the service-layer contracts that handlers and workers rely upon.
type Services struct {
	Intake       services.IntakeService
	Events       services.CertificateEventProcessor
	Certificates services.CertificateService
	Products     services.ProductService
	System       services.SystemService
}

// Metrics receives the counters of both the intake and certificate services.
type Metrics interface {
	services.IntakeRecorder
	services.CertificateRecorder
}

// Collaborators carries the adapters to external systems. Source, Publisher and Storage are
// required; the rest default to no-ops.
type Collaborators struct {
	Source    services.OrderSource
	Publisher services.OrderPublisher
	Storage   services.CertificateStorage
	Metrics   Metrics
	Logger    services.Logger
	Build     services.BuildInfo
	Clock     func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Tests can supply in-memory registries and
// stub collaborators.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, collab Collaborators) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, collab)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, collab Collaborators) (Services, error) {
	clock := collab.Clock
	if clock == nil {
		clock = time.Now
	}

	var (
		intakeMetrics services.IntakeRecorder
		certMetrics   services.CertificateRecorder
	)
	if collab.Metrics != nil {
		intakeMetrics = collab.Metrics
		certMetrics = collab.Metrics
	}

	var svc Services

	intake, err := services.NewIntakeService(services.IntakeServiceDeps{
		Products:     reg.Products(),
		Participants: reg.Participants(),
		Orders:       reg.Orders(),
		Source:       collab.Source,
		Publisher:    collab.Publisher,
		Metrics:      intakeMetrics,
		Concurrency:  cfg.Intake.Concurrency,
		Clock:        clock,
		Logger:       collab.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build intake service: %w", err)
	}
	svc.Intake = intake

	events, err := services.NewCertificateEventProcessor(services.CertificateEventProcessorDeps{
		Orders:          reg.Orders(),
		Certificates:    reg.Certificates(),
		Storage:         collab.Storage,
		Source:          collab.Source,
		Metrics:         certMetrics,
		ConflictRetries: cfg.Certificates.ConflictRetries,
		Clock:           clock,
		Logger:          collab.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build certificate event processor: %w", err)
	}
	svc.Events = events

	certificates, err := services.NewCertificateService(services.CertificateServiceDeps{
		Products:     reg.Products(),
		Orders:       reg.Orders(),
		Certificates: reg.Certificates(),
		Storage:      collab.Storage,
		Source:       collab.Source,
		Metrics:      certMetrics,
		Clock:        clock,
		Logger:       collab.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build certificate service: %w", err)
	}
	svc.Certificates = certificates

	products, err := services.NewProductService(services.ProductServiceDeps{
		Products:     reg.Products(),
		Orders:       reg.Orders(),
		Certificates: reg.Certificates(),
		Storage:      collab.Storage,
		Clock:        clock,
		Logger:       collab.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build product service: %w", err)
	}
	svc.Products = products

	if healthRepo := reg.Health(); healthRepo != nil {
		build := collab.Build
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
