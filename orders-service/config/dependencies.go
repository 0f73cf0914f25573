package config

import (
	"context"
	"fmt"

	"github.com/draftea/order-orchestrator/orders-service/application"
	"github.com/draftea/order-orchestrator/orders-service/domain"
	"github.com/draftea/order-orchestrator/orders-service/handlers"
	orderinfra "github.com/draftea/order-orchestrator/orders-service/infrastructure"
	sharedinfra "github.com/draftea/order-orchestrator/shared/infrastructure"
	"github.com/draftea/order-orchestrator/shared/saga"
	"github.com/draftea/order-orchestrator/shared/telemetry"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Dependencies struct {
	// Database
	DB *sqlx.DB

	// Saga persistence
	SagaStore *sharedinfra.PostgresSagaStore

	// Collaborator services
	InventoryService domain.InventoryService
	PaymentGateway   domain.PaymentGateway
	ShippingService  domain.ShippingService

	// Use Cases
	StartOrderSaga *application.StartOrderSaga
	GetSaga        *application.GetSaga
	ListSagas      *application.ListSagas

	// HTTP Handlers
	SagaHandlers *handlers.SagaHandlers

	// Event Handlers
	OrderEventHandlers *handlers.OrderEventHandlers

	// Recovery
	Sweeper *saga.Sweeper

	// Infrastructure
	EventPublisher  *sharedinfra.SNSPublisherAdapter
	EventSubscriber *sharedinfra.SQSSubscriberAdapter

	// Telemetry
	Telemetry         *telemetry.Telemetry
	TelemetryShutdown func()
}

func BuildDependencies(ctx context.Context, config *Config) (*Dependencies, error) {
	deps := &Dependencies{}

	// Initialize telemetry
	if config.Telemetry.Enabled {
		telConfig := telemetry.NewConfigForService(config.ServiceName, "1.0.0", config.Telemetry.OTLPEndpoint)
		tel, telemetryShutdown, err := telemetry.InitTelemetry(ctx, telConfig)
		if err != nil {
			fmt.Printf("Warning: failed to initialize telemetry: %v\n", err)
		} else {
			deps.Telemetry = tel
			deps.TelemetryShutdown = telemetryShutdown
		}
	}

	// Initialize database
	db, err := sqlx.Connect("postgres", config.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	deps.DB = db

	// Initialize AWS infrastructure
	eventPublisher, err := sharedinfra.NewSNSPublisherAdapter(config.AWS.SNSTopicArn)
	if err != nil {
		return nil, fmt.Errorf("failed to create SNS publisher: %w", err)
	}
	deps.EventPublisher = eventPublisher

	eventSubscriber, err := sharedinfra.NewSQSSubscriberAdapter(config.AWS.SQSQueueURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQS subscriber: %w", err)
	}
	deps.EventSubscriber = eventSubscriber

	// Initialize saga persistence
	deps.SagaStore = sharedinfra.NewPostgresSagaStore(db)

	// Initialize collaborator services. In-process implementations until
	// the inventory, payment and shipping integrations land; they keep the
	// same idempotency contract the real services will.
	deps.InventoryService = orderinfra.NewMemoryInventoryService()
	deps.PaymentGateway = orderinfra.NewMemoryPaymentGateway()
	deps.ShippingService = orderinfra.NewMemoryShippingService()

	// Initialize use cases
	deps.StartOrderSaga = application.NewStartOrderSaga(
		deps.SagaStore,
		deps.InventoryService,
		deps.PaymentGateway,
		deps.ShippingService,
		eventPublisher,
	)
	deps.GetSaga = application.NewGetSaga(deps.SagaStore)
	deps.ListSagas = application.NewListSagas(deps.SagaStore)

	// Initialize handlers
	deps.SagaHandlers = handlers.NewSagaHandlers(deps.StartOrderSaga, deps.GetSaga, deps.ListSagas)
	deps.OrderEventHandlers = handlers.NewOrderEventHandlers(deps.StartOrderSaga)

	// Initialize recovery sweeper
	deps.Sweeper = saga.NewSweeper(deps.SagaStore,
		saga.WithInterval(config.Recovery.SweepInterval),
		saga.WithMaxAttempts(config.Recovery.MaxAttempts),
		saga.WithConcurrency(config.Recovery.Concurrency),
		saga.WithSweeperPublisher(eventPublisher),
	)
	deps.Sweeper.Register(domain.OrderSagaType, func() []saga.Step {
		return domain.OrderSagaSteps(deps.InventoryService, deps.PaymentGateway, deps.ShippingService)
	})

	return deps, nil
}

// Close closes all dependencies
func (d *Dependencies) Close() error {
	var errs []error

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}

	if d.EventPublisher != nil {
		if err := d.EventPublisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close event publisher: %w", err))
		}
	}

	if d.EventSubscriber != nil {
		if err := d.EventSubscriber.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close event subscriber: %w", err))
		}
	}

	if d.TelemetryShutdown != nil {
		d.TelemetryShutdown()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing dependencies: %v", errs)
	}

	return nil
}
