package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/certified-builder/api/internal/domain"
)

var eventNow = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

type eventFixture struct {
	orders       *memoryOrders
	certificates *memoryCertificates
	storage      *stubStorage
	source       *stubSource
	logger       *recordingLogger
	processor    CertificateEventProcessor
}

func newEventFixture(t *testing.T) *eventFixture {
	t.Helper()
	fx := &eventFixture{
		orders:       newMemoryOrders(),
		certificates: newMemoryCertificates(),
		storage:      &stubStorage{},
		source:       &stubSource{},
		logger:       &recordingLogger{},
	}
	fx.orders.put(domain.Order{
		OrderID:     1001,
		OrderDate:   time.Date(2024, 5, 30, 18, 0, 0, 0, time.UTC),
		Product:     domain.ProductSnapshot{ProductID: 100, Name: "Go Conference"},
		Participant: domain.ParticipantSnapshot{Email: "a@x.com", FirstName: "Ana"},
	})

	processor, err := NewCertificateEventProcessor(CertificateEventProcessorDeps{
		Orders:       fx.orders,
		Certificates: fx.certificates,
		Storage:      fx.storage,
		Source:       fx.source,
		Clock:        fixedClock(eventNow),
		IDGenerator:  func() string { return "01HZCERT" },
		Logger:       fx.logger.log,
	})
	if err != nil {
		t.Fatalf("NewCertificateEventProcessor: %v", err)
	}
	fx.processor = processor
	return fx
}

func successEvent(orderID int, key string) domain.CompletionEvent {
	return domain.CompletionEvent{OrderID: orderID, ProductID: 100, Email: "a@x.com", CertificateKey: key, Success: true}
}

func failureEvent(orderID int) domain.CompletionEvent {
	return domain.CompletionEvent{OrderID: orderID, ProductID: 100, Email: "a@x.com", Success: false}
}

func TestHandleEventsCreatesSuccessfulCertificate(t *testing.T) {
	fx := newEventFixture(t)

	outcome := fx.processor.HandleEvents(context.Background(), []domain.CompletionEvent{successEvent(1001, "certificates/100/1001.pdf")})
	if outcome != (domain.EventOutcome{Processed: 1}) {
		t.Fatalf("unexpected outcome %+v", outcome)
	}

	cert, ok := fx.certificates.get(1001)
	if !ok {
		t.Fatalf("expected certificate to be stored")
	}
	if cert.ID != "01HZCERT" || !cert.Succeeded() || cert.CertificateKey != "certificates/100/1001.pdf" {
		t.Fatalf("unexpected certificate %+v", cert)
	}
	if cert.CertificateURL == "" || cert.GeneratedAt == nil || !cert.GeneratedAt.Equal(eventNow) {
		t.Fatalf("expected signed link generated at %s, got %+v", eventNow, cert)
	}
	if cert.Product.Name != "Go Conference" || cert.Participant.Email != "a@x.com" {
		t.Fatalf("expected snapshots copied from the order, got %+v", cert)
	}
	if cert.Version != 1 {
		t.Fatalf("expected version 1, got %d", cert.Version)
	}
	if len(fx.source.notified) != 1 || fx.source.notified[0].OrderID != 1001 {
		t.Fatalf("expected one notification, got %+v", fx.source.notified)
	}
}

func TestHandleEventsCreatesFailedCertificateWithoutArtifact(t *testing.T) {
	fx := newEventFixture(t)

	fx.processor.HandleEvents(context.Background(), []domain.CompletionEvent{failureEvent(1001)})

	cert, _ := fx.certificates.get(1001)
	if cert.Success == nil || *cert.Success {
		t.Fatalf("expected failed certificate, got %+v", cert.Success)
	}
	if cert.CertificateKey != "" || cert.CertificateURL != "" || cert.GeneratedAt != nil {
		t.Fatalf("failed certificate must not carry an artifact: %+v", cert)
	}
	if fx.storage.signed != 0 {
		t.Fatalf("expected no signing for failures")
	}
}

func TestHandleEventsSuccessIsSticky(t *testing.T) {
	fx := newEventFixture(t)
	ctx := context.Background()

	fx.processor.HandleEvents(ctx, []domain.CompletionEvent{successEvent(1001, "k1")})
	before, _ := fx.certificates.get(1001)

	outcome := fx.processor.HandleEvents(ctx, []domain.CompletionEvent{failureEvent(1001)})
	if outcome.Processed != 1 {
		t.Fatalf("expected failure event to be processed, got %+v", outcome)
	}
	after, _ := fx.certificates.get(1001)
	if !after.Succeeded() || after.CertificateKey != "k1" || after.Version != before.Version {
		t.Fatalf("failure must not downgrade a success: before %+v after %+v", before, after)
	}
	if fx.certificates.saveCount() != 1 {
		t.Fatalf("expected a single save, got %d", fx.certificates.saveCount())
	}
}

func TestHandleEventsDuplicateSuccessIsNoop(t *testing.T) {
	fx := newEventFixture(t)
	ctx := context.Background()

	fx.processor.HandleEvents(ctx, []domain.CompletionEvent{successEvent(1001, "k1")})
	fx.processor.HandleEvents(ctx, []domain.CompletionEvent{successEvent(1001, "k1")})

	if fx.certificates.saveCount() != 1 {
		t.Fatalf("expected redelivery to skip persistence, got %d saves", fx.certificates.saveCount())
	}
	if len(fx.storage.deleted) != 0 {
		t.Fatalf("expected no artifact deletion, got %v", fx.storage.deleted)
	}
	if len(fx.source.notified) != 2 {
		t.Fatalf("expected a notification per delivery, got %d", len(fx.source.notified))
	}
}

func TestHandleEventsReplacesArtifact(t *testing.T) {
	fx := newEventFixture(t)
	ctx := context.Background()

	fx.processor.HandleEvents(ctx, []domain.CompletionEvent{successEvent(1001, "k1")})
	fx.processor.HandleEvents(ctx, []domain.CompletionEvent{successEvent(1001, "k2")})

	cert, _ := fx.certificates.get(1001)
	if cert.CertificateKey != "k2" || cert.Version != 2 || cert.ID != "01HZCERT" {
		t.Fatalf("unexpected certificate %+v", cert)
	}
	if len(fx.storage.deleted) != 1 || fx.storage.deleted[0] != "k1" {
		t.Fatalf("expected previous artifact deleted, got %v", fx.storage.deleted)
	}
}

func TestHandleEventsUpgradesFailureToSuccess(t *testing.T) {
	fx := newEventFixture(t)
	ctx := context.Background()

	fx.processor.HandleEvents(ctx, []domain.CompletionEvent{failureEvent(1001)})
	fx.processor.HandleEvents(ctx, []domain.CompletionEvent{successEvent(1001, "k1")})

	cert, _ := fx.certificates.get(1001)
	if !cert.Succeeded() || cert.CertificateKey != "k1" || cert.CertificateURL == "" {
		t.Fatalf("expected upgraded certificate, got %+v", cert)
	}
	if len(fx.storage.deleted) != 0 {
		t.Fatalf("expected nothing to delete, got %v", fx.storage.deleted)
	}
}

func TestHandleEventsRetriesVersionConflicts(t *testing.T) {
	fx := newEventFixture(t)
	fx.certificates.conflicts = 2

	outcome := fx.processor.HandleEvents(context.Background(), []domain.CompletionEvent{successEvent(1001, "k1")})
	if outcome.Processed != 1 {
		t.Fatalf("expected event processed after retries, got %+v", outcome)
	}
	if fx.certificates.saveCount() != 3 {
		t.Fatalf("expected 3 save attempts, got %d", fx.certificates.saveCount())
	}
}

func TestHandleEventsGivesUpAfterRepeatedConflicts(t *testing.T) {
	fx := newEventFixture(t)
	fx.certificates.conflicts = 5

	outcome := fx.processor.HandleEvents(context.Background(), []domain.CompletionEvent{successEvent(1001, "k1")})
	if outcome.Failed != 1 || !outcome.Redeliver() {
		t.Fatalf("expected a failure worth redelivering, got %+v", outcome)
	}
	if len(fx.source.notified) != 0 {
		t.Fatalf("expected no notification for a failed event")
	}
}

func TestHandleEventsConcurrentWriterKeepsSuccess(t *testing.T) {
	fx := newEventFixture(t)
	ctx := context.Background()
	fx.processor.HandleEvents(ctx, []domain.CompletionEvent{failureEvent(1001)})

	// a concurrent consumer stores a success between our read and our write
	fx.certificates.beforeSave = func() {
		current, _ := fx.certificates.get(1001)
		current.Success = boolPtr(true)
		current.CertificateKey = "k-other"
		current.Version++
		fx.certificates.put(current)
	}

	outcome := fx.processor.HandleEvents(ctx, []domain.CompletionEvent{successEvent(1001, "k-other")})
	if outcome.Processed != 1 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	cert, _ := fx.certificates.get(1001)
	if !cert.Succeeded() || cert.CertificateKey != "k-other" {
		t.Fatalf("unexpected certificate %+v", cert)
	}
	if len(fx.storage.deleted) != 0 {
		t.Fatalf("expected no deletion of the winning artifact, got %v", fx.storage.deleted)
	}
}

func TestHandleEventsSkipsUnknownOrders(t *testing.T) {
	fx := newEventFixture(t)

	outcome := fx.processor.HandleEvents(context.Background(), []domain.CompletionEvent{
		successEvent(9999, "k9"),
		successEvent(1001, "k1"),
	})
	if outcome != (domain.EventOutcome{Processed: 1, Skipped: 1}) {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if _, ok := fx.certificates.get(9999); ok {
		t.Fatalf("expected no certificate for unknown order")
	}
	if !fx.logger.has("certificate.event.skipped") {
		t.Fatalf("expected skipped event to be logged")
	}
}

func TestHandleEventsNotificationFailureIsBestEffort(t *testing.T) {
	fx := newEventFixture(t)
	fx.source.notifyErr = errors.New("order source down")

	outcome := fx.processor.HandleEvents(context.Background(), []domain.CompletionEvent{successEvent(1001, "k1")})
	if outcome.Processed != 1 {
		t.Fatalf("expected processed despite notification failure, got %+v", outcome)
	}
	if !fx.logger.has("certificate.notify.failed") {
		t.Fatalf("expected notification failure to be logged")
	}
}

func TestHandleEventsLinkFailureLeavesLinkUnset(t *testing.T) {
	fx := newEventFixture(t)
	fx.storage.linkErr = errors.New("sign failed")

	fx.processor.HandleEvents(context.Background(), []domain.CompletionEvent{successEvent(1001, "k1")})

	cert, _ := fx.certificates.get(1001)
	if !cert.Succeeded() || cert.CertificateURL != "" || cert.GeneratedAt != nil {
		t.Fatalf("expected success without link, got %+v", cert)
	}
}

func TestHandleMessage(t *testing.T) {
	fx := newEventFixture(t)

	outcome, err := fx.processor.HandleMessage(context.Background(), []byte(`[{"order_id":1001,"product_id":100,"product_name":"Go Conference","email":"a@x.com","certificate_key":"k1","success":true}]`))
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if outcome.Processed != 1 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}

	if _, err := fx.processor.HandleMessage(context.Background(), []byte(`{"order_id":`)); !errors.Is(err, ErrEventPayloadInvalid) {
		t.Fatalf("expected ErrEventPayloadInvalid, got %v", err)
	}
}

func TestHandleEventsRejectsSuccessWithoutKey(t *testing.T) {
	fx := newEventFixture(t)

	outcome := fx.processor.HandleEvents(context.Background(), []domain.CompletionEvent{successEvent(1001, " ")})
	if outcome.Failed != 1 || outcome.Redeliver() {
		t.Fatalf("expected a rejected event that is not redelivered, got %+v", outcome)
	}
}

func TestHandleEventsSeparatesOutagesFromRejections(t *testing.T) {
	fx := newEventFixture(t)
	fx.orders.findErr = errors.New("firestore unavailable")

	outcome := fx.processor.HandleEvents(context.Background(), []domain.CompletionEvent{
		successEvent(0, "k0"),
		successEvent(1001, "k1"),
	})
	if outcome != (domain.EventOutcome{Failed: 2, Retryable: 1}) {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if !outcome.Redeliver() {
		t.Fatalf("expected the message to be redelivered")
	}
}
