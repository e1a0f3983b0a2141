package services

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/certified-builder/api/internal/domain"
)

var listNow = time.Date(2024, 7, 15, 8, 0, 0, 0, time.UTC)

type certificateFixture struct {
	products     *memoryProducts
	orders       *memoryOrders
	certificates *memoryCertificates
	storage      *stubStorage
	source       *stubSource
	logger       *recordingLogger
	svc          CertificateService
}

func newCertificateFixture(t *testing.T) *certificateFixture {
	t.Helper()
	fx := &certificateFixture{
		products:     newMemoryProducts(),
		orders:       newMemoryOrders(),
		certificates: newMemoryCertificates(),
		storage:      &stubStorage{},
		source:       &stubSource{},
		logger:       &recordingLogger{},
	}
	svc, err := NewCertificateService(CertificateServiceDeps{
		Products:     fx.products,
		Orders:       fx.orders,
		Certificates: fx.certificates,
		Storage:      fx.storage,
		Source:       fx.source,
		Clock:        fixedClock(listNow),
		Logger:       fx.logger.log,
	})
	require.NoError(t, err)
	fx.svc = svc
	return fx
}

func storedCertificate(orderID int, success *bool, generatedAt *time.Time) domain.Certificate {
	cert := domain.Certificate{
		ID:          "cert-" + strconv.Itoa(orderID),
		OrderID:     orderID,
		Success:     success,
		GeneratedAt: generatedAt,
		Product:     domain.ProductSnapshot{ProductID: 100, Name: "Go Conference"},
	}
	if success != nil && *success {
		cert.CertificateKey = "certificates/100/old.pdf"
		cert.CertificateURL = "https://storage.example.com/old"
	}
	return cert
}

func timePtr(ts time.Time) *time.Time {
	return &ts
}

func TestListCertificatesRefreshBoundary(t *testing.T) {
	fx := newCertificateFixture(t)
	fx.certificates.put(storedCertificate(1, boolPtr(true), timePtr(listNow.Add(-7*24*time.Hour-time.Second))))
	fx.certificates.put(storedCertificate(2, boolPtr(true), timePtr(listNow.Add(-6*24*time.Hour))))
	fx.certificates.put(storedCertificate(3, boolPtr(true), nil))
	fx.certificates.put(storedCertificate(4, boolPtr(false), nil))
	fx.certificates.put(storedCertificate(5, nil, nil))

	views, err := fx.svc.ListCertificates(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, views, 5)

	expired, _ := fx.certificates.get(1)
	require.Equal(t, listNow, *expired.GeneratedAt)
	require.Equal(t, "https://storage.example.com/certificates/100/old.pdf?sig=1", expired.CertificateURL)
	require.Equal(t, int64(2), expired.Version)
	require.Equal(t, expired.CertificateURL, views[0].CertificateURL)

	fresh, _ := fx.certificates.get(2)
	require.Equal(t, int64(1), fresh.Version)
	require.Equal(t, "https://storage.example.com/old", views[1].CertificateURL)

	missing, _ := fx.certificates.get(3)
	require.NotNil(t, missing.GeneratedAt)

	failed, _ := fx.certificates.get(4)
	require.Equal(t, int64(1), failed.Version)
	require.Nil(t, views[4].Success)

	require.Equal(t, 2, fx.storage.signed)
}

func TestListCertificatesKeepsOldLinkWhenSigningFails(t *testing.T) {
	fx := newCertificateFixture(t)
	fx.storage.linkErr = errors.New("signer unavailable")
	fx.certificates.put(storedCertificate(1, boolPtr(true), timePtr(listNow.Add(-8*24*time.Hour))))

	views, err := fx.svc.ListCertificates(context.Background(), 100)
	require.NoError(t, err)
	require.Equal(t, "https://storage.example.com/old", views[0].CertificateURL)
	require.True(t, fx.logger.has("certificate.link_refresh.failed"))
}

func TestListCertificatesKeepsOldLinkWhenSaveFails(t *testing.T) {
	fx := newCertificateFixture(t)
	fx.certificates.put(storedCertificate(1, boolPtr(true), timePtr(listNow.Add(-8*24*time.Hour))))
	fx.certificates.saveErr = unavailable("certificates.save")

	views, err := fx.svc.ListCertificates(context.Background(), 100)
	require.NoError(t, err)
	require.Equal(t, "https://storage.example.com/old", views[0].CertificateURL)
}

func TestStatsPartitionsCertificates(t *testing.T) {
	fx := newCertificateFixture(t)
	fx.products.items[100] = domain.Product{ProductID: 100, Name: "Go Conference"}
	for _, id := range []int{1, 2, 3} {
		fx.orders.put(domain.Order{OrderID: id, Product: domain.ProductSnapshot{ProductID: 100}})
	}
	fx.certificates.put(storedCertificate(1, boolPtr(true), timePtr(listNow)))
	fx.certificates.put(storedCertificate(2, boolPtr(false), nil))
	fx.certificates.put(storedCertificate(3, nil, nil))

	stats, err := fx.svc.Stats(context.Background(), 100)
	require.NoError(t, err)
	require.Equal(t, domain.CertificateStats{
		ProductID:   100,
		ProductName: "Go Conference",
		Total:       3,
		Succeeded:   1,
		Failed:      1,
		Pending:     1,
	}, stats)
}

func TestStatsUnknownProduct(t *testing.T) {
	fx := newCertificateFixture(t)

	_, err := fx.svc.Stats(context.Background(), 404)
	require.ErrorIs(t, err, ErrCertificateProductNotFound)

	_, err = fx.svc.Stats(context.Background(), -1)
	require.ErrorIs(t, err, ErrCertificateInvalidInput)
}

func TestNotifyCertificatesPushesBatch(t *testing.T) {
	fx := newCertificateFixture(t)
	fx.certificates.put(storedCertificate(1, boolPtr(true), timePtr(listNow)))
	fx.certificates.put(storedCertificate(2, boolPtr(false), nil))

	views, err := fx.svc.NotifyCertificates(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, views, 2)
	require.Len(t, fx.source.batches, 1)
	require.Len(t, fx.source.batches[0], 2)

	fx.source.notifyErr = errors.New("order source down")
	_, err = fx.svc.NotifyCertificates(context.Background(), 100)
	require.ErrorIs(t, err, ErrOrderSourceUnavailable)
}
