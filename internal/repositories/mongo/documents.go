package mongo

import (
	"time"

	domain "github.com/certified-builder/api/internal/domain"
)

const (
	productsCollection     = "products"
	participantsCollection = "participants"
	ordersCollection       = "orders"
	certificatesCollection = "certificates"
)

// Indexes lists the secondary indexes the repositories rely on.
var Indexes = map[string][]string{
	ordersCollection:       {"productId"},
	certificatesCollection: {"productId"},
}

type productSnapshotDoc struct {
	ProductID             int    `bson:"productId"`
	Name                  string `bson:"name"`
	CertificateDetails    string `bson:"certificateDetails"`
	CertificateLogo       string `bson:"certificateLogo"`
	CertificateBackground string `bson:"certificateBackground"`
	CheckinLatitude       string `bson:"checkinLatitude"`
	CheckinLongitude      string `bson:"checkinLongitude"`
	TimeCheckin           string `bson:"timeCheckin"`
}

type participantSnapshotDoc struct {
	Email     string `bson:"email"`
	FirstName string `bson:"firstName"`
	LastName  string `bson:"lastName"`
	Phone     string `bson:"phone"`
	CPF       string `bson:"cpf"`
	City      string `bson:"city"`
}

type productDoc struct {
	ID        int                `bson:"_id"`
	Product   productSnapshotDoc `bson:"product"`
	CreatedAt time.Time          `bson:"createdAt"`
}

type participantDoc struct {
	ID          string                 `bson:"_id"`
	Participant participantSnapshotDoc `bson:"participant"`
	CreatedAt   time.Time              `bson:"createdAt"`
}

type orderDoc struct {
	ID          int                    `bson:"_id"`
	ProductID   int                    `bson:"productId"`
	OrderDate   *time.Time             `bson:"orderDate,omitempty"`
	Product     productSnapshotDoc     `bson:"product"`
	Participant participantSnapshotDoc `bson:"participant"`
	CreatedAt   time.Time              `bson:"createdAt"`
}

type certificateDoc struct {
	OrderID        int                    `bson:"_id"`
	CertificateID  string                 `bson:"certificateId"`
	ProductID      int                    `bson:"productId"`
	Success        *bool                  `bson:"success"`
	CertificateKey string                 `bson:"certificateKey,omitempty"`
	CertificateURL string                 `bson:"certificateUrl,omitempty"`
	GeneratedAt    *time.Time             `bson:"generatedAt,omitempty"`
	OrderDate      *time.Time             `bson:"orderDate,omitempty"`
	Product        productSnapshotDoc     `bson:"product"`
	Participant    participantSnapshotDoc `bson:"participant"`
	Version        int64                  `bson:"version"`
	CreatedAt      time.Time              `bson:"createdAt"`
	UpdatedAt      time.Time              `bson:"updatedAt"`
}

func optionalTime(ts time.Time) *time.Time {
	if ts.IsZero() {
		return nil
	}
	utc := ts.UTC()
	return &utc
}

func derefTime(ts *time.Time) time.Time {
	if ts == nil {
		return time.Time{}
	}
	return ts.UTC()
}

func certificateDocFromDomain(cert domain.Certificate) certificateDoc {
	return certificateDoc{
		OrderID:        cert.OrderID,
		CertificateID:  cert.ID,
		ProductID:      cert.Product.ProductID,
		Success:        cert.Success,
		CertificateKey: cert.CertificateKey,
		CertificateURL: cert.CertificateURL,
		GeneratedAt:    cert.GeneratedAt,
		OrderDate:      optionalTime(cert.OrderDate),
		Product:        productSnapshotDoc(cert.Product),
		Participant:    participantSnapshotDoc(cert.Participant),
		Version:        cert.Version,
		CreatedAt:      cert.CreatedAt.UTC(),
		UpdatedAt:      cert.UpdatedAt.UTC(),
	}
}

func (d certificateDoc) toDomain() domain.Certificate {
	var generated *time.Time
	if d.GeneratedAt != nil {
		ts := d.GeneratedAt.UTC()
		generated = &ts
	}
	return domain.Certificate{
		ID:             d.CertificateID,
		OrderID:        d.OrderID,
		Success:        d.Success,
		CertificateKey: d.CertificateKey,
		CertificateURL: d.CertificateURL,
		GeneratedAt:    generated,
		OrderDate:      derefTime(d.OrderDate),
		Product:        domain.ProductSnapshot(d.Product),
		Participant:    domain.ParticipantSnapshot(d.Participant),
		Version:        d.Version,
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
	}
}
