package firestore

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	domain "github.com/certified-builder/api/internal/domain"
)

const (
	productsCollection     = "products"
	participantsCollection = "participants"
	ordersCollection       = "orders"
	certificatesCollection = "certificates"
)

type productSnapshotDocument struct {
	ProductID             int    `firestore:"productId"`
	Name                  string `firestore:"name"`
	CertificateDetails    string `firestore:"certificateDetails"`
	CertificateLogo       string `firestore:"certificateLogo"`
	CertificateBackground string `firestore:"certificateBackground"`
	CheckinLatitude       string `firestore:"checkinLatitude"`
	CheckinLongitude      string `firestore:"checkinLongitude"`
	TimeCheckin           string `firestore:"timeCheckin"`
}

type participantSnapshotDocument struct {
	Email     string `firestore:"email"`
	FirstName string `firestore:"firstName"`
	LastName  string `firestore:"lastName"`
	Phone     string `firestore:"phone"`
	CPF       string `firestore:"cpf"`
	City      string `firestore:"city"`
}

type productDocument struct {
	ProductID             int       `firestore:"productId"`
	Name                  string    `firestore:"name"`
	CertificateDetails    string    `firestore:"certificateDetails"`
	CertificateLogo       string    `firestore:"certificateLogo"`
	CertificateBackground string    `firestore:"certificateBackground"`
	CheckinLatitude       string    `firestore:"checkinLatitude"`
	CheckinLongitude      string    `firestore:"checkinLongitude"`
	TimeCheckin           string    `firestore:"timeCheckin"`
	CreatedAt             time.Time `firestore:"createdAt"`
}

type participantDocument struct {
	Email     string    `firestore:"email"`
	FirstName string    `firestore:"firstName"`
	LastName  string    `firestore:"lastName"`
	Phone     string    `firestore:"phone"`
	CPF       string    `firestore:"cpf"`
	City      string    `firestore:"city"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type orderDocument struct {
	OrderID     int                         `firestore:"orderId"`
	ProductID   int                         `firestore:"productId"`
	OrderDate   *time.Time                  `firestore:"orderDate,omitempty"`
	Product     productSnapshotDocument     `firestore:"product"`
	Participant participantSnapshotDocument `firestore:"participant"`
	CreatedAt   time.Time                   `firestore:"createdAt"`
}

type certificateDocument struct {
	ID             string                      `firestore:"id"`
	OrderID        int                         `firestore:"orderId"`
	ProductID      int                         `firestore:"productId"`
	Success        *bool                       `firestore:"success"`
	CertificateKey string                      `firestore:"certificateKey,omitempty"`
	CertificateURL string                      `firestore:"certificateUrl,omitempty"`
	GeneratedAt    *time.Time                  `firestore:"generatedAt,omitempty"`
	OrderDate      *time.Time                  `firestore:"orderDate,omitempty"`
	Product        productSnapshotDocument     `firestore:"product"`
	Participant    participantSnapshotDocument `firestore:"participant"`
	Version        int64                       `firestore:"version"`
	CreatedAt      time.Time                   `firestore:"createdAt"`
	UpdatedAt      time.Time                   `firestore:"updatedAt"`
}

func intDocID(id int) string {
	return strconv.Itoa(id)
}

// emailDocID hashes the normalised email so the document id never contains path separators.
func emailDocID(email string) string {
	sum := sha256.Sum256([]byte(email))
	return hex.EncodeToString(sum[:])
}

func encodeProductSnapshot(p domain.ProductSnapshot) productSnapshotDocument {
	return productSnapshotDocument(p)
}

func decodeProductSnapshot(doc productSnapshotDocument) domain.ProductSnapshot {
	return domain.ProductSnapshot(doc)
}

func encodeParticipantSnapshot(p domain.ParticipantSnapshot) participantSnapshotDocument {
	return participantSnapshotDocument(p)
}

func decodeParticipantSnapshot(doc participantSnapshotDocument) domain.ParticipantSnapshot {
	return domain.ParticipantSnapshot(doc)
}

func timePtr(ts time.Time) *time.Time {
	if ts.IsZero() {
		return nil
	}
	utc := ts.UTC()
	return &utc
}

func timeValue(ts *time.Time) time.Time {
	if ts == nil {
		return time.Time{}
	}
	return ts.UTC()
}

func encodeCertificate(cert domain.Certificate) certificateDocument {
	return certificateDocument{
		ID:             cert.ID,
		OrderID:        cert.OrderID,
		ProductID:      cert.Product.ProductID,
		Success:        cert.Success,
		CertificateKey: cert.CertificateKey,
		CertificateURL: cert.CertificateURL,
		GeneratedAt:    cert.GeneratedAt,
		OrderDate:      timePtr(cert.OrderDate),
		Product:        encodeProductSnapshot(cert.Product),
		Participant:    encodeParticipantSnapshot(cert.Participant),
		Version:        cert.Version,
		CreatedAt:      cert.CreatedAt.UTC(),
		UpdatedAt:      cert.UpdatedAt.UTC(),
	}
}

func decodeCertificate(doc certificateDocument) domain.Certificate {
	var generated *time.Time
	if doc.GeneratedAt != nil {
		ts := doc.GeneratedAt.UTC()
		generated = &ts
	}
	return domain.Certificate{
		ID:             doc.ID,
		OrderID:        doc.OrderID,
		Success:        doc.Success,
		CertificateKey: doc.CertificateKey,
		CertificateURL: doc.CertificateURL,
		GeneratedAt:    generated,
		OrderDate:      timeValue(doc.OrderDate),
		Product:        decodeProductSnapshot(doc.Product),
		Participant:    decodeParticipantSnapshot(doc.Participant),
		Version:        doc.Version,
		CreatedAt:      doc.CreatedAt.UTC(),
		UpdatedAt:      doc.UpdatedAt.UTC(),
	}
}
