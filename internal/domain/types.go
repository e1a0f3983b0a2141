package domain

import (
	"strings"
	"time"
)

// OrderDateLayout is the timestamp layout used by the order source for order dates.
const OrderDateLayout = "2006-01-02 15:04:05"

// CertificateLinkTTL is the validity window of signed certificate links. Links older
// than this are regenerated on read.
const CertificateLinkTTL = 7 * 24 * time.Hour

// RawOrder is a single attendance/order record as delivered by the order source. The
// same shape is published to the certificate generation pipeline.
type RawOrder struct {
	OrderID               int    `json:"order_id"`
	FirstName             string `json:"first_name"`
	LastName              string `json:"last_name"`
	Email                 string `json:"email"`
	Phone                 string `json:"phone"`
	CPF                   string `json:"cpf"`
	City                  string `json:"city"`
	ProductID             int    `json:"product_id"`
	ProductName           string `json:"product_name"`
	CertificateDetails    string `json:"certificate_details"`
	CertificateLogo       string `json:"certificate_logo"`
	CertificateBackground string `json:"certificate_background"`
	OrderDate             string `json:"order_date"`
	CheckinLatitude       string `json:"checkin_latitude"`
	CheckinLongitude      string `json:"checkin_longitude"`
	TimeCheckin           string `json:"time_checkin"`
}

// EligibleForCertificate reports whether the participant checked in to the event.
func (o RawOrder) EligibleForCertificate() bool {
	return strings.TrimSpace(o.TimeCheckin) != ""
}

// ParsedOrderDate parses the order date. An empty value yields the zero time.
func (o RawOrder) ParsedOrderDate() (time.Time, error) {
	value := strings.TrimSpace(o.OrderDate)
	if value == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(OrderDateLayout, value); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

// Product is the event a certificate is issued for.
type Product struct {
	ProductID             int
	Name                  string
	CertificateDetails    string
	CertificateLogo       string
	CertificateBackground string
	CheckinLatitude       string
	CheckinLongitude      string
	TimeCheckin           string
	CreatedAt             time.Time
}

// Participant is an attendee identified by email.
type Participant struct {
	Email     string
	FirstName string
	LastName  string
	Phone     string
	CPF       string
	City      string
	CreatedAt time.Time
}

// ProductSnapshot is the write-once copy of product fields embedded in orders and certificates.
type ProductSnapshot struct {
	ProductID             int
	Name                  string
	CertificateDetails    string
	CertificateLogo       string
	CertificateBackground string
	CheckinLatitude       string
	CheckinLongitude      string
	TimeCheckin           string
}

// ParticipantSnapshot is the write-once copy of participant fields.
type ParticipantSnapshot struct {
	Email     string
	FirstName string
	LastName  string
	Phone     string
	CPF       string
	City      string
}

// Snapshot copies the product fields.
func (p Product) Snapshot() ProductSnapshot {
	return ProductSnapshot{
		ProductID:             p.ProductID,
		Name:                  p.Name,
		CertificateDetails:    p.CertificateDetails,
		CertificateLogo:       p.CertificateLogo,
		CertificateBackground: p.CertificateBackground,
		CheckinLatitude:       p.CheckinLatitude,
		CheckinLongitude:      p.CheckinLongitude,
		TimeCheckin:           p.TimeCheckin,
	}
}

// Snapshot copies the participant fields.
func (p Participant) Snapshot() ParticipantSnapshot {
	return ParticipantSnapshot{
		Email:     p.Email,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Phone:     p.Phone,
		CPF:       p.CPF,
		City:      p.City,
	}
}

// Order is a persisted, immutable attendance record.
type Order struct {
	OrderID     int
	OrderDate   time.Time
	Product     ProductSnapshot
	Participant ParticipantSnapshot
	CreatedAt   time.Time
}

// CertificateState classifies certificates for statistics.
type CertificateState string

const (
	// CertificateStatePending means no outcome was recorded yet.
	CertificateStatePending CertificateState = "pending"
	// CertificateStateSucceeded means an artifact was generated.
	CertificateStateSucceeded CertificateState = "succeeded"
	// CertificateStateFailed means generation reported a failure.
	CertificateStateFailed CertificateState = "failed"
)

// Certificate is the generation record of a single order. Success is tri-state: nil
// until an outcome is known.
type Certificate struct {
	ID             string
	OrderID        int
	Success        *bool
	CertificateKey string
	CertificateURL string
	GeneratedAt    *time.Time
	OrderDate      time.Time
	Product        ProductSnapshot
	Participant    ParticipantSnapshot
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// State returns the statistics bucket of the certificate.
func (c Certificate) State() CertificateState {
	switch {
	case c.Success == nil:
		return CertificateStatePending
	case *c.Success:
		return CertificateStateSucceeded
	default:
		return CertificateStateFailed
	}
}

// Succeeded reports whether the certificate holds a generated artifact.
func (c Certificate) Succeeded() bool {
	return c.Success != nil && *c.Success
}

// LinkExpired reports whether the signed link must be regenerated at now.
func (c Certificate) LinkExpired(now time.Time) bool {
	if c.GeneratedAt == nil || c.GeneratedAt.IsZero() {
		return true
	}
	return now.Sub(*c.GeneratedAt) >= CertificateLinkTTL
}

// View renders the notification/listing shape of the certificate.
func (c Certificate) View() CertificateView {
	view := CertificateView{
		Success:        c.Success,
		CertificateID:  c.ID,
		CertificateURL: c.CertificateURL,
		ProductID:      c.Product.ProductID,
		ProductName:    c.Product.Name,
		OrderID:        c.OrderID,
	}
	if c.GeneratedAt != nil && !c.GeneratedAt.IsZero() {
		ts := c.GeneratedAt.UTC()
		view.GeneratedDate = &ts
	}
	if !c.OrderDate.IsZero() {
		ts := c.OrderDate.UTC()
		view.OrderDate = &ts
	}
	return view
}

// CompletionEvent is emitted by the generation worker for each processed order.
type CompletionEvent struct {
	OrderID        int    `json:"order_id"`
	ProductID      int    `json:"product_id"`
	ProductName    string `json:"product_name"`
	Email          string `json:"email"`
	CertificateKey string `json:"certificate_key"`
	Success        bool   `json:"success"`
}

// CertificateView is the representation pushed to the order source and returned by listings.
type CertificateView struct {
	Success        *bool      `json:"success"`
	CertificateID  string     `json:"certificateId"`
	CertificateURL string     `json:"certificateUrl,omitempty"`
	GeneratedDate  *time.Time `json:"generatedDate,omitempty"`
	ProductID      int        `json:"productId"`
	ProductName    string     `json:"productName"`
	OrderID        int        `json:"orderId"`
	OrderDate      *time.Time `json:"orderDate,omitempty"`
}

// CertificateStats aggregates certificate outcomes for a product.
type CertificateStats struct {
	ProductID   int    `json:"productId"`
	ProductName string `json:"productName"`
	Total       int    `json:"total"`
	Succeeded   int    `json:"succeeded"`
	Failed      int    `json:"failed"`
	Pending     int    `json:"pending"`
}

// BatchResult is the classification of an intake batch.
type BatchResult struct {
	ExistingOrderIDs []int
	NewOrders        []Order
	// NewRawOrders holds the created orders exactly as they were received.
	NewRawOrders []RawOrder
}

// NewOrderIDs lists the ids of newly created orders.
func (r BatchResult) NewOrderIDs() []int {
	ids := make([]int, 0, len(r.NewOrders))
	for _, order := range r.NewOrders {
		ids = append(ids, order.OrderID)
	}
	return ids
}

// BuildOrdersResult summarises an intake run.
type BuildOrdersResult struct {
	ProductID           int    `json:"productId,omitempty"`
	CertificateQuantity int    `json:"certificateQuantity"`
	ExistingOrders      []int  `json:"existingOrders"`
	NewOrders           []int  `json:"newOrders"`
	MessageID           string `json:"messageId,omitempty"`
}

// ProductDeletion is the receipt of a product deletion.
type ProductDeletion struct {
	ProductID int       `json:"productId"`
	DeletedAt time.Time `json:"deletedAt"`
}

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

const (
	// HealthStatusOK indicates every dependency answered.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates a dependency answered with an error.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates a dependency timed out or was cancelled.
	HealthStatusError = "error"
)

// EventOutcome counts how the events of one completion message were handled.
type EventOutcome struct {
	Processed int
	Skipped   int
	Failed    int
	// Retryable counts the failed events that hit a store, storage or context failure
	// rather than invalid input. Any of them makes the message worth redelivering.
	Retryable int
}

// Redeliver reports whether the message must be handed back to the queue.
func (o EventOutcome) Redeliver() bool {
	return o.Retryable > 0
}
