package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	domain "github.com/certified-builder/api/internal/domain"
	"github.com/certified-builder/api/internal/repositories"
)

func notFound(op string) error {
	return repositories.NewStoreError(op, repositories.ErrorKindNotFound, nil)
}

func conflict(op string) error {
	return repositories.NewStoreError(op, repositories.ErrorKindConflict, nil)
}

func unavailable(op string) error {
	return repositories.NewStoreError(op, repositories.ErrorKindUnavailable, errors.New("store down"))
}

type memoryProducts struct {
	mu        sync.Mutex
	items     map[int]domain.Product
	creates   map[int]int
	createErr error
	deleted   []int
}

func newMemoryProducts() *memoryProducts {
	return &memoryProducts{items: map[int]domain.Product{}, creates: map[int]int{}}
}

func (m *memoryProducts) Create(_ context.Context, product domain.Product) (domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates[product.ProductID]++
	if m.createErr != nil {
		return domain.Product{}, m.createErr
	}
	if _, ok := m.items[product.ProductID]; ok {
		return domain.Product{}, conflict("products.create")
	}
	m.items[product.ProductID] = product
	return product, nil
}

func (m *memoryProducts) FindByID(_ context.Context, productID int) (domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	product, ok := m.items[productID]
	if !ok {
		return domain.Product{}, notFound("products.find")
	}
	return product, nil
}

func (m *memoryProducts) Delete(_ context.Context, productID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[productID]; !ok {
		return notFound("products.delete")
	}
	delete(m.items, productID)
	m.deleted = append(m.deleted, productID)
	return nil
}

func (m *memoryProducts) createCount(productID int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates[productID]
}

type memoryParticipants struct {
	mu      sync.Mutex
	items   map[string]domain.Participant
	creates map[string]int
}

func newMemoryParticipants() *memoryParticipants {
	return &memoryParticipants{items: map[string]domain.Participant{}, creates: map[string]int{}}
}

func (m *memoryParticipants) Create(_ context.Context, participant domain.Participant) (domain.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates[participant.Email]++
	if _, ok := m.items[participant.Email]; ok {
		return domain.Participant{}, conflict("participants.create")
	}
	m.items[participant.Email] = participant
	return participant, nil
}

func (m *memoryParticipants) FindByEmail(_ context.Context, email string) (domain.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	participant, ok := m.items[email]
	if !ok {
		return domain.Participant{}, notFound("participants.find")
	}
	return participant, nil
}

func (m *memoryParticipants) createCount(email string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates[email]
}

type memoryOrders struct {
	mu        sync.Mutex
	items     map[int]domain.Order
	creates   int
	findErr   error
	deleteErr error
}

func newMemoryOrders() *memoryOrders {
	return &memoryOrders{items: map[int]domain.Order{}}
}

func (m *memoryOrders) Create(_ context.Context, order domain.Order) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if _, ok := m.items[order.OrderID]; ok {
		return domain.Order{}, conflict("orders.create")
	}
	m.items[order.OrderID] = order
	return order, nil
}

func (m *memoryOrders) FindByID(_ context.Context, orderID int) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return domain.Order{}, m.findErr
	}
	order, ok := m.items[orderID]
	if !ok {
		return domain.Order{}, notFound("orders.find")
	}
	return order, nil
}

func (m *memoryOrders) CountByProduct(_ context.Context, productID int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, order := range m.items {
		if order.Product.ProductID == productID {
			count++
		}
	}
	return count, nil
}

func (m *memoryOrders) DeleteByProduct(_ context.Context, productID int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	count := 0
	for id, order := range m.items {
		if order.Product.ProductID == productID {
			delete(m.items, id)
			count++
		}
	}
	return count, nil
}

func (m *memoryOrders) put(order domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[order.OrderID] = order
}

func (m *memoryOrders) createCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates
}

type memoryCertificates struct {
	mu    sync.Mutex
	items map[int]domain.Certificate
	saves int
	// conflicts makes the next n saves fail with a version conflict.
	conflicts int
	// beforeSave runs inside Save before the version check, outside the lock.
	beforeSave func()
	saveErr    error
}

func newMemoryCertificates() *memoryCertificates {
	return &memoryCertificates{items: map[int]domain.Certificate{}}
}

func (m *memoryCertificates) FindByOrderID(_ context.Context, orderID int) (domain.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cert, ok := m.items[orderID]
	if !ok {
		return domain.Certificate{}, notFound("certificates.find")
	}
	return cert, nil
}

func (m *memoryCertificates) ListByProduct(_ context.Context, productID int) ([]domain.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var certs []domain.Certificate
	for _, cert := range m.items {
		if cert.Product.ProductID == productID {
			certs = append(certs, cert)
		}
	}
	sort.Slice(certs, func(i, j int) bool { return certs[i].OrderID < certs[j].OrderID })
	return certs, nil
}

func (m *memoryCertificates) Save(_ context.Context, cert domain.Certificate) (domain.Certificate, error) {
	if hook := m.takeHook(); hook != nil {
		hook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return domain.Certificate{}, m.saveErr
	}
	if m.conflicts > 0 {
		m.conflicts--
		return domain.Certificate{}, conflict("certificates.save")
	}
	current, exists := m.items[cert.OrderID]
	switch {
	case cert.Version == 0 && exists:
		return domain.Certificate{}, conflict("certificates.save")
	case cert.Version != 0 && (!exists || current.Version != cert.Version):
		return domain.Certificate{}, conflict("certificates.save")
	}
	cert.Version++
	m.items[cert.OrderID] = cert
	return cert, nil
}

func (m *memoryCertificates) DeleteByProduct(_ context.Context, productID int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for id, cert := range m.items {
		if cert.Product.ProductID == productID {
			delete(m.items, id)
			count++
		}
	}
	return count, nil
}

func (m *memoryCertificates) takeHook() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	hook := m.beforeSave
	m.beforeSave = nil
	return hook
}

func (m *memoryCertificates) put(cert domain.Certificate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cert.Version == 0 {
		cert.Version = 1
	}
	m.items[cert.OrderID] = cert
}

func (m *memoryCertificates) get(orderID int) (domain.Certificate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cert, ok := m.items[orderID]
	return cert, ok
}

func (m *memoryCertificates) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

type stubStorage struct {
	mu            sync.Mutex
	linkErr       error
	deleted       []string
	prefixDeleted []int
	prefixErr     error
	signed        int
}

func (s *stubStorage) SignedLink(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.linkErr != nil {
		return "", s.linkErr
	}
	s.signed++
	return "https://storage.example.com/" + key + "?sig=1", nil
}

func (s *stubStorage) DeleteArtifact(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *stubStorage) DeleteProductArtifacts(_ context.Context, productID int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefixDeleted = append(s.prefixDeleted, productID)
	if s.prefixErr != nil {
		return 0, s.prefixErr
	}
	return 2, nil
}

type stubSource struct {
	mu        sync.Mutex
	orders    []domain.RawOrder
	getErr    error
	notifyErr error
	notified  []domain.CertificateView
	batches   [][]domain.CertificateView
}

func (s *stubSource) GetOrders(context.Context, int) ([]domain.RawOrder, error) {
	return s.orders, s.getErr
}

func (s *stubSource) NotifyCertificate(_ context.Context, view domain.CertificateView) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notified = append(s.notified, view)
	return s.notifyErr
}

func (s *stubSource) NotifyCertificates(_ context.Context, views []domain.CertificateView) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, views)
	return s.notifyErr
}

type stubPublisher struct {
	mu       sync.Mutex
	messages [][]domain.RawOrder
	err      error
}

func (p *stubPublisher) PublishNewOrders(_ context.Context, orders []domain.RawOrder) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(orders) == 0 {
		return "", nil
	}
	if p.err != nil {
		return "", p.err
	}
	p.messages = append(p.messages, orders)
	return "msg-1", nil
}

type recordingLogger struct {
	mu     sync.Mutex
	events []string
}

func (l *recordingLogger) log(_ context.Context, event string, _ map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *recordingLogger) has(event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e == event {
			return true
		}
	}
	return false
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

var (
	_ repositories.ProductRepository     = (*memoryProducts)(nil)
	_ repositories.ParticipantRepository = (*memoryParticipants)(nil)
	_ repositories.OrderRepository       = (*memoryOrders)(nil)
	_ repositories.CertificateRepository = (*memoryCertificates)(nil)
	_ CertificateStorage                 = (*stubStorage)(nil)
	_ OrderSource                        = (*stubSource)(nil)
	_ OrderPublisher                     = (*stubPublisher)(nil)
)
