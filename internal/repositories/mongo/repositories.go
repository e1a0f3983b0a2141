package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domain "github.com/certified-builder/api/internal/domain"
	"github.com/certified-builder/api/internal/repositories"
)

// ProductRepository persists products with the product id as _id.
type ProductRepository struct {
	coll *mongo.Collection
}

// OrderRepository persists orders with the order id as _id.
type OrderRepository struct {
	coll *mongo.Collection
}

// ParticipantRepository persists participants with the normalised email as _id.
type ParticipantRepository struct {
	coll *mongo.Collection
}

// CertificateRepository persists certificates with the order id as _id.
type CertificateRepository struct {
	coll *mongo.Collection
}

var (
	_ repositories.ProductRepository     = (*ProductRepository)(nil)
	_ repositories.ParticipantRepository = (*ParticipantRepository)(nil)
	_ repositories.OrderRepository       = (*OrderRepository)(nil)
	_ repositories.CertificateRepository = (*CertificateRepository)(nil)
)

// NewProductRepository binds the products collection.
func NewProductRepository(db *mongo.Database) *ProductRepository {
	return &ProductRepository{coll: db.Collection(productsCollection)}
}

func (r *ProductRepository) Create(ctx context.Context, product domain.Product) (domain.Product, error) {
	product.CreatedAt = product.CreatedAt.UTC()
	doc := productDoc{
		ID:        product.ProductID,
		Product:   productSnapshotDoc(product.Snapshot()),
		CreatedAt: product.CreatedAt,
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return domain.Product{}, wrapError("products.create", err)
	}
	return product, nil
}

func (r *ProductRepository) FindByID(ctx context.Context, productID int) (domain.Product, error) {
	var doc productDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": productID}).Decode(&doc); err != nil {
		return domain.Product{}, wrapError("products.get", err)
	}
	snap := doc.Product
	return domain.Product{
		ProductID:             doc.ID,
		Name:                  snap.Name,
		CertificateDetails:    snap.CertificateDetails,
		CertificateLogo:       snap.CertificateLogo,
		CertificateBackground: snap.CertificateBackground,
		CheckinLatitude:       snap.CheckinLatitude,
		CheckinLongitude:      snap.CheckinLongitude,
		TimeCheckin:           snap.TimeCheckin,
		CreatedAt:             doc.CreatedAt.UTC(),
	}, nil
}

func (r *ProductRepository) Delete(ctx context.Context, productID int) error {
	if _, err := r.coll.DeleteOne(ctx, bson.M{"_id": productID}); err != nil {
		return wrapError("products.delete", err)
	}
	return nil
}

// NewParticipantRepository binds the participants collection.
func NewParticipantRepository(db *mongo.Database) *ParticipantRepository {
	return &ParticipantRepository{coll: db.Collection(participantsCollection)}
}

func (r *ParticipantRepository) Create(ctx context.Context, participant domain.Participant) (domain.Participant, error) {
	participant.CreatedAt = participant.CreatedAt.UTC()
	doc := participantDoc{
		ID:          participant.Email,
		Participant: participantSnapshotDoc(participant.Snapshot()),
		CreatedAt:   participant.CreatedAt,
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return domain.Participant{}, wrapError("participants.create", err)
	}
	return participant, nil
}

func (r *ParticipantRepository) FindByEmail(ctx context.Context, email string) (domain.Participant, error) {
	var doc participantDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": email}).Decode(&doc); err != nil {
		return domain.Participant{}, wrapError("participants.get", err)
	}
	snap := doc.Participant
	return domain.Participant{
		Email:     doc.ID,
		FirstName: snap.FirstName,
		LastName:  snap.LastName,
		Phone:     snap.Phone,
		CPF:       snap.CPF,
		City:      snap.City,
		CreatedAt: doc.CreatedAt.UTC(),
	}, nil
}

// NewOrderRepository binds the orders collection.
func NewOrderRepository(db *mongo.Database) *OrderRepository {
	return &OrderRepository{coll: db.Collection(ordersCollection)}
}

// Create inserts the order; the unique _id rejects a second insert of the same order id.
func (r *OrderRepository) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	order.CreatedAt = order.CreatedAt.UTC()
	doc := orderDoc{
		ID:          order.OrderID,
		ProductID:   order.Product.ProductID,
		OrderDate:   optionalTime(order.OrderDate),
		Product:     productSnapshotDoc(order.Product),
		Participant: participantSnapshotDoc(order.Participant),
		CreatedAt:   order.CreatedAt,
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return domain.Order{}, wrapError("orders.create", err)
	}
	return order, nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID int) (domain.Order, error) {
	var doc orderDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": orderID}).Decode(&doc); err != nil {
		return domain.Order{}, wrapError("orders.get", err)
	}
	return domain.Order{
		OrderID:     doc.ID,
		OrderDate:   derefTime(doc.OrderDate),
		Product:     domain.ProductSnapshot(doc.Product),
		Participant: domain.ParticipantSnapshot(doc.Participant),
		CreatedAt:   doc.CreatedAt.UTC(),
	}, nil
}

func (r *OrderRepository) CountByProduct(ctx context.Context, productID int) (int, error) {
	count, err := r.coll.CountDocuments(ctx, bson.M{"productId": productID})
	if err != nil {
		return 0, wrapError("orders.count", err)
	}
	return int(count), nil
}

func (r *OrderRepository) DeleteByProduct(ctx context.Context, productID int) (int, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{"productId": productID})
	if err != nil {
		return 0, wrapError("orders.delete_many", err)
	}
	return int(res.DeletedCount), nil
}

// NewCertificateRepository binds the certificates collection.
func NewCertificateRepository(db *mongo.Database) *CertificateRepository {
	return &CertificateRepository{coll: db.Collection(certificatesCollection)}
}

func (r *CertificateRepository) FindByOrderID(ctx context.Context, orderID int) (domain.Certificate, error) {
	var doc certificateDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": orderID}).Decode(&doc); err != nil {
		return domain.Certificate{}, wrapError("certificates.get", err)
	}
	return doc.toDomain(), nil
}

func (r *CertificateRepository) ListByProduct(ctx context.Context, productID int) ([]domain.Certificate, error) {
	cursor, err := r.coll.Find(ctx, bson.M{"productId": productID}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, wrapError("certificates.list", err)
	}
	defer cursor.Close(ctx)

	var certs []domain.Certificate
	for cursor.Next(ctx) {
		var doc certificateDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("certificates.list: decode: %w", err)
		}
		certs = append(certs, doc.toDomain())
	}
	if err := cursor.Err(); err != nil {
		return nil, wrapError("certificates.list", err)
	}
	return certs, nil
}

// Save inserts a new certificate at version 1, or replaces the document only while its
// stored version still equals cert.Version.
func (r *CertificateRepository) Save(ctx context.Context, cert domain.Certificate) (domain.Certificate, error) {
	expected := cert.Version
	next := cert
	next.Version = expected + 1
	doc := certificateDocFromDomain(next)

	if expected == 0 {
		if _, err := r.coll.InsertOne(ctx, doc); err != nil {
			return domain.Certificate{}, wrapError("certificates.save", err)
		}
		return next, nil
	}

	res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": cert.OrderID, "version": expected}, doc)
	if err != nil {
		return domain.Certificate{}, wrapError("certificates.save", err)
	}
	if res.MatchedCount == 0 {
		return domain.Certificate{}, wrapError("certificates.save",
			fmt.Errorf("certificate %d expected version %d: %w", cert.OrderID, expected, errVersionMismatch))
	}
	return next, nil
}

func (r *CertificateRepository) DeleteByProduct(ctx context.Context, productID int) (int, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{"productId": productID})
	if err != nil {
		return 0, wrapError("certificates.delete_many", err)
	}
	return int(res.DeletedCount), nil
}

type registry struct {
	close        func(context.Context) error
	products     *ProductRepository
	participants *ParticipantRepository
	orders       *OrderRepository
	certificates *CertificateRepository
	health       repositories.HealthRepository
}

// NewRegistry wires the MongoDB repositories on db. closeFn releases the client.
func NewRegistry(db *mongo.Database, health repositories.HealthRepository, closeFn func(context.Context) error) (repositories.Registry, error) {
	if db == nil {
		return nil, errors.New("mongo registry: database is required")
	}
	if health == nil {
		return nil, errors.New("mongo registry: health repository is required")
	}
	if closeFn == nil {
		closeFn = func(context.Context) error { return nil }
	}
	return &registry{
		close:        closeFn,
		products:     NewProductRepository(db),
		participants: NewParticipantRepository(db),
		orders:       NewOrderRepository(db),
		certificates: NewCertificateRepository(db),
		health:       health,
	}, nil
}

func (r *registry) Close(ctx context.Context) error { return r.close(ctx) }

func (r *registry) Products() repositories.ProductRepository         { return r.products }
func (r *registry) Participants() repositories.ParticipantRepository { return r.participants }
func (r *registry) Orders() repositories.OrderRepository             { return r.orders }
func (r *registry) Certificates() repositories.CertificateRepository { return r.certificates }
func (r *registry) Health() repositories.HealthRepository            { return r.health }
