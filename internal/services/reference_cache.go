package services

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	domain "github.com/certified-builder/api/internal/domain"
	"github.com/certified-builder/api/internal/platform/textutil"
	"github.com/certified-builder/api/internal/repositories"
)

// onceCache is a compute-if-absent map. load runs at most once per key while it succeeds;
// concurrent callers for the same key share that result. Failed loads are not cached.
type onceCache[K comparable, V any] struct {
	group    singleflight.Group
	mu       sync.RWMutex
	resolved map[K]V
}

func newOnceCache[K comparable, V any]() *onceCache[K, V] {
	return &onceCache[K, V]{resolved: make(map[K]V)}
}

func (c *onceCache[K, V]) lookup(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := c.resolved[key]
	return value, ok
}

func (c *onceCache[K, V]) getOrLoad(key K, load func() (V, error)) (V, error) {
	if value, ok := c.lookup(key); ok {
		return value, nil
	}
	result, err, _ := c.group.Do(fmt.Sprint(key), func() (any, error) {
		// a previous flight may have finished between lookup and Do
		if value, ok := c.lookup(key); ok {
			return value, nil
		}
		value, err := load()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.resolved[key] = value
		c.mu.Unlock()
		return value, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return result.(V), nil
}

// referenceCache resolves the products and participants shared by the orders of one batch.
// The store is consulted first; creation only happens on NotFound, and a create conflict
// (another batch won the race) is resolved by re-reading.
type referenceCache struct {
	products         repositories.ProductRepository
	participants     repositories.ParticipantRepository
	entities         *entityService
	productCache     *onceCache[int, domain.Product]
	participantCache *onceCache[string, domain.Participant]
}

func newReferenceCache(products repositories.ProductRepository, participants repositories.ParticipantRepository, entities *entityService) *referenceCache {
	return &referenceCache{
		products:         products,
		participants:     participants,
		entities:         entities,
		productCache:     newOnceCache[int, domain.Product](),
		participantCache: newOnceCache[string, domain.Participant](),
	}
}

func (c *referenceCache) Product(ctx context.Context, raw RawOrder) (domain.Product, error) {
	return c.productCache.getOrLoad(raw.ProductID, func() (domain.Product, error) {
		return getOrCreate(ctx,
			func(ctx context.Context) (domain.Product, error) { return c.products.FindByID(ctx, raw.ProductID) },
			func(ctx context.Context) (domain.Product, error) { return c.entities.CreateProduct(ctx, raw) },
		)
	})
}

func (c *referenceCache) Participant(ctx context.Context, raw RawOrder) (domain.Participant, error) {
	email := textutil.NormalizeEmail(raw.Email)
	return c.participantCache.getOrLoad(email, func() (domain.Participant, error) {
		return getOrCreate(ctx,
			func(ctx context.Context) (domain.Participant, error) { return c.participants.FindByEmail(ctx, email) },
			func(ctx context.Context) (domain.Participant, error) { return c.entities.CreateParticipant(ctx, raw) },
		)
	})
}

func getOrCreate[V any](ctx context.Context, find, create func(context.Context) (V, error)) (V, error) {
	value, err := find(ctx)
	if err == nil || !repositories.IsNotFound(err) {
		return value, err
	}
	value, err = create(ctx)
	if err != nil && repositories.IsConflict(err) {
		return find(ctx)
	}
	return value, err
}
