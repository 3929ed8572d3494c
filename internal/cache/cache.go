package cache

import (
	"context"
	"time"

	"netobebidas/backend/internal/domain"
)

// ProductCache is a read-model cache for the product catalog. Implementations
// must tolerate being unavailable: callers treat every error as a miss.
type ProductCache interface {
	GetProducts(ctx context.Context) ([]domain.Product, bool, error)
	SetProducts(ctx context.Context, products []domain.Product, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

// NoopProductCache is used when Redis is not configured.
type NoopProductCache struct{}

func (NoopProductCache) GetProducts(context.Context) ([]domain.Product, bool, error) {
	return nil, false, nil
}

func (NoopProductCache) SetProducts(context.Context, []domain.Product, time.Duration) error {
	return nil
}

func (NoopProductCache) Invalidate(context.Context) error {
	return nil
}
