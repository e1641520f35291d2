package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/meterline/billingd/pkg/observability"
)

// PriceSource resolves catalog plans to live provider prices
type PriceSource interface {
	// Resolve returns the live price for a plan
	Resolve(ctx context.Context, plan Plan) (*Price, error)

	// ResolveAll returns live prices for all given plans, keyed by plan id
	ResolveAll(ctx context.Context, plans []Plan) (map[string]*Price, error)
}

// GatewayPriceSource resolves prices straight from the gateway with no
// caching. Used in tests and as the inner source for CachedPriceSource.
type GatewayPriceSource struct {
	gateway Gateway
}

// NewGatewayPriceSource creates a price source backed directly by the gateway
func NewGatewayPriceSource(gateway Gateway) *GatewayPriceSource {
	return &GatewayPriceSource{gateway: gateway}
}

// Resolve returns the live price for a plan
func (s *GatewayPriceSource) Resolve(ctx context.Context, plan Plan) (*Price, error) {
	if plan.RefIsPriceID() {
		return s.gateway.GetPrice(ctx, plan.PriceRef)
	}
	prices, err := s.gateway.ListPricesByLookupKeys(ctx, []string{plan.PriceRef})
	if err != nil {
		return nil, err
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("no price found for lookup key %q", plan.PriceRef)
	}
	return prices[0], nil
}

// ResolveAll returns live prices for all given plans. Lookup-key plans
// are resolved in a single gateway call.
func (s *GatewayPriceSource) ResolveAll(ctx context.Context, plans []Plan) (map[string]*Price, error) {
	out := make(map[string]*Price, len(plans))

	var lookupKeys []string
	keyToPlanID := make(map[string]string)
	for _, plan := range plans {
		if plan.RefIsPriceID() {
			p, err := s.gateway.GetPrice(ctx, plan.PriceRef)
			if err != nil {
				return nil, err
			}
			out[plan.ID] = p
			continue
		}
		lookupKeys = append(lookupKeys, plan.PriceRef)
		keyToPlanID[plan.PriceRef] = plan.ID
	}

	if len(lookupKeys) > 0 {
		prices, err := s.gateway.ListPricesByLookupKeys(ctx, lookupKeys)
		if err != nil {
			return nil, err
		}
		for _, p := range prices {
			if planID, ok := keyToPlanID[p.LookupKey]; ok {
				out[planID] = p
			}
		}
	}

	for _, plan := range plans {
		if _, ok := out[plan.ID]; !ok {
			return nil, fmt.Errorf("no price found for lookup key %q", plan.PriceRef)
		}
	}
	return out, nil
}

// CachedPriceSource caches resolved prices in Redis. Prices change
// rarely; a short TTL keeps the plans listing off the provider's rate
// limits without risking stale amounts for long.
type CachedPriceSource struct {
	inner   PriceSource
	client  *redis.Client
	ttl     time.Duration
	metrics *observability.Metrics
}

// NewCachedPriceSource wraps a price source with a Redis cache.
// redisURL is parsed with redis.ParseURL; the connection is verified
// with a ping. metrics may be nil.
func NewCachedPriceSource(inner PriceSource, redisURL string, ttl time.Duration, metrics *observability.Metrics) (*CachedPriceSource, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &CachedPriceSource{
		inner:   inner,
		client:  client,
		ttl:     ttl,
		metrics: metrics,
	}, nil
}

// Close releases the Redis connection
func (s *CachedPriceSource) Close() error {
	return s.client.Close()
}

func (s *CachedPriceSource) cacheKey(plan Plan) string {
	return fmt.Sprintf("billingd:price:%s", plan.PriceRef)
}

func (s *CachedPriceSource) fromCache(ctx context.Context, key string) *Price {
	data, err := s.client.Get(ctx, key).Result()
	if err != nil {
		// redis.Nil and transport errors both fall through to the
		// inner source.
		return nil
	}
	var p Price
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		s.client.Del(ctx, key)
		return nil
	}
	return &p
}

func (s *CachedPriceSource) toCache(ctx context.Context, key string, p *Price) {
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	s.client.Set(ctx, key, data, s.ttl)
}

func (s *CachedPriceSource) hit() {
	if s.metrics != nil {
		s.metrics.PriceCacheHitsTotal.Inc()
	}
}

func (s *CachedPriceSource) miss() {
	if s.metrics != nil {
		s.metrics.PriceCacheMissesTotal.Inc()
	}
}

// Resolve returns the live price for a plan, consulting the cache first
func (s *CachedPriceSource) Resolve(ctx context.Context, plan Plan) (*Price, error) {
	key := s.cacheKey(plan)
	if p := s.fromCache(ctx, key); p != nil {
		s.hit()
		return p, nil
	}
	s.miss()

	p, err := s.inner.Resolve(ctx, plan)
	if err != nil {
		return nil, err
	}
	s.toCache(ctx, key, p)
	return p, nil
}

// ResolveAll returns live prices for all given plans. Cached plans are
// served locally; the rest are fetched from the inner source in one
// batch.
func (s *CachedPriceSource) ResolveAll(ctx context.Context, plans []Plan) (map[string]*Price, error) {
	out := make(map[string]*Price, len(plans))
	var missing []Plan
	for _, plan := range plans {
		if p := s.fromCache(ctx, s.cacheKey(plan)); p != nil {
			s.hit()
			out[plan.ID] = p
			continue
		}
		s.miss()
		missing = append(missing, plan)
	}

	if len(missing) > 0 {
		fetched, err := s.inner.ResolveAll(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, plan := range missing {
			p := fetched[plan.ID]
			out[plan.ID] = p
			s.toCache(ctx, s.cacheKey(plan), p)
		}
	}
	return out, nil
}
