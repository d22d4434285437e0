package repository

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/luminahq/lumina/internal/core/domain"
	"github.com/luminahq/lumina/internal/core/ports"
	"github.com/luminahq/lumina/internal/infrastructure/metrics"
)

const licenseKeyPrefix = "license:"

// CachedStore wraps another store with a Redis read-through cache for
// single-license lookups. Every mutation drops the cached entry, so quota
// decisions always run against the backing store.
type CachedStore struct {
	store  ports.Store
	client *redis.Client
	ttl    time.Duration
}

// NewCachedStore connects to Redis at addr and layers a cache over store.
// Entries live for ttl before they are refreshed from the backing store.
func NewCachedStore(store ports.Store, addr, password string, db int, ttl time.Duration) *CachedStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &CachedStore{store: store, client: rdb, ttl: ttl}
}

// newCachedStoreWithClient is used by tests to inject a miniredis client.
func newCachedStoreWithClient(store ports.Store, client *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{store: store, client: client, ttl: ttl}
}

func (c *CachedStore) GetByKey(ctx context.Context, key string) (*domain.License, error) {
	if data, errGet := c.client.Get(ctx, licenseKeyPrefix+key).Bytes(); errGet == nil {
		var lic domain.License
		if errUnmarshal := json.Unmarshal(data, &lic); errUnmarshal == nil {
			metrics.CacheOperations.WithLabelValues("hit").Inc()
			return &lic, nil
		}
		// Corrupt entry, fall through to the store.
		c.invalidate(ctx, key)
	}
	metrics.CacheOperations.WithLabelValues("miss").Inc()

	lic, err := c.store.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if lic != nil {
		if data, errMarshal := json.Marshal(lic); errMarshal == nil {
			if errSet := c.client.Set(ctx, licenseKeyPrefix+key, data, c.ttl).Err(); errSet != nil {
				log.Printf("failed to cache license %s: %v", key, errSet)
			}
		}
	}
	return lic, nil
}

func (c *CachedStore) invalidate(ctx context.Context, key string) {
	if errDel := c.client.Del(ctx, licenseKeyPrefix+key).Err(); errDel != nil {
		log.Printf("failed to invalidate cached license %s: %v", key, errDel)
	}
}

func (c *CachedStore) GetAll(ctx context.Context) ([]domain.License, error) {
	return c.store.GetAll(ctx)
}

func (c *CachedStore) Create(ctx context.Context, lic *domain.License) error {
	if err := c.store.Create(ctx, lic); err != nil {
		return err
	}
	c.invalidate(ctx, lic.Key)
	return nil
}

func (c *CachedStore) Update(ctx context.Context, key string, upd domain.LicenseUpdate) (*domain.License, error) {
	lic, err := c.store.Update(ctx, key, upd)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, key)
	return lic, nil
}

func (c *CachedStore) Delete(ctx context.Context, key string) error {
	if err := c.store.Delete(ctx, key); err != nil {
		return err
	}
	c.invalidate(ctx, key)
	return nil
}

func (c *CachedStore) Exists(ctx context.Context, key string) (bool, error) {
	return c.store.Exists(ctx, key)
}

func (c *CachedStore) AddActivation(ctx context.Context, key, machineCode, ip string) (bool, error) {
	created, err := c.store.AddActivation(ctx, key, machineCode, ip)
	if err != nil {
		return created, err
	}
	c.invalidate(ctx, key)
	return created, nil
}

func (c *CachedStore) UpdateVerification(ctx context.Context, key, machineCode, ip string) (bool, error) {
	updated, err := c.store.UpdateVerification(ctx, key, machineCode, ip)
	if err != nil {
		return updated, err
	}
	if updated {
		c.invalidate(ctx, key)
	}
	return updated, nil
}

func (c *CachedStore) CountActivations(ctx context.Context, key string) (int, error) {
	return c.store.CountActivations(ctx, key)
}

func (c *CachedStore) Ping(ctx context.Context) error {
	if errRedis := c.client.Ping(ctx).Err(); errRedis != nil {
		return errRedis
	}
	return c.store.Ping(ctx)
}

func (c *CachedStore) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	return c.store.CreateAPIKey(ctx, key)
}

func (c *CachedStore) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	return c.store.GetAPIKeyByHash(ctx, keyHash)
}

func (c *CachedStore) ListAPIKeys(ctx context.Context) ([]domain.APIKey, error) {
	return c.store.ListAPIKeys(ctx)
}

func (c *CachedStore) RevokeAPIKey(ctx context.Context, id string) error {
	return c.store.RevokeAPIKey(ctx, id)
}
