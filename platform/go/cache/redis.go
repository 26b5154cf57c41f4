package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zenGate-Global/bizdesk/platform/go/auth"
)

const (
	keyPrincipal    = "bizdesk:principal:"
	keyEpoch        = "bizdesk:principal-epoch"
	keyTenantMark   = "bizdesk:principal-tenant-mark:"
	keyIdentityMark = "bizdesk:principal-identity-mark:"
)

// markScript advances the shared epoch and records it on the invalidated key.
var markScript = redis.NewScript(`
local epoch = redis.call('INCR', KEYS[1])
redis.call('SET', KEYS[2], epoch, 'PX', ARGV[1])
return epoch
`)

// RedisConfig configures the shared cache backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	OnLookup func(hit bool)
}

// Redis stores principals in redis so every API replica shares them. Invalidation
// works like the memory backend: a shared epoch plus per tenant and identity marks that
// expire once every entry they could outdate is gone.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
	lookup func(hit bool)
}

type redisEntry struct {
	Principal auth.Principal `json:"principal"`
	Stamp     int64          `json:"stamp"`
}

// NewRedis connects a client; it does not ping.
func NewRedis(cfg RedisConfig, logger *zap.Logger) *Redis {
	if cfg.Addr == "" {
		panic("redis cache: addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisWithClient(client, cfg.TTL, cfg.OnLookup, logger)
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, ttl time.Duration, onLookup func(hit bool), logger *zap.Logger) *Redis {
	if client == nil {
		panic("redis cache: client is required")
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, ttl: ttl, logger: logger, lookup: onLookup}
}

// Ping checks the connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Get(ctx context.Context, key string) (auth.Principal, bool) {
	p, ok := r.get(ctx, key)
	if r.lookup != nil {
		r.lookup(ok)
	}
	return p, ok
}

func (r *Redis) get(ctx context.Context, key string) (auth.Principal, bool) {
	raw, err := r.client.Get(ctx, keyPrincipal+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("principal cache get failed", zap.Error(err))
		}
		return auth.Principal{}, false
	}

	var entry redisEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		r.logger.Warn("principal cache entry corrupt", zap.Error(err))
		return auth.Principal{}, false
	}

	fresh, err := r.fresh(ctx, entry.Principal, entry.Stamp)
	if err != nil {
		r.logger.Warn("principal cache mark read failed", zap.Error(err))
		return auth.Principal{}, false
	}
	if !fresh {
		return auth.Principal{}, false
	}
	return entry.Principal, true
}

// Stamp reads the shared epoch. On failure it returns the zero stamp, which any
// recorded invalidation outdates.
func (r *Redis) Stamp(ctx context.Context) Stamp {
	epoch, err := r.client.Get(ctx, keyEpoch).Int64()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("principal cache epoch read failed", zap.Error(err))
		}
		return 0
	}
	return Stamp(epoch)
}

func (r *Redis) Set(ctx context.Context, key string, p auth.Principal, stamp Stamp) {
	fresh, err := r.fresh(ctx, p, int64(stamp))
	if err != nil {
		r.logger.Warn("principal cache mark read failed", zap.Error(err))
		return
	}
	if !fresh {
		return
	}
	raw, err := json.Marshal(redisEntry{Principal: p, Stamp: int64(stamp)})
	if err != nil {
		r.logger.Warn("principal cache encode failed", zap.Error(err))
		return
	}
	if err := r.client.Set(ctx, keyPrincipal+key, raw, r.ttl).Err(); err != nil {
		r.logger.Warn("principal cache set failed", zap.Error(err))
	}
}

func (r *Redis) Delete(ctx context.Context, key string) {
	if err := r.client.Del(ctx, keyPrincipal+key).Err(); err != nil {
		r.logger.Warn("principal cache delete failed", zap.Error(err))
	}
}

func (r *Redis) InvalidateTenant(ctx context.Context, tenantID string) {
	if tenantID == "" {
		return
	}
	r.mark(ctx, keyTenantMark+tenantID)
}

func (r *Redis) InvalidateIdentity(ctx context.Context, identityID uuid.UUID) {
	r.mark(ctx, keyIdentityMark+identityID.String())
}

// mark records an invalidation. A mark outlives every entry written before it, so
// letting it expire afterwards is safe.
func (r *Redis) mark(ctx context.Context, key string) {
	ttl := (r.ttl + time.Minute).Milliseconds()
	if err := markScript.Run(ctx, r.client, []string{keyEpoch, key}, ttl).Err(); err != nil {
		r.logger.Warn("principal cache invalidate failed", zap.String("key", key), zap.Error(err))
	}
}

// fresh reports whether an entry stamped with stamp postdates the marks of its tenant
// and identity.
func (r *Redis) fresh(ctx context.Context, p auth.Principal, stamp int64) (bool, error) {
	vals, err := r.client.MGet(ctx, keyTenantMark+p.TenantID, keyIdentityMark+p.IdentityID.String()).Result()
	if err != nil {
		return false, err
	}
	for _, v := range vals {
		epoch, err := parseEpoch(v)
		if err != nil {
			return false, err
		}
		if stamp < epoch {
			return false, nil
		}
	}
	return true, nil
}

func parseEpoch(v interface{}) (int64, error) {
	if v == nil {
		return 0, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, errors.New("unexpected mark type")
	}
	return strconv.ParseInt(s, 10, 64)
}
