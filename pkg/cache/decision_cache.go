package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/crestline/gatekeeper/pkg/authz"
	"github.com/crestline/gatekeeper/pkg/observability"
)

const keyPrefix = "gatekeeper:decision:"

type entry struct {
	decision  authz.Decision
	expiresAt time.Time
}

// DecisionCache is a two-layer cache for access decisions: an in-process
// LRU in front of a shared redis layer. Either layer can be skipped; with
// no redis client the cache is purely local. Entries expire by TTL and are
// dropped eagerly when a mutation invalidates the user or tenant.
type DecisionCache struct {
	l1     *lru.Cache[string, entry]
	client *redis.Client
	ttl    time.Duration

	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewDecisionCache creates a decision cache. client, logger, and metrics
// may be nil.
func NewDecisionCache(size int, client *redis.Client, ttl time.Duration, logger *observability.Logger, metrics *observability.Metrics) (*DecisionCache, error) {
	if size <= 0 {
		size = 4096
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	l1, err := lru.New[string, entry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create decision cache: %w", err)
	}
	return &DecisionCache{
		l1:      l1,
		client:  client,
		ttl:     ttl,
		logger:  logger,
		metrics: metrics,
	}, nil
}

func decisionKey(tenantID, userID int64, moduleKey string) string {
	return fmt.Sprintf("%s%d:%d:%s", keyPrefix, tenantID, userID, moduleKey)
}

// Get returns a cached decision for (tenant, user, module), if present
func (c *DecisionCache) Get(ctx context.Context, tenantID, userID int64, moduleKey string) (*authz.Decision, bool) {
	key := decisionKey(tenantID, userID, moduleKey)

	if e, ok := c.l1.Get(key); ok {
		if time.Now().Before(e.expiresAt) {
			c.hit("l1")
			decision := e.decision
			return &decision, true
		}
		c.l1.Remove(key)
	}
	c.miss("l1")

	if c.client == nil {
		return nil, false
	}

	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		c.miss("l2")
		return nil, false
	}
	if err != nil {
		// Redis being down degrades to database reads, not errors.
		c.logger.WithError(err).Debug("decision cache read failed")
		c.miss("l2")
		return nil, false
	}

	var decision authz.Decision
	if err := json.Unmarshal(raw, &decision); err != nil {
		c.logger.WithError(err).Warn("corrupt decision cache entry")
		c.client.Del(ctx, key)
		c.miss("l2")
		return nil, false
	}
	c.hit("l2")

	c.l1.Add(key, entry{decision: decision, expiresAt: time.Now().Add(c.ttl)})
	return &decision, true
}

// Set stores a decision in both layers
func (c *DecisionCache) Set(ctx context.Context, tenantID, userID int64, moduleKey string, decision authz.Decision) {
	key := decisionKey(tenantID, userID, moduleKey)
	c.l1.Add(key, entry{decision: decision, expiresAt: time.Now().Add(c.ttl)})

	if c.client == nil {
		return
	}
	raw, err := json.Marshal(decision)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.WithError(err).Debug("decision cache write failed")
	}
}

// InvalidateUser drops cached decisions for one user in one tenant
func (c *DecisionCache) InvalidateUser(ctx context.Context, tenantID, userID int64) {
	prefix := fmt.Sprintf("%s%d:%d:", keyPrefix, tenantID, userID)
	c.dropLocal(prefix)
	c.dropRemote(ctx, prefix+"*")
}

// InvalidateTenant drops every cached decision for a tenant. Used after
// cascades that touch memberships beyond a single user.
func (c *DecisionCache) InvalidateTenant(ctx context.Context, tenantID int64) {
	prefix := fmt.Sprintf("%s%d:", keyPrefix, tenantID)
	c.dropLocal(prefix)
	c.dropRemote(ctx, prefix+"*")
}

// InvalidateUserAllTenants drops a user's cached decisions in every tenant.
// Used after platform role grants and revokes, which change the user's level
// regardless of tenant.
func (c *DecisionCache) InvalidateUserAllTenants(ctx context.Context, userID int64) {
	user := fmt.Sprintf("%d", userID)
	for _, key := range c.l1.Keys() {
		parts := strings.SplitN(strings.TrimPrefix(key, keyPrefix), ":", 3)
		if len(parts) == 3 && parts[1] == user {
			c.l1.Remove(key)
		}
	}
	c.dropRemote(ctx, keyPrefix+"*:"+user+":*")
}

func (c *DecisionCache) dropLocal(prefix string) {
	for _, key := range c.l1.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.l1.Remove(key)
		}
	}
}

func (c *DecisionCache) dropRemote(ctx context.Context, pattern string) {
	if c.client == nil {
		return
	}
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.WithError(err).Warn("decision cache invalidation scan failed")
		return
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			c.logger.WithError(err).Warn("decision cache invalidation failed")
		}
	}
}

func (c *DecisionCache) hit(layer string) {
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues(layer).Inc()
	}
}

func (c *DecisionCache) miss(layer string) {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.WithLabelValues(layer).Inc()
	}
}
