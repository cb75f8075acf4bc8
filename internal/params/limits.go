package params

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/studyowl/textbook-ai/internal/ledger"
	"github.com/studyowl/textbook-ai/internal/store/redisstore"
)

const limitCacheTTL = 5 * time.Minute

// DailyLimitResolver resolves the configured daily token ceiling for the
// usage ledger. The SSM value is cached in Redis with a short TTL so fresh
// processes skip the SSM round trip on cold start. An empty parameter name
// means no ceiling is configured.
type DailyLimitResolver struct {
	provider  *Provider
	cache     *redisstore.Store
	paramName string
	log       *logrus.Entry
}

func NewDailyLimitResolver(provider *Provider, cache *redisstore.Store, paramName string, log *logrus.Entry) *DailyLimitResolver {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &DailyLimitResolver{provider: provider, cache: cache, paramName: paramName, log: log}
}

func (r *DailyLimitResolver) DailyTokenLimit(ctx context.Context) (int64, error) {
	if r.paramName == "" {
		return ledger.Unlimited, nil
	}

	if r.cache != nil {
		if v, err := r.cache.GetCachedParam(ctx, r.paramName); err == nil {
			return parseLimit(v)
		} else if err != redis.Nil {
			r.log.WithError(err).Debug("limit cache read failed")
		}
	}

	v, err := r.provider.GetParameter(ctx, r.paramName)
	if err != nil {
		return 0, err
	}

	if r.cache != nil {
		if err := r.cache.SetCachedParam(ctx, r.paramName, v, limitCacheTTL); err != nil {
			r.log.WithError(err).Debug("limit cache write failed")
		}
	}
	return parseLimit(v)
}

func parseLimit(v string) (int64, error) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		// unset or malformed values mean "no ceiling" rather than an error
		return ledger.Unlimited, nil
	}
	return n, nil
}
