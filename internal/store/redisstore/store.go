package redisstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	paramKeyPrefix  = "param:"
	reconcileKey    = "ledger:reconcile"
	reconcileMaxLen = 10_000
)

type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (s *Store) Close() error { return s.rdb.Close() }

// GetCachedParam returns redis.Nil when the parameter is not cached.
func (s *Store) GetCachedParam(ctx context.Context, name string) (string, error) {
	return s.rdb.Get(ctx, paramKeyPrefix+name).Result()
}

func (s *Store) SetCachedParam(ctx context.Context, name, value string, ttl time.Duration) error {
	return s.rdb.Set(ctx, paramKeyPrefix+name, value, ttl).Err()
}

// LedgerFailure is a usage update that could not be recorded; kept for
// later reconciliation since the ledger fails open.
type LedgerFailure struct {
	PrincipalID string    `json:"principal_id"`
	Tokens      int64     `json:"tokens"`
	FailedAt    time.Time `json:"failed_at"`
	Reason      string    `json:"reason"`
}

func (s *Store) RecordLedgerFailure(ctx context.Context, f LedgerFailure) error {
	body, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if err := s.rdb.LPush(ctx, reconcileKey, body).Err(); err != nil {
		return err
	}
	return s.rdb.LTrim(ctx, reconcileKey, 0, reconcileMaxLen-1).Err()
}
