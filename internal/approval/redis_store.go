package approval

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	xerrors "AgentPay-Gate/internal/errors"
)

const (
	redisRecordPrefix = "agentpay:approval:"
	redisPendingKey   = "agentpay:approvals:pending"
)

// RedisStoreConfig describes the Redis connection.
type RedisStoreConfig struct {
	Address  string
	Password string
	DB       int
}

// RedisStore keeps the approval ledger in Redis. Useful when the consent
// page and the agent daemon run as separate processes sharing one instance.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore connects and verifies the instance is reachable.
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address is empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "connect to Redis")
	}
	return &RedisStore{client: client, now: time.Now}, nil
}

// Create implements Store.
func (s *RedisStore) Create(ctx context.Context, payload Payload) (*Record, error) {
	now := s.now().Unix()
	record := &Record{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		Payload:   payload,
		CreatedAt: now,
	}
	if payload.Requirement.MaxTimeoutSeconds > 0 {
		record.ExpiresAt = now + payload.Requirement.MaxTimeoutSeconds
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode approval record")
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, redisRecordPrefix+record.ID, raw, 0)
	pipe.ZAdd(ctx, redisPendingKey, redis.Z{Score: float64(now), Member: record.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "store approval")
	}
	return record, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, id string) (*Record, error) {
	raw, err := s.client.Get(ctx, redisRecordPrefix+id).Bytes()
	if stdErrors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "load approval")
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode approval record")
	}
	return &record, nil
}

// Approve implements Store.
func (s *RedisStore) Approve(ctx context.Context, id string) (*Record, error) {
	return s.resolve(ctx, id, StatusApproved)
}

// Deny implements Store.
func (s *RedisStore) Deny(ctx context.Context, id string) (*Record, error) {
	return s.resolve(ctx, id, StatusDenied)
}

// resolve performs the pending check and the write inside a WATCH
// transaction, so two racing resolutions cannot both win.
func (s *RedisStore) resolve(ctx context.Context, id string, target Status) (*Record, error) {
	key := redisRecordPrefix + id
	var out *Record

	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if stdErrors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var record Record
		if err := json.Unmarshal(raw, &record); err != nil {
			return err
		}
		if record.Status.Terminal() {
			out = &record
			return nil
		}

		now := s.now().Unix()
		record.Status = target
		switch target {
		case StatusApproved:
			record.ApprovedAt = now
		case StatusDenied:
			record.DeniedAt = now
		}
		updated, err := json.Marshal(&record)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			pipe.ZRem(ctx, redisPendingKey, id)
			return nil
		})
		if err == nil {
			out = &record
		}
		return err
	}

	for attempt := 0; attempt < 5; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		if stdErrors.Is(err, redis.TxFailedErr) {
			continue // lost the race this round; re-read and retry
		}
		if stdErrors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "resolve approval")
		}
		return out, nil
	}
	// Contenders kept winning; whatever is stored now is the answer.
	return s.Get(ctx, id)
}

// ListPending implements Store.
func (s *RedisStore) ListPending(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := s.client.ZRevRange(ctx, redisPendingKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "list pending approvals")
	}
	records := make([]*Record, 0, len(ids))
	for _, id := range ids {
		record, err := s.Get(ctx, id)
		if stdErrors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if record.Status == StatusPending {
			records = append(records, record)
		}
	}
	return records, nil
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
