package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/redis/go-redis/v9"

	"degreeproof/internal/credential/models"
	"degreeproof/pkg/domain"
)

const (
	redisCredentialPrefix = "degreeproof:credential:"
	redisNaturalKeyPrefix = "degreeproof:natural:"
	redisHistoryPrefix    = "degreeproof:history:"
	redisIssuedIndex      = "degreeproof:credentials:issued"

	// redisTxAttempts bounds optimistic-lock retries in SetStatus.
	redisTxAttempts = 5
)

// RedisStore persists credentials in Redis. Insert and status transitions use
// WATCH/MULTI so they stay atomic across concurrent writers.
type RedisStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func credentialKey(id domain.CredentialID) string { return redisCredentialPrefix + id.String() }
func historyKey(id domain.CredentialID) string    { return redisHistoryPrefix + id.String() }

// naturalKey length-prefixes the institute so no two keys share a set.
func naturalKey(k models.NaturalKey) string {
	return fmt.Sprintf("%s%d:%s:%s", redisNaturalKeyPrefix, len(k.InstituteID), k.InstituteID, k.StudentID)
}

func (s *RedisStore) Put(ctx context.Context, c models.Credential) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	key := credentialKey(c.ID)

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, naturalKey(c.Record.NaturalKey()), c.ID.String())
			pipe.ZAdd(ctx, redisIssuedIndex, redis.Z{Score: float64(c.IssuedAt.Unix()), Member: c.ID.String()})
			return nil
		})
		return err
	}, key)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrConflict), errors.Is(err, redis.TxFailedErr):
		return ErrConflict
	default:
		return Unavailable("insert credential", err)
	}
}

func (s *RedisStore) Get(ctx context.Context, id domain.CredentialID) (models.Credential, error) {
	c, err := s.load(ctx, s.client, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return models.Credential{}, err
		}
		return models.Credential{}, Unavailable("get credential", err)
	}
	return c, nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) load(ctx context.Context, g getter, id domain.CredentialID) (models.Credential, error) {
	data, err := g.Get(ctx, credentialKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.Credential{}, ErrNotFound
		}
		return models.Credential{}, err
	}
	var c models.Credential
	if err := json.Unmarshal(data, &c); err != nil {
		return models.Credential{}, fmt.Errorf("decode credential: %w", err)
	}
	return c, nil
}

func (s *RedisStore) FindByNaturalKey(ctx context.Context, key models.NaturalKey) ([]models.Credential, error) {
	ids, err := s.client.SMembers(ctx, naturalKey(key)).Result()
	if err != nil {
		return nil, Unavailable("find credentials by natural key", err)
	}
	out, err := s.loadMany(ctx, ids)
	if err != nil {
		return nil, Unavailable("find credentials by natural key", err)
	}
	out = slices.DeleteFunc(out, func(c models.Credential) bool {
		return c.Record.NaturalKey() != key
	})
	sortNewestFirst(out)
	return out, nil
}

func (s *RedisStore) loadMany(ctx context.Context, ids []string) ([]models.Credential, error) {
	out := make([]models.Credential, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = credentialKey(domain.CredentialID(id))
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var c models.Credential
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("decode credential: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *RedisStore) SetStatus(ctx context.Context, id domain.CredentialID, t models.Transition) (models.Credential, error) {
	key := credentialKey(id)
	var updated models.Credential

	txf := func(tx *redis.Tx) error {
		c, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if c.Status != t.From {
			return ErrStatusConflict
		}
		c.Status = t.To
		c.StatusReason = t.Reason
		if t.ReplacedBy != "" {
			c.ReplacedBy = t.ReplacedBy
		}
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("encode credential: %w", err)
		}
		change, err := json.Marshal(models.StatusChange{
			CredentialID: id, From: t.From, To: t.To, Reason: t.Reason, ActorID: t.ActorID, At: t.At,
		})
		if err != nil {
			return fmt.Errorf("encode status change: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.RPush(ctx, historyKey(id), change)
			return nil
		})
		if err == nil {
			updated = c
		}
		return err
	}

	for range redisTxAttempts {
		err := s.client.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return updated, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrStatusConflict):
			return models.Credential{}, err
		default:
			return models.Credential{}, Unavailable("update credential status", err)
		}
	}
	return models.Credential{}, ErrStatusConflict
}

func (s *RedisStore) History(ctx context.Context, id domain.CredentialID) ([]models.StatusChange, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	raw, err := s.client.LRange(ctx, historyKey(id), 0, -1).Result()
	if err != nil {
		return nil, Unavailable("list status history", err)
	}
	out := make([]models.StatusChange, 0, len(raw))
	for _, r := range raw {
		var ch models.StatusChange
		if err := json.Unmarshal([]byte(r), &ch); err != nil {
			return nil, fmt.Errorf("decode status change: %w", err)
		}
		out = append(out, ch)
	}
	return out, nil
}

// List walks the issuance index newest first, filtering in batches.
func (s *RedisStore) List(ctx context.Context, filter models.ListFilter) ([]models.Credential, error) {
	const batch = 200
	limit := filter.EffectiveLimit()
	out := make([]models.Credential, 0)

	for start := int64(0); len(out) < limit; start += batch {
		ids, err := s.client.ZRevRange(ctx, redisIssuedIndex, start, start+batch-1).Result()
		if err != nil {
			return nil, Unavailable("list credentials", err)
		}
		if len(ids) == 0 {
			break
		}
		page, err := s.loadMany(ctx, ids)
		if err != nil {
			return nil, Unavailable("list credentials", err)
		}
		for _, c := range page {
			if filter.Matches(c) {
				out = append(out, c)
				if len(out) == limit {
					break
				}
			}
		}
	}
	sortNewestFirst(out)
	return out, nil
}

var _ Store = (*RedisStore)(nil)
