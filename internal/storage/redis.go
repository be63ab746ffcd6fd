package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	logx "massdm/pkg/logx"
)

// redisStore keeps state in a shared Redis so several processes can serve
// the same tenants.
//
// Keys (prefix defaults to "massdm"):
//   - <p>:ch:<tenant>        hash, control channel
//   - <p>:aud:<tenant>       list, audience in first-seen order
//   - <p>:audset:<tenant>    set, audience membership
//   - <p>:jobs:<tenant>      zset, job records scored by finished unix ms
//   - <p>:tenants            set, tenants that have job records
type redisStore struct {
	client *redis.Client
	prefix string
	log    logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("storage.redis.addr is required for redis driver")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return newRedisStore(client, cfg.RedisPrefix, log), nil
}

func newRedisStore(client *redis.Client, prefix string, log logx.Logger) *redisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "massdm"
	}
	return &redisStore{client: client, prefix: prefix, log: log}
}

func (s *redisStore) key(kind string, tenant int64) string {
	return s.prefix + ":" + kind + ":" + strconv.FormatInt(tenant, 10)
}

func (s *redisStore) Close() error { return s.client.Close() }

func (s *redisStore) PutControlChannel(ctx context.Context, tenant int64, ch ControlChannel) error {
	if ch.SetAt.IsZero() {
		ch.SetAt = time.Now()
	}
	return s.client.HSet(ctx, s.key("ch", tenant),
		"chat_id", ch.ChatID,
		"thread_id", ch.ThreadID,
		"set_by", ch.SetBy,
		"set_at", ch.SetAt.UnixMilli(),
	).Err()
}

func (s *redisStore) ControlChannel(ctx context.Context, tenant int64) (ControlChannel, bool, error) {
	m, err := s.client.HGetAll(ctx, s.key("ch", tenant)).Result()
	if err != nil {
		return ControlChannel{}, false, err
	}
	if len(m) == 0 {
		return ControlChannel{}, false, nil
	}
	chatID, err := strconv.ParseInt(m["chat_id"], 10, 64)
	if err != nil {
		return ControlChannel{}, false, fmt.Errorf("control channel %d: %w", tenant, err)
	}
	thread, _ := strconv.Atoi(m["thread_id"])
	setBy, _ := strconv.ParseInt(m["set_by"], 10, 64)
	setAt, _ := strconv.ParseInt(m["set_at"], 10, 64)
	return ControlChannel{
		ChatID:   chatID,
		ThreadID: thread,
		SetBy:    setBy,
		SetAt:    time.UnixMilli(setAt),
	}, true, nil
}

func (s *redisStore) AddAudience(ctx context.Context, tenant, userID int64) error {
	added, err := s.client.SAdd(ctx, s.key("audset", tenant), userID).Result()
	if err != nil {
		return err
	}
	if added == 0 {
		return nil
	}
	return s.client.RPush(ctx, s.key("aud", tenant), userID).Err()
}

func (s *redisStore) Audience(ctx context.Context, tenant int64) ([]int64, error) {
	vals, err := s.client.LRange(ctx, s.key("aud", tenant), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(vals))
	for _, v := range vals {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.log.Debug("skipping malformed audience entry", logx.String("value", v))
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func (s *redisStore) AppendJob(ctx context.Context, r JobRecord) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, s.key("jobs", r.Tenant), redis.Z{Score: float64(r.FinishedAt.UnixMilli()), Member: b})
	pipe.SAdd(ctx, s.prefix+":tenants", r.Tenant)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

func (s *redisStore) RecentJobs(ctx context.Context, tenant int64, limit int) ([]JobRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	vals, err := s.client.ZRevRange(ctx, s.key("jobs", tenant), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]JobRecord, 0, len(vals))
	for _, v := range vals {
		var r JobRecord
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *redisStore) PruneJobs(ctx context.Context, before time.Time) (int, error) {
	tenants, err := s.client.SMembers(ctx, s.prefix+":tenants").Result()
	if err != nil {
		return 0, err
	}
	upper := "(" + strconv.FormatInt(before.UnixMilli(), 10)
	total := 0
	for _, t := range tenants {
		n, err := s.client.ZRemRangeByScore(ctx, s.prefix+":jobs:"+t, "-inf", upper).Result()
		if err != nil {
			return total, err
		}
		total += int(n)
	}
	return total, nil
}
