// Package redisstore keeps the ranked talker table in Redis: one hash per
// talker plus a sorted set of talker ids scored by talker score.
package redisstore

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tymiles003/FlowTrack/internal/config"
	"github.com/tymiles003/FlowTrack/internal/ipaddr"
	"github.com/tymiles003/FlowTrack/internal/model"
	"github.com/tymiles003/FlowTrack/internal/store"
)

// TalkerStore implements model.TalkerStore on Redis.
type TalkerStore struct {
	cli    *redis.Client
	prefix string
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg config.RedisConfig) (*TalkerStore, error) {
	cli := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := cli.Ping(ctx).Err(); err != nil {
		cli.Close()
		return nil, store.Wrap("redis", "ping", err)
	}
	return &TalkerStore{cli: cli, prefix: cfg.KeyPrefix}, nil
}

func (s *TalkerStore) indexKey() string { return s.prefix + ":talkers" }

func (s *TalkerStore) rowKey(id string) string { return s.prefix + ":talker:" + id }

func (s *TalkerStore) Upsert(ctx context.Context, talker model.RecentTalker) error {
	return s.UpsertAll(ctx, []model.RecentTalker{talker})
}

// UpsertAll writes every row in one MULTI/EXEC transaction.
func (s *TalkerStore) UpsertAll(ctx context.Context, talkers []model.RecentTalker) error {
	if len(talkers) == 0 {
		return nil
	}
	_, err := s.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, t := range talkers {
			if t.ID == "" {
				t.ID = model.TalkerID(t.InternalIP, t.ExternalIP)
			}
			p.HSet(ctx, s.rowKey(t.ID),
				"internal_ip", t.InternalIP,
				"external_ip", t.ExternalIP,
				"score", t.Score,
				"last_update", t.LastUpdate.UnixNano())
			p.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(t.Score), Member: t.ID})
		}
		return nil
	})
	return store.Wrap("redis", "upsert talkers", err)
}

// ListRanked loads every row and sorts it with model.RankLess; the sorted set
// alone cannot order ties by recency.
func (s *TalkerStore) ListRanked(ctx context.Context) ([]model.RecentTalker, error) {
	ids, err := s.cli.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, store.Wrap("redis", "list talkers", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.cli.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, s.rowKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, store.Wrap("redis", "load talkers", err)
	}

	rows := make([]model.RecentTalker, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		t, err := decodeRow(ids[i], fields)
		if err != nil {
			return nil, store.Wrap("redis", "decode talker", err)
		}
		rows = append(rows, t)
	}
	sort.Slice(rows, func(i, j int) bool { return model.RankLess(rows[i], rows[j]) })
	return rows, nil
}

func (s *TalkerStore) TopN(ctx context.Context, limit int) ([]model.RecentTalker, error) {
	rows, err := s.ListRanked(ctx)
	if err != nil {
		return nil, err
	}
	if limit >= 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows, nil
}

// PurgeToRetention deletes the rows ranked after keep.
func (s *TalkerStore) PurgeToRetention(ctx context.Context, keep int) (int64, error) {
	rows, err := s.ListRanked(ctx)
	if err != nil {
		return 0, err
	}
	if keep < 0 {
		keep = 0
	}
	if len(rows) <= keep {
		return 0, nil
	}

	doomed := rows[keep:]
	_, err = s.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, t := range doomed {
			p.ZRem(ctx, s.indexKey(), t.ID)
			p.Del(ctx, s.rowKey(t.ID))
		}
		return nil
	})
	if err != nil {
		return 0, store.Wrap("redis", "purge talkers", err)
	}
	return int64(len(doomed)), nil
}

func (s *TalkerStore) Close() error {
	return s.cli.Close()
}

func decodeRow(id string, fields map[string]string) (model.RecentTalker, error) {
	t := model.RecentTalker{ID: id}
	internal, err := strconv.ParseInt(fields["internal_ip"], 10, 64)
	if err != nil {
		return t, err
	}
	external, err := strconv.ParseInt(fields["external_ip"], 10, 64)
	if err != nil {
		return t, err
	}
	if t.InternalIP, err = ipaddr.FromInt64(internal); err != nil {
		return t, err
	}
	if t.ExternalIP, err = ipaddr.FromInt64(external); err != nil {
		return t, err
	}
	if t.Score, err = strconv.ParseInt(fields["score"], 10, 64); err != nil {
		return t, err
	}
	last, err := strconv.ParseInt(fields["last_update"], 10, 64)
	if err != nil {
		return t, err
	}
	t.LastUpdate = time.Unix(0, last)
	return t, nil
}
