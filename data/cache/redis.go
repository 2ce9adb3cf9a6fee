package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/KotFed0t/fund_helper/internal/model"
	"github.com/KotFed0t/fund_helper/utils"
	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("error snapshot not found")

// snapshots without a ledger reference get evicted eventually; freshness
// decisions are made by the valuation cache from FetchedAt, not by redis TTL.
const snapshotRetention = 7 * 24 * time.Hour

// RedisCache is the durable store for fund snapshots (estimate, search
// results, NAV history) keyed by (kind, fund code).
type RedisCache struct {
	redis *redis.Client
}

func NewRedisCache(redisClient *redis.Client) *RedisCache {
	return &RedisCache{redis: redisClient}
}

func snapshotKey(code string, kind model.SnapshotKind) string {
	return fmt.Sprintf("fund:%s:%s", kind, code)
}

func (r *RedisCache) GetSnapshot(ctx context.Context, code string, kind model.SnapshotKind) (model.FundSnapshot, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	slog.Debug("GetSnapshot start", slog.String("rqID", rqID), slog.String("code", code), slog.String("kind", string(kind)))

	res, err := r.redis.Get(ctx, snapshotKey(code, kind)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.FundSnapshot{}, ErrNotFound
		}
		slog.Error("failed on redis.Get", slog.String("rqID", rqID), slog.String("err", err.Error()), slog.String("key", snapshotKey(code, kind)))
		return model.FundSnapshot{}, err
	}

	snapshot := model.FundSnapshot{}
	err = json.Unmarshal([]byte(res), &snapshot)
	if err != nil {
		slog.Error(
			"can't unmarshal snapshot in GetSnapshot",
			slog.String("rqID", rqID),
			slog.String("err", err.Error()),
			slog.String("resultFromRedis", res),
		)
		return model.FundSnapshot{}, errors.New("can't unmarshal snapshot")
	}

	slog.Debug("GetSnapshot finished", slog.String("rqID", rqID))

	return snapshot, nil
}

func (r *RedisCache) SetSnapshot(ctx context.Context, snapshot model.FundSnapshot) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	slog.Debug("SetSnapshot start", slog.String("rqID", rqID), slog.String("code", snapshot.FundCode), slog.String("kind", string(snapshot.Kind)))

	snapshotJson, err := json.Marshal(snapshot)
	if err != nil {
		slog.Error(
			"can't marshal snapshot in SetSnapshot",
			slog.String("rqID", rqID),
			slog.String("err", err.Error()),
			slog.Any("snapshot", snapshot),
		)
		return errors.New("can't marshal snapshot")
	}

	_, err = r.redis.Set(ctx, snapshotKey(snapshot.FundCode, snapshot.Kind), snapshotJson, snapshotRetention).Result()
	if err != nil {
		slog.Error("failed on redis.Set", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return err
	}

	slog.Debug("SetSnapshot completed", slog.String("rqID", rqID))

	return nil
}
