package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"marketdata/internal/domain/model"
)

type RedisAdapter struct {
	client    *redis.Client
	marketTTL time.Duration
	tickTTL   time.Duration
}

// NewRedisAdapter connects to redis. marketTTL bounds how long a market stays
// available as stale fallback, tickTTL how long an idle tick window lives.
func NewRedisAdapter(addr, password string, db int, marketTTL, tickTTL time.Duration) (*RedisAdapter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisAdapterWithClient(client, marketTTL, tickTTL), nil
}

func NewRedisAdapterWithClient(client *redis.Client, marketTTL, tickTTL time.Duration) *RedisAdapter {
	return &RedisAdapter{
		client:    client,
		marketTTL: marketTTL,
		tickTTL:   tickTTL,
	}
}

func (a *RedisAdapter) Ping(ctx context.Context) error {
	return a.client.Ping(ctx).Err()
}

func marketKey(id model.MarketID) string {
	return "market:" + id
}

func ticksKey(id model.MarketID) string {
	return "ticks:" + id
}

func (a *RedisAdapter) GetMarket(ctx context.Context, id model.MarketID) (*model.Market, error) {
	data, err := a.client.Get(ctx, marketKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get market from redis: %w", err)
	}

	var m model.Market
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal market: %w", err)
	}
	return &m, nil
}

func (a *RedisAdapter) SetMarket(ctx context.Context, market model.Market) error {
	data, err := json.Marshal(market)
	if err != nil {
		return fmt.Errorf("failed to marshal market: %w", err)
	}

	if err := a.client.Set(ctx, marketKey(market.ID), data, a.marketTTL).Err(); err != nil {
		return fmt.Errorf("failed to set market in redis: %w", err)
	}
	return nil
}

// AddTick appends tick to the sorted set of its market, scored by unix millis.
func (a *RedisAdapter) AddTick(ctx context.Context, tick model.PriceUpdate) error {
	key := ticksKey(tick.MarketID)
	data, err := json.Marshal(tick)
	if err != nil {
		return fmt.Errorf("failed to marshal tick: %w", err)
	}

	pipe := a.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(tick.Timestamp.UnixMilli()),
		Member: data,
	})
	pipe.Expire(ctx, key, a.tickTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add tick to window: %w", err)
	}
	return nil
}

// GetTicks returns the ticks of a market with from <= timestamp < to.
func (a *RedisAdapter) GetTicks(ctx context.Context, marketID model.MarketID, from, to time.Time) ([]model.PriceUpdate, error) {
	results, err := a.client.ZRangeByScore(ctx, ticksKey(marketID), &redis.ZRangeBy{
		Min: strconv.FormatInt(from.UnixMilli(), 10),
		Max: "(" + strconv.FormatInt(to.UnixMilli(), 10),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get ticks for %s: %w", marketID, err)
	}

	out := make([]model.PriceUpdate, 0, len(results))
	for _, item := range results {
		var tick model.PriceUpdate
		if err := json.Unmarshal([]byte(item), &tick); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tick from %s: %w", ticksKey(marketID), err)
		}
		out = append(out, tick)
	}
	return out, nil
}

// DeleteOldTicks removes ticks older than before from every market.
func (a *RedisAdapter) DeleteOldTicks(ctx context.Context, before time.Time) error {
	max := "(" + strconv.FormatInt(before.UnixMilli(), 10)

	iter := a.client.Scan(ctx, 0, "ticks:*", 0).Iterator()
	for iter.Next(ctx) {
		if err := a.client.ZRemRangeByScore(ctx, iter.Val(), "-inf", max).Err(); err != nil {
			return fmt.Errorf("failed to delete old ticks from %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate redis keys: %w", err)
	}
	return nil
}

func (a *RedisAdapter) Close() error {
	return a.client.Close()
}
