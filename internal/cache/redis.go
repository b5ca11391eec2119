package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/saiproject-202/ClassVibe/internal/model"
)

// NewRedisClient Redis 연결 생성 및 확인
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	log.Printf("[Redis] Connected to %s", addr)
	return client, nil
}

// HistoryCache 세션별 최근 메시지 목록 캐시
// 원본은 항상 DB이며, 캐시 오류는 로그만 남기고 DB 조회로 대체된다.
type HistoryCache struct {
	client *redis.Client
	limit  int64
	ttl    time.Duration
}

// NewHistoryCache 최근 limit개를 ttl 동안 보관하는 캐시 생성
func NewHistoryCache(client *redis.Client, limit int, ttl time.Duration) *HistoryCache {
	return &HistoryCache{client: client, limit: int64(limit), ttl: ttl}
}

func historyKey(groupID string) string {
	return "group:" + groupID + ":messages"
}

// Append 목록이 이미 있을 때만 추가 (부분 목록 생성 방지)
func (h *HistoryCache) Append(ctx context.Context, groupID string, m *model.Message) {
	data, err := json.Marshal(m)
	if err != nil {
		log.Printf("[Redis] Failed to encode message %s: %v", m.ID, err)
		return
	}

	key := historyKey(groupID)
	_, err = h.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPushX(ctx, key, data)
		pipe.LTrim(ctx, key, -h.limit, -1)
		pipe.Expire(ctx, key, h.ttl)
		return nil
	})
	if err != nil {
		log.Printf("[Redis] Failed to append message to %s: %v", key, err)
		h.Invalidate(ctx, groupID)
	}
}

// Fill DB에서 읽은 목록으로 캐시 재구성
func (h *HistoryCache) Fill(ctx context.Context, groupID string, msgs []model.Message) {
	key := historyKey(groupID)
	values := make([]interface{}, 0, len(msgs))
	for i := range msgs {
		data, err := json.Marshal(&msgs[i])
		if err != nil {
			log.Printf("[Redis] Failed to encode message %s: %v", msgs[i].ID, err)
			return
		}
		values = append(values, data)
	}

	_, err := h.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(values) > 0 {
			pipe.RPush(ctx, key, values...)
			pipe.LTrim(ctx, key, -h.limit, -1)
			pipe.Expire(ctx, key, h.ttl)
		}
		return nil
	})
	if err != nil {
		log.Printf("[Redis] Failed to fill %s: %v", key, err)
	}
}

// Recent 최근 limit개 (오래된 순), 캐시에 없으면 ok=false
func (h *HistoryCache) Recent(ctx context.Context, groupID string, limit int) ([]model.Message, bool) {
	results, err := h.client.LRange(ctx, historyKey(groupID), -int64(limit), -1).Result()
	if err != nil {
		log.Printf("[Redis] Failed to read history for %s: %v", groupID, err)
		return nil, false
	}
	if len(results) == 0 {
		return nil, false
	}

	msgs := make([]model.Message, 0, len(results))
	for _, data := range results {
		var m model.Message
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			log.Printf("[Redis] Corrupt history entry for %s: %v", groupID, err)
			h.Invalidate(ctx, groupID)
			return nil, false
		}
		msgs = append(msgs, m)
	}
	return msgs, true
}

// Invalidate 캐시 삭제 (수정/삭제/읽음 처리 후)
func (h *HistoryCache) Invalidate(ctx context.Context, groupID string) {
	if err := h.client.Del(ctx, historyKey(groupID)).Err(); err != nil {
		log.Printf("[Redis] Failed to invalidate history for %s: %v", groupID, err)
	}
}

// Health Redis 상태 확인
func (h *HistoryCache) Health(ctx context.Context) error {
	return h.client.Ping(ctx).Err()
}
