package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	presenceChannel = "presence_updates"
	presenceTTL     = 10 * time.Minute
)

// PresenceData Redis에 발행되는 세션 온라인 상태
type PresenceData struct {
	SessionID string   `json:"session_id"`
	Online    []string `json:"online"`
	UpdatedAt int64    `json:"updated_at"`
	ServerID  string   `json:"server_id"` // 멀티 서버 확장 대비
}

type update struct {
	sessionID string
	online    []string
}

// RedisMirror 온라인 집합을 Redis SET으로 복제하고 변경을 pub/sub으로 알린다.
// 갱신은 단일 워커가 순서대로 처리하며, 큐가 가득 차면 버린다.
type RedisMirror struct {
	client   *redis.Client
	serverID string
	updates  chan update
	done     chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewRedisMirror 생성 후 워커 시작
func NewRedisMirror(client *redis.Client, serverID string) *RedisMirror {
	m := &RedisMirror{
		client:   client,
		serverID: serverID,
		updates:  make(chan update, 256),
		done:     make(chan struct{}),
	}
	go m.run()
	return m
}

// Key 생성 유틸
func sessionKey(sessionID string) string {
	return fmt.Sprintf("presence:session:%s", sessionID)
}

// Update 온라인 집합 변경 예약 (non-blocking, Close 이후에는 무시)
func (m *RedisMirror) Update(sessionID string, online []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	select {
	case m.updates <- update{sessionID: sessionID, online: append([]string(nil), online...)}:
	default:
		log.Printf("[Presence] ⚠️ mirror queue full, dropping update for %s", sessionID)
	}
}

func (m *RedisMirror) run() {
	defer close(m.done)
	for u := range m.updates {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := m.apply(ctx, u); err != nil {
			log.Printf("[Presence] mirror update failed for %s: %v", u.sessionID, err)
		}
		cancel()
	}
}

// apply SET 전체 교체 후 상태 발행
func (m *RedisMirror) apply(ctx context.Context, u update) error {
	key := sessionKey(u.sessionID)

	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(u.online) > 0 {
			members := make([]interface{}, len(u.online))
			for i, id := range u.online {
				members[i] = id
			}
			pipe.SAdd(ctx, key, members...)
			pipe.Expire(ctx, key, presenceTTL)
		}
		return nil
	})
	if err != nil {
		return err
	}

	data, err := json.Marshal(PresenceData{
		SessionID: u.sessionID,
		Online:    u.online,
		UpdatedAt: time.Now().Unix(),
		ServerID:  m.serverID,
	})
	if err != nil {
		return err
	}
	return m.client.Publish(ctx, presenceChannel, data).Err()
}

// Online Redis에 복제된 온라인 집합 조회
func (m *RedisMirror) Online(ctx context.Context, sessionID string) ([]string, error) {
	return m.client.SMembers(ctx, sessionKey(sessionID)).Result()
}

// SubscribePresence 상태 변경 이벤트 구독 (채널 반환)
func (m *RedisMirror) SubscribePresence(ctx context.Context) *redis.PubSub {
	return m.client.Subscribe(ctx, presenceChannel)
}

// Watch 다른 서버가 발행한 상태 변경을 fn으로 전달 (ctx 종료 시 반환)
func (m *RedisMirror) Watch(ctx context.Context, fn func(PresenceData)) error {
	pubsub := m.SubscribePresence(ctx)
	defer pubsub.Close()

	// 구독 확인
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var data PresenceData
			if err := json.Unmarshal([]byte(msg.Payload), &data); err != nil {
				log.Printf("[Presence] Invalid presence payload: %v", err)
				continue
			}
			if data.ServerID == m.serverID {
				continue
			}
			fn(data)
		}
	}
}

// Close 워커 종료 (남은 갱신 처리 후 반환, 여러 번 호출 가능)
func (m *RedisMirror) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.updates)
	m.mu.Unlock()
	<-m.done
}
