// Package engine 메시지/투표 상태 전이와 fan-out 대상 계산
package engine

import (
	"context"
	"time"

	"github.com/saiproject-202/ClassVibe/internal/broadcast"
	"github.com/saiproject-202/ClassVibe/internal/model"
	"github.com/saiproject-202/ClassVibe/internal/store"
)

// Sessions Engine이 참조하는 세션 레지스트리 기능 (읽기 전용 + 도메인 락)
type Sessions interface {
	Lock(sessionID string) func()
	Session(ctx context.Context, sessionID string) (*model.Group, error)
	CheckActiveMember(ctx context.Context, sessionID, principalID string) (*model.Group, error)
}

// HistoryCache 최근 메시지 캐시 (Redis)
type HistoryCache interface {
	Append(ctx context.Context, groupID string, m *model.Message)
	Fill(ctx context.Context, groupID string, msgs []model.Message)
	Recent(ctx context.Context, groupID string, limit int) ([]model.Message, bool)
	Invalidate(ctx context.Context, groupID string)
}

// Config Engine 설정
type Config struct {
	MaxBodyLength     int
	MaxQuestionLength int
	MaxOptionLength   int
	MaxAnswerLength   int
	MaxOptions        int
	PollLifetime      time.Duration
	OpTimeout         time.Duration
	HistoryLimit      int
	SearchLimit       int
}

// DefaultConfig 기본 설정
func DefaultConfig() Config {
	return Config{
		MaxBodyLength:     5000,
		MaxQuestionLength: 500,
		MaxOptionLength:   200,
		MaxAnswerLength:   1000,
		MaxOptions:        20,
		PollLifetime:      24 * time.Hour,
		OpTimeout:         5 * time.Second,
		HistoryLimit:      100,
		SearchLimit:       50,
	}
}

// Engine 메시지/투표 엔진
// 모든 변경은 세션 도메인 락 안에서 수행되고, 이벤트도 락 안에서 발행해 세션 내 순서를 보장한다.
type Engine struct {
	store    store.Store
	sessions Sessions
	pub      broadcast.Publisher
	cache    HistoryCache
	cfg      Config
	now      func() time.Time
}

// New Engine 생성 (cache는 nil 가능)
func New(s store.Store, sessions Sessions, pub broadcast.Publisher, cache HistoryCache, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.MaxBodyLength <= 0 {
		cfg.MaxBodyLength = def.MaxBodyLength
	}
	if cfg.MaxQuestionLength <= 0 {
		cfg.MaxQuestionLength = def.MaxQuestionLength
	}
	if cfg.MaxOptionLength <= 0 {
		cfg.MaxOptionLength = def.MaxOptionLength
	}
	if cfg.MaxAnswerLength <= 0 {
		cfg.MaxAnswerLength = def.MaxAnswerLength
	}
	if cfg.MaxOptions <= 0 {
		cfg.MaxOptions = def.MaxOptions
	}
	if cfg.PollLifetime <= 0 {
		cfg.PollLifetime = def.PollLifetime
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = def.OpTimeout
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = def.SearchLimit
	}
	if pub == nil {
		pub = broadcast.Discard{}
	}
	return &Engine{
		store:    s,
		sessions: sessions,
		pub:      pub,
		cache:    cache,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetClock 시간 함수 교체 (테스트용)
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.OpTimeout)
}

// publish 발행 후 Fanout 반환 (세션 도메인 락 안에서 호출)
func (e *Engine) publish(sessionID string, f broadcast.Fanout) broadcast.Fanout {
	f.Event.SessionID = sessionID
	e.pub.Publish(sessionID, f)
	return f
}

// messageFanout 귓속말은 두 참여자에게만, 나머지는 room 전체
func messageFanout(m *model.Message, ev broadcast.Event) broadcast.Fanout {
	if m.IsPrivate() {
		return broadcast.To(ev, m.SenderID, *m.RecipientID)
	}
	return broadcast.Room(ev)
}
