// Package presence 연결-사용자-세션 매핑과 세션별 온라인 집합
package presence

import (
	"context"
	"log"
	"sort"
	"sync"

	"github.com/saiproject-202/ClassVibe/internal/apperror"
	"github.com/saiproject-202/ClassVibe/internal/broadcast"
	"github.com/saiproject-202/ClassVibe/internal/model"
)

// Sessions Tracker가 사용하는 세션 레지스트리 기능
type Sessions interface {
	Lock(sessionID string) func()
	Session(ctx context.Context, sessionID string) (*model.Group, error)
	CheckActiveMember(ctx context.Context, sessionID, principalID string) (*model.Group, error)
}

// Subscriptions room 구독 관리 (broadcast.Router)
type Subscriptions interface {
	broadcast.Publisher
	Subscribe(sessionID, connID string)
	Unsubscribe(sessionID, connID string)
	CloseRoom(sessionID string)
}

// Mirror 온라인 집합 외부 복제 (Redis)
type Mirror interface {
	Update(sessionID string, online []string)
}

// binding 연결 하나의 바인딩 정보
type binding struct {
	principalID string
	sessions    map[string]struct{}
}

// Tracker Presence Tracker
// 세션별 online 집합의 유일한 writer이며, 변경은 해당 세션의 도메인 락 안에서 일어난다.
type Tracker struct {
	sessions Sessions
	rooms    Subscriptions
	mirror   Mirror

	mu       sync.Mutex
	bindings map[string]*binding                       // connID -> binding
	online   map[string]map[string]map[string]struct{} // sessionID -> principalID -> connIDs
}

// NewTracker Tracker 생성 (mirror는 nil 가능)
func NewTracker(sessions Sessions, rooms Subscriptions, mirror Mirror) *Tracker {
	return &Tracker{
		sessions: sessions,
		rooms:    rooms,
		mirror:   mirror,
		bindings: make(map[string]*binding),
		online:   make(map[string]map[string]map[string]struct{}),
	}
}

// Bind 인증된 연결을 principal에 연결
func (t *Tracker) Bind(connID, principalID string) error {
	if principalID == "" {
		return apperror.New(apperror.Unauthenticated, "authentication required")
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if b, ok := t.bindings[connID]; ok {
		if b.principalID == principalID {
			return nil
		}
		if len(b.sessions) > 0 {
			return apperror.New(apperror.Conflict, "leave all rooms before switching identity")
		}
		b.principalID = principalID
		return nil
	}
	t.bindings[connID] = &binding{principalID: principalID, sessions: make(map[string]struct{})}
	return nil
}

// Principal 연결에 바인딩된 principal (없으면 Unauthenticated)
func (t *Tracker) Principal(connID string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.bindings[connID]
	if !ok {
		return "", apperror.New(apperror.Unauthenticated, "connection is not authenticated")
	}
	return b.principalID, nil
}

// Enter 세션 room 입장: 멤버십 확인 후 online 집합에 추가
func (t *Tracker) Enter(ctx context.Context, connID, sessionID string) ([]string, error) {
	principalID, err := t.Principal(connID)
	if err != nil {
		return nil, err
	}

	if _, err := t.sessions.Session(ctx, sessionID); err != nil {
		return nil, err
	}

	unlock := t.sessions.Lock(sessionID)
	defer unlock()

	if _, err := t.sessions.CheckActiveMember(ctx, sessionID, principalID); err != nil {
		if apperror.KindOf(err) == apperror.SessionEnded {
			return nil, apperror.Wrap(apperror.Forbidden, "This session has ended", err)
		}
		return nil, err
	}

	t.mu.Lock()
	b, ok := t.bindings[connID]
	if !ok {
		// 검증 도중 연결이 끊긴 경우
		t.mu.Unlock()
		return nil, apperror.New(apperror.Unauthenticated, "connection is not authenticated")
	}
	b.sessions[sessionID] = struct{}{}
	principals, ok := t.online[sessionID]
	if !ok {
		principals = make(map[string]map[string]struct{})
		t.online[sessionID] = principals
	}
	conns, ok := principals[principalID]
	if !ok {
		conns = make(map[string]struct{})
		principals[principalID] = conns
	}
	conns[connID] = struct{}{}
	online := t.onlineLocked(sessionID)
	t.mu.Unlock()

	t.rooms.Subscribe(sessionID, connID)
	t.publish(sessionID, online)
	return online, nil
}

// Exit 세션 room 퇴장: 같은 principal의 다른 연결이 남아 있으면 online 유지
func (t *Tracker) Exit(connID, sessionID string) {
	unlock := t.sessions.Lock(sessionID)
	defer unlock()

	if online, changed := t.remove(connID, sessionID); changed {
		t.rooms.Unsubscribe(sessionID, connID)
		t.publish(sessionID, online)
	}
}

// Disconnect 연결 종료: 입장한 모든 세션에서 퇴장 후 바인딩 해제
func (t *Tracker) Disconnect(connID string) {
	t.mu.Lock()
	b, ok := t.bindings[connID]
	var sessions []string
	if ok {
		for id := range b.sessions {
			sessions = append(sessions, id)
		}
	}
	t.mu.Unlock()

	for _, sessionID := range sessions {
		t.Exit(connID, sessionID)
	}

	t.mu.Lock()
	delete(t.bindings, connID)
	t.mu.Unlock()
}

// DropSession 종료된 세션의 online 집합과 room 정리 (세션 도메인 락 안에서 호출)
func (t *Tracker) DropSession(sessionID string) {
	t.mu.Lock()
	for _, conns := range t.online[sessionID] {
		for connID := range conns {
			if b, ok := t.bindings[connID]; ok {
				delete(b.sessions, sessionID)
			}
		}
	}
	delete(t.online, sessionID)
	t.mu.Unlock()

	t.rooms.CloseRoom(sessionID)
	if t.mirror != nil {
		t.mirror.Update(sessionID, nil)
	}
	log.Printf("[Presence] Session %s closed, presence cleared", sessionID)
}

// Online 세션의 온라인 principal 목록 (정렬)
func (t *Tracker) Online(sessionID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.onlineLocked(sessionID)
}

// IsOnline principal 온라인 여부
func (t *Tracker) IsOnline(sessionID, principalID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.online[sessionID][principalID]
	return ok
}

// Sessions 연결이 입장한 세션 목록
func (t *Tracker) Sessions(connID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.bindings[connID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(b.sessions))
	for id := range b.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// remove online 집합에서 연결 제거, 연결이 해당 세션에 있었는지 반환
func (t *Tracker) remove(connID, sessionID string) ([]string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.bindings[connID]
	if !ok {
		return nil, false
	}
	if _, in := b.sessions[sessionID]; !in {
		return nil, false
	}
	delete(b.sessions, sessionID)

	if principals, ok := t.online[sessionID]; ok {
		if conns, ok := principals[b.principalID]; ok {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(principals, b.principalID)
			}
		}
		if len(principals) == 0 {
			delete(t.online, sessionID)
		}
	}
	return t.onlineLocked(sessionID), true
}

func (t *Tracker) onlineLocked(sessionID string) []string {
	principals := t.online[sessionID]
	out := make([]string, 0, len(principals))
	for id := range principals {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// publish presenceChanged 이벤트 발행 (세션 도메인 락 안에서 호출)
func (t *Tracker) publish(sessionID string, online []string) {
	t.rooms.Publish(sessionID, broadcast.Room(broadcast.Event{
		Type:      broadcast.EventPresenceChanged,
		SessionID: sessionID,
		Payload:   map[string]interface{}{"online": online},
	}))
	if t.mirror != nil {
		t.mirror.Update(sessionID, online)
	}
}
