package broadcast

import (
	"log"
	"sync"
)

// Conn 이벤트를 받을 수 있는 라이브 연결
// Send는 블로킹하지 않아야 하며, 큐가 가득 차거나 닫힌 경우 에러를 반환한다.
type Conn interface {
	ID() string
	Send(e Event) error
}

// room 세션 하나의 구독 그룹
type room struct {
	mu    sync.Mutex // 발행 순서 보장
	conns map[string]struct{}
}

// Router 세션별 room 관리 및 이벤트 전달
type Router struct {
	mu         sync.RWMutex
	conns      map[string]Conn   // connID -> Conn
	principals map[string]string // connID -> principalID
	rooms      map[string]*room  // sessionID -> room
}

// NewRouter Router 생성
func NewRouter() *Router {
	return &Router{
		conns:      make(map[string]Conn),
		principals: make(map[string]string),
		rooms:      make(map[string]*room),
	}
}

// Register 연결 등록
func (r *Router) Register(conn Conn, principalID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[conn.ID()] = conn
	r.principals[conn.ID()] = principalID
}

// Unregister 연결 해제 (모든 room에서 제거)
func (r *Router) Unregister(connID string) {
	r.mu.Lock()
	delete(r.conns, connID)
	delete(r.principals, connID)
	rooms := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.Unlock()

	for _, rm := range rooms {
		rm.mu.Lock()
		delete(rm.conns, connID)
		rm.mu.Unlock()
	}
}

// Subscribe 연결을 세션 room에 추가
func (r *Router) Subscribe(sessionID, connID string) {
	rm := r.room(sessionID, true)
	rm.mu.Lock()
	rm.conns[connID] = struct{}{}
	rm.mu.Unlock()
}

// Unsubscribe 연결을 세션 room에서 제거
func (r *Router) Unsubscribe(sessionID, connID string) {
	rm := r.room(sessionID, false)
	if rm == nil {
		return
	}
	rm.mu.Lock()
	delete(rm.conns, connID)
	rm.mu.Unlock()
}

// CloseRoom room 제거 (세션 종료 시)
func (r *Router) CloseRoom(sessionID string) {
	r.mu.Lock()
	delete(r.rooms, sessionID)
	r.mu.Unlock()
}

// Subscribers room에 구독 중인 연결 ID 목록
func (r *Router) Subscribers(sessionID string) []string {
	rm := r.room(sessionID, false)
	if rm == nil {
		return nil
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	ids := make([]string, 0, len(rm.conns))
	for id := range rm.conns {
		ids = append(ids, id)
	}
	return ids
}

func (r *Router) room(sessionID string, create bool) *room {
	r.mu.RLock()
	rm, ok := r.rooms[sessionID]
	r.mu.RUnlock()
	if ok || !create {
		return rm
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok = r.rooms[sessionID]; !ok {
		rm = &room{conns: make(map[string]struct{})}
		r.rooms[sessionID] = rm
	}
	return rm
}

// Publish 세션 room에 이벤트 전달, 전달 성공한 연결 수 반환
// 한 연결의 전달 실패는 다른 연결에 영향을 주지 않으며 재시도하지 않는다.
func (r *Router) Publish(sessionID string, f Fanout) int {
	rm := r.room(sessionID, false)
	if rm == nil {
		return 0
	}

	var allowed map[string]struct{}
	if f.Recipients != nil {
		allowed = make(map[string]struct{}, len(f.Recipients))
		for _, id := range f.Recipients {
			allowed[id] = struct{}{}
		}
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	delivered := 0
	for connID := range rm.conns {
		if connID == f.ExceptConn {
			continue
		}

		r.mu.RLock()
		conn, ok := r.conns[connID]
		principalID := r.principals[connID]
		r.mu.RUnlock()
		if !ok {
			continue
		}

		if allowed != nil {
			if _, ok := allowed[principalID]; !ok {
				continue
			}
		}

		if err := conn.Send(f.Event); err != nil {
			log.Printf("[Router] drop %s to conn %s: %v", f.Event.Type, connID, err)
			continue
		}
		delivered++
	}
	return delivered
}
