// Package service 전송 계층이 사용하는 수업 세션 기능 묶음
package service

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/saiproject-202/ClassVibe/internal/apperror"
	"github.com/saiproject-202/ClassVibe/internal/auth"
	"github.com/saiproject-202/ClassVibe/internal/broadcast"
	"github.com/saiproject-202/ClassVibe/internal/engine"
	"github.com/saiproject-202/ClassVibe/internal/model"
	"github.com/saiproject-202/ClassVibe/internal/presence"
	"github.com/saiproject-202/ClassVibe/internal/registry"
	"github.com/saiproject-202/ClassVibe/internal/store"
)

// Options Classroom 구성 옵션
type Options struct {
	Registry registry.Config
	Engine   engine.Config
	Cache    engine.HistoryCache // nil이면 캐시 없이 DB 조회
	Mirror   presence.Mirror     // nil이면 Redis 복제 없음
}

// remoteOnline 다른 서버가 복제한 온라인 집합 조회 (presence.RedisMirror)
type remoteOnline interface {
	Online(ctx context.Context, sessionID string) ([]string, error)
}

// Classroom 세션 레지스트리, presence, 메시지/투표 엔진, router 조합
type Classroom struct {
	store    store.Store
	gate     *auth.Gate
	router   *broadcast.Router
	registry *registry.Registry
	tracker  *presence.Tracker
	engine   *engine.Engine
	remote   remoteOnline
}

// SessionSnapshot 세션 상태 (멤버 + 온라인)
type SessionSnapshot struct {
	Group  *model.Group `json:"group"`
	Online []string     `json:"online"`
}

// NewClassroom Classroom 생성
// router는 프로세스 단위로 하나만 만들어 모든 발행자가 공유한다.
func NewClassroom(s store.Store, gate *auth.Gate, opts Options) *Classroom {
	router := broadcast.NewRouter()
	reg := registry.New(s, gate, router, opts.Registry)
	tracker := presence.NewTracker(reg, router, opts.Mirror)
	eng := engine.New(s, reg, router, opts.Cache, opts.Engine)

	// 세션 종료 시 room과 온라인 집합 정리 (세션 락 안에서 호출됨)
	reg.OnEnd(func(g *model.Group) {
		tracker.DropSession(g.ID)
	})

	c := &Classroom{
		store:    s,
		gate:     gate,
		router:   router,
		registry: reg,
		tracker:  tracker,
		engine:   eng,
	}
	if remote, ok := opts.Mirror.(remoteOnline); ok {
		c.remote = remote
	}
	return c
}

// Registry 세션 레지스트리
func (c *Classroom) Registry() *registry.Registry { return c.registry }

// Engine 메시지/투표 엔진
func (c *Classroom) Engine() *engine.Engine { return c.engine }

// Tracker presence tracker
func (c *Classroom) Tracker() *presence.Tracker { return c.tracker }

// ===== Connections =====

// Connect 연결 등록 (인증 전)
func (c *Classroom) Connect(conn broadcast.Conn) {
	c.router.Register(conn, "")
}

// Authenticate 자격 증명 검증 후 연결 바인딩
func (c *Classroom) Authenticate(ctx context.Context, conn broadcast.Conn, credential string) (*auth.Principal, error) {
	p, err := c.gate.Verify(ctx, credential)
	if err != nil {
		return nil, err
	}
	if err := c.tracker.Bind(conn.ID(), p.ID); err != nil {
		return nil, err
	}
	c.router.Register(conn, p.ID)
	log.Printf("[Classroom] 🔑 Connection %s authenticated as %s", conn.ID(), p.ID)
	return p, nil
}

// Disconnect 연결 종료 정리: 입장한 모든 room에서 퇴장 후 router에서 제거
func (c *Classroom) Disconnect(connID string) {
	c.tracker.Disconnect(connID)
	c.router.Unregister(connID)
}

// EnterRoom 세션 room 입장, 현재 online 목록 반환
func (c *Classroom) EnterRoom(ctx context.Context, connID, sessionID string) ([]string, error) {
	return c.tracker.Enter(ctx, connID, sessionID)
}

// LeaveRoom 세션 room 퇴장
func (c *Classroom) LeaveRoom(connID, sessionID string) error {
	if _, err := c.tracker.Principal(connID); err != nil {
		return err
	}
	c.tracker.Exit(connID, sessionID)
	return nil
}

// Typing 입력 중 상태를 같은 room의 다른 연결에 전달
func (c *Classroom) Typing(connID, sessionID string, typing bool) error {
	principalID, err := c.tracker.Principal(connID)
	if err != nil {
		return err
	}
	if !c.inRoom(connID, sessionID) {
		return apperror.New(apperror.Forbidden, "enter the room before sending typing updates")
	}

	eventType := broadcast.EventUserTyping
	if !typing {
		eventType = broadcast.EventUserStopTyping
	}

	unlock := c.registry.Lock(sessionID)
	defer unlock()
	f := broadcast.Room(broadcast.Event{
		Type:      eventType,
		SessionID: sessionID,
		Payload:   map[string]interface{}{"userId": principalID, "groupId": sessionID},
	})
	f.ExceptConn = connID
	c.router.Publish(sessionID, f)
	return nil
}

func (c *Classroom) inRoom(connID, sessionID string) bool {
	for _, id := range c.tracker.Sessions(connID) {
		if id == sessionID {
			return true
		}
	}
	return false
}

// ===== Sessions =====

// CreateSession 세션 생성
func (c *Classroom) CreateSession(ctx context.Context, admin *auth.Principal, name string) (*model.Group, error) {
	return c.registry.CreateSession(ctx, admin, name)
}

// JoinSession 코드로 참여 (principal 또는 guest 정보)
func (c *Classroom) JoinSession(ctx context.Context, code string, principal *auth.Principal, guest *registry.GuestInfo) (*registry.JoinResult, error) {
	return c.registry.JoinByCode(ctx, code, principal, guest)
}

// Preview 참여 없이 코드로 세션 조회
func (c *Classroom) Preview(ctx context.Context, code string) (*model.Group, error) {
	return c.registry.Preview(ctx, code)
}

// EndSession 세션 종료 (관리자만)
func (c *Classroom) EndSession(ctx context.Context, requesterID, sessionID string) (*model.Group, error) {
	return c.registry.EndSession(ctx, sessionID, requesterID)
}

// Snapshot 세션 상세 (멤버만)
func (c *Classroom) Snapshot(ctx context.Context, viewerID, sessionID string) (*SessionSnapshot, error) {
	g, err := c.registry.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ok, err := c.registry.IsMember(ctx, sessionID, viewerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperror.New(apperror.Forbidden, "you are not a member of this session")
	}
	return &SessionSnapshot{Group: g.Clone(), Online: c.online(ctx, g)}, nil
}

// online 로컬 온라인 집합에 복제된 집합을 합친 결과 (멤버만, 정렬)
func (c *Classroom) online(ctx context.Context, g *model.Group) []string {
	local := c.tracker.Online(g.ID)
	if c.remote == nil || !g.IsActive {
		return local
	}
	remote, err := c.remote.Online(ctx, g.ID)
	if err != nil {
		log.Printf("[Classroom] remote presence lookup failed for %s: %v", g.ID, err)
		return local
	}

	members := make(map[string]bool, len(g.Members)+1)
	members[g.AdminID] = true
	for _, m := range g.Members {
		members[m.UserID] = true
	}
	seen := make(map[string]bool, len(local)+len(remote))
	merged := make([]string, 0, len(local)+len(remote))
	for _, id := range append(local, remote...) {
		if seen[id] || !members[id] {
			continue
		}
		seen[id] = true
		merged = append(merged, id)
	}
	sort.Strings(merged)
	return merged
}

// MySessions 참여 중인 세션 목록
func (c *Classroom) MySessions(ctx context.Context, principalID string) ([]model.Group, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.store.ListGroupsForMember(ctx, principalID)
}

// ===== Messages =====

// SendMessage 메시지 전송
func (c *Classroom) SendMessage(ctx context.Context, senderID, sessionID string, p engine.SendPayload) (*engine.MessageResult, error) {
	return c.engine.Send(ctx, senderID, sessionID, p)
}

// EditMessage 메시지 수정
func (c *Classroom) EditMessage(ctx context.Context, requesterID, messageID, body string) (*engine.MessageResult, error) {
	return c.engine.Edit(ctx, requesterID, messageID, body)
}

// DeleteMessage 메시지 삭제
func (c *Classroom) DeleteMessage(ctx context.Context, requesterID, messageID string) (*engine.MessageResult, error) {
	return c.engine.Delete(ctx, requesterID, messageID)
}

// MarkRead 읽음 처리
func (c *Classroom) MarkRead(ctx context.Context, readerID, messageID string) (bool, error) {
	return c.engine.MarkRead(ctx, readerID, messageID)
}

// History 최근 메시지
func (c *Classroom) History(ctx context.Context, viewerID, sessionID string, limit int) ([]engine.MessageView, error) {
	return c.engine.Recent(ctx, viewerID, sessionID, limit)
}

// Unread 읽지 않은 메시지
func (c *Classroom) Unread(ctx context.Context, viewerID, sessionID string) ([]engine.MessageView, error) {
	return c.engine.Unread(ctx, viewerID, sessionID)
}

// Search 메시지 검색
func (c *Classroom) Search(ctx context.Context, viewerID, sessionID, query string) ([]engine.MessageView, error) {
	return c.engine.Search(ctx, viewerID, sessionID, query)
}

// ===== Polls =====

// CreatePoll 투표 생성
func (c *Classroom) CreatePoll(ctx context.Context, creator *auth.Principal, sessionID string, spec engine.PollSpec) (*engine.PollResult, error) {
	return c.engine.CreatePoll(ctx, creator, sessionID, spec)
}

// Vote 선택형 투표
func (c *Classroom) Vote(ctx context.Context, voterID, pollID string, optionIndex int) (*engine.PollResult, error) {
	return c.engine.Vote(ctx, voterID, pollID, optionIndex)
}

// Answer 주관식 응답
func (c *Classroom) Answer(ctx context.Context, voterID, pollID, text string) (*engine.PollResult, error) {
	return c.engine.Answer(ctx, voterID, pollID, text)
}

// ClosePoll 투표 마감
func (c *Classroom) ClosePoll(ctx context.Context, requesterID, pollID string) (*engine.PollResult, error) {
	return c.engine.Close(ctx, requesterID, pollID)
}

// PollResults 투표 결과
func (c *Classroom) PollResults(ctx context.Context, viewerID, pollID string) (*engine.PollResults, error) {
	return c.engine.Results(ctx, viewerID, pollID)
}

// ListPolls 세션 투표 목록
func (c *Classroom) ListPolls(ctx context.Context, viewerID, sessionID string, activeOnly bool) ([]engine.PollResults, error) {
	return c.engine.ListPolls(ctx, viewerID, sessionID, activeOnly)
}

// ===== Uploads =====

// RegisterUpload 업로드된 파일 기록
func (c *Classroom) RegisterUpload(ctx context.Context, u *model.Upload) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.store.CreateUpload(ctx, u)
}

// ===== Maintenance =====

// SweepResult 정리 작업 결과
type SweepResult struct {
	ClosedPolls   int
	EndedSessions int
	StaleSessions []model.Group
}

// Sweep 만료 투표 마감 및 오래된 활성 세션 종료 (dryRun이면 대상만 조회)
func (c *Classroom) Sweep(ctx context.Context, maxAge time.Duration, dryRun bool) (*SweepResult, error) {
	res := &SweepResult{}
	if !dryRun {
		n, err := c.engine.CloseExpired(ctx)
		if err != nil {
			return res, err
		}
		res.ClosedPolls = n
	}

	if maxAge <= 0 {
		return res, nil
	}
	stale, err := c.store.ListStaleGroups(ctx, time.Now().Add(-maxAge))
	if err != nil {
		return res, err
	}
	res.StaleSessions = stale
	if dryRun {
		return res, nil
	}
	for _, g := range stale {
		if _, err := c.registry.EndSession(ctx, g.ID, g.AdminID); err != nil {
			if apperror.KindOf(err) == apperror.SessionEnded {
				continue
			}
			return res, err
		}
		res.EndedSessions++
	}
	return res, nil
}
