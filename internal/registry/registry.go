// Package registry 수업 세션(그룹)의 생성/참여/종료와 멤버십을 관리한다.
package registry

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/saiproject-202/ClassVibe/internal/apperror"
	"github.com/saiproject-202/ClassVibe/internal/auth"
	"github.com/saiproject-202/ClassVibe/internal/broadcast"
	"github.com/saiproject-202/ClassVibe/internal/model"
	"github.com/saiproject-202/ClassVibe/internal/store"
)

var codePattern = regexp.MustCompile(`^\d{6}$`)

// Config Registry 설정
type Config struct {
	CodeMaxAttempts int
	OpTimeout       time.Duration
	MaxNameLength   int
}

// Minter 게스트 자격 증명 발급
type Minter interface {
	Mint(user *model.User) (string, error)
}

// GuestInfo 비로그인 참여자 정보
type GuestInfo struct {
	Name  string
	Email string
}

// JoinResult 참여 결과
type JoinResult struct {
	Group     *model.Group
	User      *model.User // 게스트로 생성/조회된 사용자 (인증 참여면 nil)
	Token     string      // 게스트에게 발급된 자격 증명
	NewMember bool
}

// Registry 세션 레지스트리
type Registry struct {
	store   store.Store
	minter  Minter
	pub     broadcast.Publisher
	cfg     Config
	genCode func() string

	// 세션 캐시 (leaf lock)
	mu       sync.RWMutex
	sessions map[string]*model.Group

	// 세션별 도메인 락 (참조 카운트가 0이 되면 제거)
	locksMu sync.Mutex
	locks   map[string]*sessionLock

	allocMu sync.Mutex
	onEnd   []func(g *model.Group)
}

// New Registry 생성
func New(s store.Store, minter Minter, pub broadcast.Publisher, cfg Config) *Registry {
	if cfg.CodeMaxAttempts <= 0 {
		cfg.CodeMaxAttempts = 8
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 5 * time.Second
	}
	if cfg.MaxNameLength <= 0 {
		cfg.MaxNameLength = 100
	}
	if pub == nil {
		pub = broadcast.Discard{}
	}
	return &Registry{
		store:    s,
		minter:   minter,
		pub:      pub,
		cfg:      cfg,
		genCode:  randomCode,
		sessions: make(map[string]*model.Group),
		locks:    make(map[string]*sessionLock),
	}
}

// SetCodeGenerator 코드 생성기 교체 (테스트용)
func (r *Registry) SetCodeGenerator(gen func() string) {
	r.genCode = gen
}

// OnEnd 세션 종료 시 도메인 락 안에서 호출될 훅 등록
func (r *Registry) OnEnd(fn func(g *model.Group)) {
	r.onEnd = append(r.onEnd, fn)
}

// randomCode 6자리 숫자 코드 (앞자리 0 허용)
func randomCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		panic(err)
	}
	return fmt.Sprintf("%06d", n.Int64())
}

// NormalizeCode 공백 제거 후 형식 검증
func NormalizeCode(code string) (string, error) {
	code = strings.Join(strings.Fields(code), "")
	if !codePattern.MatchString(code) {
		return "", apperror.New(apperror.InvalidInput, "PIN must be exactly 6 digits")
	}
	return code, nil
}

// sessionLock 세션 도메인 락과 대기 중인 보유자 수
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// Lock 세션 도메인 락 획득, 해제 함수 반환
func (r *Registry) Lock(sessionID string) func() {
	r.locksMu.Lock()
	l, ok := r.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		r.locks[sessionID] = l
	}
	l.refs++
	r.locksMu.Unlock()

	l.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()
			r.locksMu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(r.locks, sessionID)
			}
			r.locksMu.Unlock()
		})
	}
}

func (r *Registry) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.cfg.OpTimeout)
}

// Session 세션 스냅샷 조회 (캐시 우선)
func (r *Registry) Session(ctx context.Context, sessionID string) (*model.Group, error) {
	r.mu.RLock()
	g, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if ok {
		return g.Clone(), nil
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	g, err := r.store.GetGroup(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	// 락 없이 읽은 값이므로 도메인 락 안에서 기록된 값을 덮어쓰지 않는다
	r.mu.Lock()
	if cached, ok := r.sessions[sessionID]; ok {
		g = cached
	} else {
		r.sessions[sessionID] = g.Clone()
	}
	r.mu.Unlock()
	return g.Clone(), nil
}

// cache 도메인 락 안에서만 호출
func (r *Registry) cache(g *model.Group) {
	r.mu.Lock()
	r.sessions[g.ID] = g.Clone()
	r.mu.Unlock()
}

// CreateSession 새 세션 생성 (생성자가 관리자)
func (r *Registry) CreateSession(ctx context.Context, admin *auth.Principal, name string) (*model.Group, error) {
	if admin == nil {
		return nil, apperror.New(apperror.Unauthenticated, "authentication required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperror.New(apperror.InvalidInput, "group name is required")
	}
	if len([]rune(name)) > r.cfg.MaxNameLength {
		return nil, apperror.Newf(apperror.InvalidInput, "group name must be at most %d characters", r.cfg.MaxNameLength)
	}
	if !admin.Role.CanModerate() {
		return nil, apperror.New(apperror.Forbidden, "only teachers can create sessions")
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	// 코드 할당과 저장을 직렬화해 활성 세션 간 코드 중복 방지
	r.allocMu.Lock()
	defer r.allocMu.Unlock()

	code, err := r.allocateCode(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	id := uuid.NewString()
	g := &model.Group{
		ID:        id,
		Name:      name,
		Code:      code,
		AdminID:   admin.ID,
		IsActive:  true,
		CreatedAt: now,
		Members:   []model.GroupMember{{GroupID: id, UserID: admin.ID, JoinedAt: now}},
	}
	if err := r.store.CreateGroup(ctx, g); err != nil {
		return nil, err
	}
	r.cache(g)

	log.Printf("[Registry] 📚 Session created: %s (%s) by %s", g.Name, g.Code, admin.ID)
	return g.Clone(), nil
}

// allocateCode 활성 세션과 겹치지 않는 코드를 제한된 횟수 안에서 추첨
func (r *Registry) allocateCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < r.cfg.CodeMaxAttempts; attempt++ {
		code := r.genCode()
		_, err := r.store.FindGroupByCode(ctx, code, true)
		if apperror.KindOf(err) == apperror.NotFound {
			return code, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", apperror.Newf(apperror.ResourceExhausted, "could not allocate a free session code after %d attempts", r.cfg.CodeMaxAttempts)
}

// JoinByCode 코드로 세션 참여
// principal이 없으면 guest(이름+이메일)로 사용자를 조회/생성하고 자격 증명을 발급한다.
func (r *Registry) JoinByCode(ctx context.Context, code string, principal *auth.Principal, guest *GuestInfo) (*JoinResult, error) {
	code, err := NormalizeCode(code)
	if err != nil {
		return nil, err
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	g, err := r.findByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !g.IsActive {
		return nil, apperror.New(apperror.SessionEnded, "This session has ended")
	}

	var pending *guestDraft
	if principal == nil {
		if guest == nil || strings.TrimSpace(guest.Name) == "" || strings.TrimSpace(guest.Email) == "" {
			return nil, apperror.New(apperror.InvalidInput, "name and email are required to join as a guest")
		}
		pending, err = r.prepareGuest(ctx, guest)
		if err != nil {
			return nil, err
		}
	}

	unlock := r.Lock(g.ID)
	defer unlock()

	// 락 획득 전 종료되었을 수 있으므로 다시 확인
	current, err := r.Session(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	if !current.IsActive {
		return nil, apperror.New(apperror.SessionEnded, "This session has ended")
	}

	result := &JoinResult{}
	if pending != nil {
		user, err := r.provisionGuest(ctx, pending)
		if err != nil {
			return nil, err
		}
		principal = auth.PrincipalFromUser(user)
		result.User = user
	}

	result.Group, result.NewMember, err = r.addMember(ctx, current, principal)
	if err != nil {
		return nil, err
	}

	// 자격 증명은 멤버십이 확정된 뒤 게스트에게만 발급
	if result.User != nil {
		token, err := r.minter.Mint(result.User)
		if err != nil {
			return nil, apperror.Wrap(apperror.Internal, "mint guest credential", err)
		}
		result.Token = token
	}
	return result, nil
}

// addMember 도메인 락 안에서 호출, 이미 멤버면 그대로 반환
func (r *Registry) addMember(ctx context.Context, current *model.Group, principal *auth.Principal) (*model.Group, bool, error) {
	if isMember(current, principal.ID) {
		return current, false, nil
	}

	m := model.GroupMember{GroupID: current.ID, UserID: principal.ID, JoinedAt: time.Now()}
	if err := r.store.AddMember(ctx, &m); err != nil {
		if apperror.KindOf(err) != apperror.Conflict {
			return nil, false, err
		}
		// 다른 인스턴스가 먼저 추가한 경우: 저장소 상태로 캐시 갱신
		fresh, gerr := r.store.GetGroup(ctx, current.ID)
		if gerr != nil {
			return nil, false, gerr
		}
		r.cache(fresh)
		return fresh.Clone(), false, nil
	}

	current.Members = append(current.Members, m)
	r.cache(current)

	r.pub.Publish(current.ID, broadcast.Room(broadcast.Event{
		Type:      broadcast.EventMemberJoined,
		SessionID: current.ID,
		Payload: map[string]interface{}{
			"user":     map[string]interface{}{"id": principal.ID, "name": principal.Name, "role": principal.Role},
			"joinedAt": m.JoinedAt,
		},
	}))
	log.Printf("[Registry] 👋 %s joined session %s", principal.ID, current.ID)
	return current.Clone(), true, nil
}

// Preview 참여 없이 세션 기본 정보 조회
func (r *Registry) Preview(ctx context.Context, code string) (*model.Group, error) {
	code, err := NormalizeCode(code)
	if err != nil {
		return nil, err
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.findByCode(ctx, code)
}

// findByCode 활성 세션 우선, 없으면 종료된 세션 조회
func (r *Registry) findByCode(ctx context.Context, code string) (*model.Group, error) {
	g, err := r.store.FindGroupByCode(ctx, code, true)
	if apperror.KindOf(err) == apperror.NotFound {
		g, err = r.store.FindGroupByCode(ctx, code, false)
	}
	if err != nil {
		if apperror.KindOf(err) == apperror.NotFound {
			return nil, apperror.Wrap(apperror.NotFound, "Invalid PIN. Group not found.", err)
		}
		return nil, err
	}
	return g, nil
}

// EndSession 세션 종료 (관리자만, 되돌릴 수 없음)
func (r *Registry) EndSession(ctx context.Context, sessionID, requesterID string) (*model.Group, error) {
	unlock := r.Lock(sessionID)
	defer unlock()

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	g, err := r.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if g.AdminID != requesterID {
		return nil, apperror.New(apperror.Forbidden, "only the session admin can end the session")
	}
	if !g.IsActive {
		return nil, apperror.New(apperror.SessionEnded, "This session has ended")
	}

	now := time.Now()
	g.IsActive = false
	g.EndedAt = &now
	if err := r.store.UpdateGroup(ctx, g); err != nil {
		return nil, err
	}
	r.cache(g)

	r.pub.Publish(g.ID, broadcast.Room(broadcast.Event{
		Type:      broadcast.EventSessionEnded,
		SessionID: g.ID,
		Payload:   map[string]interface{}{"groupId": g.ID, "endedAt": now},
	}))
	for _, fn := range r.onEnd {
		fn(g.Clone())
	}

	log.Printf("[Registry] 🛑 Session ended: %s", g.ID)
	return g.Clone(), nil
}

// IsMember 멤버 여부
func (r *Registry) IsMember(ctx context.Context, sessionID, principalID string) (bool, error) {
	g, err := r.Session(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return isMember(g, principalID), nil
}

// IsAdmin 관리자 여부
func (r *Registry) IsAdmin(ctx context.Context, sessionID, principalID string) (bool, error) {
	g, err := r.Session(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return g.AdminID == principalID, nil
}

// CheckActiveMember 활성 세션의 멤버인지 확인 (종료: SessionEnded, 비멤버: Forbidden)
func (r *Registry) CheckActiveMember(ctx context.Context, sessionID, principalID string) (*model.Group, error) {
	g, err := r.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !g.IsActive {
		return nil, apperror.New(apperror.SessionEnded, "This session has ended")
	}
	if !isMember(g, principalID) {
		return nil, apperror.New(apperror.Forbidden, "you are not a member of this session")
	}
	return g, nil
}

func isMember(g *model.Group, principalID string) bool {
	if g.AdminID == principalID {
		return true
	}
	for _, m := range g.Members {
		if m.UserID == principalID {
			return true
		}
	}
	return false
}
