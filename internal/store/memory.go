package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/saiproject-202/ClassVibe/internal/apperror"
	"github.com/saiproject-202/ClassVibe/internal/model"
)

// MemoryStore 메모리 기반 Store 구현 (테스트, 로컬 실행용)
type MemoryStore struct {
	mu sync.RWMutex

	users    map[string]*model.User
	groups   map[string]*model.Group
	messages map[string]*model.Message
	polls    map[string]*model.Poll
	uploads  map[string]*model.Upload

	groupMessages map[string][]string // groupID -> 생성 순 messageID
	nextMemberID  int64
}

// NewMemoryStore MemoryStore 생성
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]*model.User),
		groups:        make(map[string]*model.Group),
		messages:      make(map[string]*model.Message),
		polls:         make(map[string]*model.Poll),
		uploads:       make(map[string]*model.Upload),
		groupMessages: make(map[string][]string),
	}
}

// check 컨텍스트 만료 확인
func check(ctx context.Context, entity string) error {
	if err := ctx.Err(); err != nil {
		return apperror.Wrap(apperror.Timeout, entity+" store call timed out", err)
	}
	return nil
}

// ===== Users =====

func (s *MemoryStore) CreateUser(ctx context.Context, u *model.User) error {
	if err := check(ctx, "user"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; ok {
		return duplicate("user")
	}
	for _, existing := range s.users {
		if existing.Email == u.Email || existing.Username == u.Username {
			return duplicate("user")
		}
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	if err := check(ctx, "user"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, notFound("user")
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.findUser(ctx, func(u *model.User) bool { return u.Email == strings.ToLower(email) })
}

func (s *MemoryStore) FindUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.findUser(ctx, func(u *model.User) bool { return u.Username == username })
}

func (s *MemoryStore) findUser(ctx context.Context, match func(*model.User) bool) (*model.User, error) {
	if err := check(ctx, "user"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, notFound("user")
}

// UpdateUserRole 사용자 역할 변경
func (s *MemoryStore) UpdateUserRole(ctx context.Context, id string, role model.Role) error {
	if err := check(ctx, "user"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return notFound("user")
	}
	u.Role = role
	return nil
}

// ===== Groups =====

func (s *MemoryStore) CreateGroup(ctx context.Context, g *model.Group) error {
	if err := check(ctx, "group"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[g.ID]; ok {
		return duplicate("group")
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	for i := range g.Members {
		s.nextMemberID++
		g.Members[i].ID = s.nextMemberID
	}
	s.groups[g.ID] = g.Clone()
	return nil
}

func (s *MemoryStore) GetGroup(ctx context.Context, id string) (*model.Group, error) {
	if err := check(ctx, "group"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[id]
	if !ok {
		return nil, notFound("group")
	}
	return g.Clone(), nil
}

func (s *MemoryStore) UpdateGroup(ctx context.Context, g *model.Group) error {
	if err := check(ctx, "group"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.groups[g.ID]
	if !ok {
		return notFound("group")
	}
	// 멤버 목록은 AddMember로만 변경
	existing.Name = g.Name
	existing.IsActive = g.IsActive
	if g.EndedAt != nil {
		t := *g.EndedAt
		existing.EndedAt = &t
	} else {
		existing.EndedAt = nil
	}
	return nil
}

func (s *MemoryStore) FindGroupByCode(ctx context.Context, code string, activeOnly bool) (*model.Group, error) {
	if err := check(ctx, "group"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *model.Group
	for _, g := range s.groups {
		if g.Code != code || (activeOnly && !g.IsActive) {
			continue
		}
		if found == nil || g.CreatedAt.After(found.CreatedAt) {
			found = g
		}
	}
	if found == nil {
		return nil, notFound("group")
	}
	return found.Clone(), nil
}

func (s *MemoryStore) ListGroupsForMember(ctx context.Context, userID string) ([]model.Group, error) {
	if err := check(ctx, "group"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Group
	for _, g := range s.groups {
		for _, m := range g.Members {
			if m.UserID == userID {
				cp := g.Clone()
				cp.Members = nil
				out = append(out, *cp)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListStaleGroups(ctx context.Context, createdBefore time.Time) ([]model.Group, error) {
	if err := check(ctx, "group"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Group
	for _, g := range s.groups {
		if g.IsActive && g.CreatedAt.Before(createdBefore) {
			cp := g.Clone()
			cp.Members = nil
			out = append(out, *cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) AddMember(ctx context.Context, m *model.GroupMember) error {
	if err := check(ctx, "membership"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[m.GroupID]
	if !ok {
		return notFound("group")
	}
	for _, existing := range g.Members {
		if existing.UserID == m.UserID {
			return duplicate("membership")
		}
	}
	s.nextMemberID++
	m.ID = s.nextMemberID
	g.Members = append(g.Members, *m)
	return nil
}

// ===== Messages =====

func (s *MemoryStore) CreateMessage(ctx context.Context, m *model.Message) error {
	if err := check(ctx, "message"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[m.ID]; ok {
		return duplicate("message")
	}
	s.messages[m.ID] = m.Clone()
	s.groupMessages[m.GroupID] = append(s.groupMessages[m.GroupID], m.ID)
	return nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	if err := check(ctx, "message"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, notFound("message")
	}
	return m.Clone(), nil
}

func (s *MemoryStore) UpdateMessage(ctx context.Context, m *model.Message) error {
	if err := check(ctx, "message"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[m.ID]; !ok {
		return notFound("message")
	}
	s.messages[m.ID] = m.Clone()
	return nil
}

func (s *MemoryStore) ListRecentMessages(ctx context.Context, groupID string, limit int) ([]model.Message, error) {
	if err := check(ctx, "message"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.groupMessages[groupID]
	if limit > 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	out := make([]model.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.messages[id].Clone())
	}
	return out, nil
}

func (s *MemoryStore) ListGroupMessages(ctx context.Context, groupID string) ([]model.Message, error) {
	return s.ListRecentMessages(ctx, groupID, 0)
}

func (s *MemoryStore) SearchMessages(ctx context.Context, groupID, query string, limit int) ([]model.Message, error) {
	if err := check(ctx, "message"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(query)
	ids := s.groupMessages[groupID]
	var out []model.Message
	// 최신 순
	for i := len(ids) - 1; i >= 0; i-- {
		m := s.messages[ids[i]]
		if m.IsDeleted || !strings.Contains(strings.ToLower(m.Body), needle) {
			continue
		}
		out = append(out, *m.Clone())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ===== Polls =====

func (s *MemoryStore) CreatePoll(ctx context.Context, p *model.Poll) error {
	if err := check(ctx, "poll"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.polls[p.ID]; ok {
		return duplicate("poll")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	s.polls[p.ID] = p.Clone()
	return nil
}

func (s *MemoryStore) GetPoll(ctx context.Context, id string) (*model.Poll, error) {
	if err := check(ctx, "poll"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.polls[id]
	if !ok {
		return nil, notFound("poll")
	}
	return p.Clone(), nil
}

func (s *MemoryStore) UpdatePoll(ctx context.Context, p *model.Poll) error {
	if err := check(ctx, "poll"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.polls[p.ID]; !ok {
		return notFound("poll")
	}
	s.polls[p.ID] = p.Clone()
	return nil
}

func (s *MemoryStore) ListPolls(ctx context.Context, groupID string, activeOnly bool) ([]model.Poll, error) {
	if err := check(ctx, "poll"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Poll
	for _, p := range s.polls {
		if p.GroupID == groupID && (!activeOnly || p.IsActive) {
			out = append(out, *p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListExpiredPolls(ctx context.Context, now time.Time) ([]model.Poll, error) {
	if err := check(ctx, "poll"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Poll
	for _, p := range s.polls {
		if p.IsActive && p.IsExpired(now) {
			out = append(out, *p.Clone())
		}
	}
	return out, nil
}

// ===== Uploads =====

func (s *MemoryStore) CreateUpload(ctx context.Context, u *model.Upload) error {
	if err := check(ctx, "upload"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	cp := *u
	s.uploads[u.ID] = &cp
	return nil
}

func (s *MemoryStore) GetUpload(ctx context.Context, id string) (*model.Upload, error) {
	if err := check(ctx, "upload"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.uploads[id]
	if !ok {
		return nil, notFound("upload")
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return check(ctx, "store")
}
