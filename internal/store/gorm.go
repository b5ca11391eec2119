package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/saiproject-202/ClassVibe/internal/apperror"
	"github.com/saiproject-202/ClassVibe/internal/model"
)

// GormStore GORM 기반 Store 구현 (postgres, sqlite)
type GormStore struct {
	db *gorm.DB
}

// NewGormStore GormStore 생성
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB 내부 gorm 핸들
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// translate gorm 에러를 apperror로 변환
func translate(ctx context.Context, entity string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return notFound(entity)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return duplicate(entity)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), ctx.Err() != nil:
		return apperror.Wrap(apperror.Timeout, entity+" store call timed out", err)
	}
	return apperror.Wrap(apperror.Internal, entity+" store failure", err)
}

// ===== Users =====

func (s *GormStore) CreateUser(ctx context.Context, u *model.User) error {
	return translate(ctx, "user", s.db.WithContext(ctx).Create(u).Error)
}

func (s *GormStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, translate(ctx, "user", err)
	}
	return &u, nil
}

func (s *GormStore) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).Where("email = ?", strings.ToLower(email)).First(&u).Error; err != nil {
		return nil, translate(ctx, "user", err)
	}
	return &u, nil
}

func (s *GormStore) FindUserByUsername(ctx context.Context, username string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		return nil, translate(ctx, "user", err)
	}
	return &u, nil
}

// UpdateUserRole 사용자 역할 변경
func (s *GormStore) UpdateUserRole(ctx context.Context, id string, role model.Role) error {
	res := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Update("role", role)
	if res.Error != nil {
		return translate(ctx, "user", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("user")
	}
	return nil
}

// ===== Groups =====

func (s *GormStore) CreateGroup(ctx context.Context, g *model.Group) error {
	// Members(관리자 멤버십)는 association으로 같은 트랜잭션에서 생성
	return translate(ctx, "group", s.db.WithContext(ctx).Create(g).Error)
}

// preloadMembers 가입 순서대로 멤버 로드
func preloadMembers(db *gorm.DB) *gorm.DB {
	return db.Preload("Members", func(db *gorm.DB) *gorm.DB {
		return db.Order("joined_at ASC, id ASC")
	})
}

func (s *GormStore) GetGroup(ctx context.Context, id string) (*model.Group, error) {
	var g model.Group
	if err := preloadMembers(s.db.WithContext(ctx)).First(&g, "id = ?", id).Error; err != nil {
		return nil, translate(ctx, "group", err)
	}
	return &g, nil
}

func (s *GormStore) UpdateGroup(ctx context.Context, g *model.Group) error {
	res := s.db.WithContext(ctx).Model(&model.Group{}).Where("id = ?", g.ID).Updates(map[string]interface{}{
		"name":      g.Name,
		"is_active": g.IsActive,
		"ended_at":  g.EndedAt,
	})
	if res.Error != nil {
		return translate(ctx, "group", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("group")
	}
	return nil
}

func (s *GormStore) FindGroupByCode(ctx context.Context, code string, activeOnly bool) (*model.Group, error) {
	q := preloadMembers(s.db.WithContext(ctx)).Where("code = ?", code)
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var g model.Group
	// 같은 코드가 재사용된 경우 최신 세션 우선
	if err := q.Order("created_at DESC").First(&g).Error; err != nil {
		return nil, translate(ctx, "group", err)
	}
	return &g, nil
}

func (s *GormStore) ListGroupsForMember(ctx context.Context, userID string) ([]model.Group, error) {
	var groups []model.Group
	err := s.db.WithContext(ctx).
		Joins("JOIN group_members gm ON gm.group_id = class_groups.id").
		Where("gm.user_id = ?", userID).
		Order("class_groups.created_at DESC").
		Find(&groups).Error
	if err != nil {
		return nil, translate(ctx, "group", err)
	}
	return groups, nil
}

func (s *GormStore) ListStaleGroups(ctx context.Context, createdBefore time.Time) ([]model.Group, error) {
	var groups []model.Group
	err := s.db.WithContext(ctx).
		Where("is_active = ? AND created_at < ?", true, createdBefore).
		Order("created_at ASC").
		Find(&groups).Error
	if err != nil {
		return nil, translate(ctx, "group", err)
	}
	return groups, nil
}

func (s *GormStore) AddMember(ctx context.Context, m *model.GroupMember) error {
	return translate(ctx, "membership", s.db.WithContext(ctx).Create(m).Error)
}

// ===== Messages =====

func (s *GormStore) CreateMessage(ctx context.Context, m *model.Message) error {
	return translate(ctx, "message", s.db.WithContext(ctx).Create(m).Error)
}

func (s *GormStore) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	var m model.Message
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, translate(ctx, "message", err)
	}
	return &m, nil
}

func (s *GormStore) UpdateMessage(ctx context.Context, m *model.Message) error {
	return translate(ctx, "message", s.db.WithContext(ctx).Save(m).Error)
}

func (s *GormStore) ListRecentMessages(ctx context.Context, groupID string, limit int) ([]model.Message, error) {
	var msgs []model.Message
	err := s.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("created_at DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, translate(ctx, "message", err)
	}
	// 오래된 순으로 뒤집기
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *GormStore) ListGroupMessages(ctx context.Context, groupID string) ([]model.Message, error) {
	var msgs []model.Message
	err := s.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("created_at ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, translate(ctx, "message", err)
	}
	return msgs, nil
}

func (s *GormStore) SearchMessages(ctx context.Context, groupID, query string, limit int) ([]model.Message, error) {
	var msgs []model.Message
	err := s.db.WithContext(ctx).
		Where("group_id = ? AND is_deleted = ? AND LOWER(body) LIKE ? ESCAPE '\\'", groupID, false, "%"+escapeLike(strings.ToLower(query))+"%").
		Order("created_at DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, translate(ctx, "message", err)
	}
	return msgs, nil
}

// escapeLike LIKE 패턴 특수문자 이스케이프
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// ===== Polls =====

func (s *GormStore) CreatePoll(ctx context.Context, p *model.Poll) error {
	return translate(ctx, "poll", s.db.WithContext(ctx).Create(p).Error)
}

func (s *GormStore) GetPoll(ctx context.Context, id string) (*model.Poll, error) {
	var p model.Poll
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, translate(ctx, "poll", err)
	}
	return &p, nil
}

func (s *GormStore) UpdatePoll(ctx context.Context, p *model.Poll) error {
	return translate(ctx, "poll", s.db.WithContext(ctx).Save(p).Error)
}

func (s *GormStore) ListPolls(ctx context.Context, groupID string, activeOnly bool) ([]model.Poll, error) {
	q := s.db.WithContext(ctx).Where("group_id = ?", groupID)
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var polls []model.Poll
	if err := q.Order("created_at DESC").Find(&polls).Error; err != nil {
		return nil, translate(ctx, "poll", err)
	}
	return polls, nil
}

func (s *GormStore) ListExpiredPolls(ctx context.Context, now time.Time) ([]model.Poll, error) {
	var polls []model.Poll
	err := s.db.WithContext(ctx).
		Where("is_active = ? AND expires_at <= ?", true, now).
		Find(&polls).Error
	if err != nil {
		return nil, translate(ctx, "poll", err)
	}
	return polls, nil
}

// ===== Uploads =====

func (s *GormStore) CreateUpload(ctx context.Context, u *model.Upload) error {
	return translate(ctx, "upload", s.db.WithContext(ctx).Create(u).Error)
}

func (s *GormStore) GetUpload(ctx context.Context, id string) (*model.Upload, error) {
	var u model.Upload
	if err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, translate(ctx, "upload", err)
	}
	return &u, nil
}

// Ping DB 연결 확인
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
