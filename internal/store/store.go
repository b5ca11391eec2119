// Package store 사용자/세션/메시지/투표 영속화 계층
package store

import (
	"context"
	"errors"
	"time"

	"github.com/saiproject-202/ClassVibe/internal/apperror"
	"github.com/saiproject-202/ClassVibe/internal/model"
)

var (
	// ErrNotFound 레코드 없음
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate unique 제약 위반
	ErrDuplicate = errors.New("duplicate record")
)

// Store 영속화 인터페이스
// 모든 조회는 복사본을 반환하며, 없으면 NotFound(ErrNotFound 래핑)를 반환한다.
type Store interface {
	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	FindUserByEmail(ctx context.Context, email string) (*model.User, error)
	FindUserByUsername(ctx context.Context, username string) (*model.User, error)
	UpdateUserRole(ctx context.Context, id string, role model.Role) error

	CreateGroup(ctx context.Context, g *model.Group) error
	GetGroup(ctx context.Context, id string) (*model.Group, error)
	UpdateGroup(ctx context.Context, g *model.Group) error
	FindGroupByCode(ctx context.Context, code string, activeOnly bool) (*model.Group, error)
	ListGroupsForMember(ctx context.Context, userID string) ([]model.Group, error)
	ListStaleGroups(ctx context.Context, createdBefore time.Time) ([]model.Group, error)
	AddMember(ctx context.Context, m *model.GroupMember) error

	CreateMessage(ctx context.Context, m *model.Message) error
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	UpdateMessage(ctx context.Context, m *model.Message) error
	ListRecentMessages(ctx context.Context, groupID string, limit int) ([]model.Message, error)
	ListGroupMessages(ctx context.Context, groupID string) ([]model.Message, error)
	SearchMessages(ctx context.Context, groupID, query string, limit int) ([]model.Message, error)

	CreatePoll(ctx context.Context, p *model.Poll) error
	GetPoll(ctx context.Context, id string) (*model.Poll, error)
	UpdatePoll(ctx context.Context, p *model.Poll) error
	ListPolls(ctx context.Context, groupID string, activeOnly bool) ([]model.Poll, error)
	ListExpiredPolls(ctx context.Context, now time.Time) ([]model.Poll, error)

	CreateUpload(ctx context.Context, u *model.Upload) error
	GetUpload(ctx context.Context, id string) (*model.Upload, error)

	Ping(ctx context.Context) error
}

// notFound 엔티티 이름을 담은 NotFound 에러
func notFound(entity string) error {
	return apperror.Wrap(apperror.NotFound, entity+" not found", ErrNotFound)
}

// duplicate 엔티티 이름을 담은 Conflict 에러
func duplicate(entity string) error {
	return apperror.Wrap(apperror.Conflict, entity+" already exists", ErrDuplicate)
}
