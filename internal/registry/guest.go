package registry

import (
	"context"
	"log"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/saiproject-202/ClassVibe/internal/apperror"
	"github.com/saiproject-202/ClassVibe/internal/auth"
	"github.com/saiproject-202/ClassVibe/internal/model"
)

const maxUsernameTries = 100

// errRegisteredEmail 가입된 계정의 이메일로 게스트 참여 시도
var errRegisteredEmail = apperror.New(apperror.Conflict, "an account with this email exists, sign in to join")

// guestDraft 세션 락 밖에서 준비한 게스트 정보
type guestDraft struct {
	email    string
	name     string
	existing *model.User // 이미 있는 게스트 계정
	hash     string      // 새 계정의 비밀번호 해시
}

// prepareGuest 입력 검증, 기존 게스트 조회, 새 계정용 해시 준비 (저장은 하지 않음)
func (r *Registry) prepareGuest(ctx context.Context, info *GuestInfo) (*guestDraft, error) {
	email := strings.ToLower(strings.TrimSpace(info.Email))
	name := strings.TrimSpace(info.Name)
	if !strings.Contains(email, "@") {
		return nil, apperror.New(apperror.InvalidInput, "a valid email is required")
	}
	if len([]rune(name)) > r.cfg.MaxNameLength {
		return nil, apperror.Newf(apperror.InvalidInput, "name must be at most %d characters", r.cfg.MaxNameLength)
	}

	draft := &guestDraft{email: email, name: name}
	existing, err := r.store.FindUserByEmail(ctx, email)
	switch {
	case err == nil:
		if !existing.IsGuest {
			return nil, errRegisteredEmail
		}
		draft.existing = existing
		return draft, nil
	case apperror.KindOf(err) != apperror.NotFound:
		return nil, err
	}

	password, err := auth.RandomPassword()
	if err != nil {
		return nil, apperror.Wrap(apperror.Internal, "generate guest password", err)
	}
	draft.hash, err = auth.HashPassword(password)
	if err != nil {
		return nil, apperror.Wrap(apperror.Internal, "hash guest password", err)
	}
	return draft, nil
}

// provisionGuest 도메인 락 안에서 호출, 게스트 계정을 반환하거나 생성
func (r *Registry) provisionGuest(ctx context.Context, draft *guestDraft) (*model.User, error) {
	if draft.existing != nil {
		return draft.existing, nil
	}

	username, err := r.uniqueUsername(ctx, draft.name)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		ID:       uuid.NewString(),
		Username: username,
		Email:    draft.email,
		Name:     draft.name,
		Password: draft.hash,
		Role:     model.RoleStudent,
		IsGuest:  true,
	}
	if err := r.store.CreateUser(ctx, user); err != nil {
		if apperror.KindOf(err) != apperror.Conflict {
			return nil, err
		}
		// 같은 이메일로 동시에 참여했거나 그 사이 가입한 경우
		existing, ferr := r.store.FindUserByEmail(ctx, draft.email)
		if ferr != nil {
			return nil, ferr
		}
		if !existing.IsGuest {
			return nil, errRegisteredEmail
		}
		return existing, nil
	}

	log.Printf("[Registry] 🆕 Guest provisioned: %s (%s)", user.Username, user.ID)
	return user, nil
}

// uniqueUsername 이름 기반 username, 중복이면 숫자 접미사
func (r *Registry) uniqueUsername(ctx context.Context, name string) (string, error) {
	base := usernameBase(name)
	candidate := base
	for i := 1; i <= maxUsernameTries; i++ {
		_, err := r.store.FindUserByUsername(ctx, candidate)
		if apperror.KindOf(err) == apperror.NotFound {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		candidate = base + strconv.Itoa(i)
	}
	// 접미사가 모두 사용 중이면 임의 값
	return base + "_" + uuid.NewString()[:8], nil
}

// usernameBase 소문자 영숫자만 남긴 이름
func usernameBase(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "guest"
	}
	base := b.String()
	if runes := []rune(base); len(runes) > 40 {
		base = string(runes[:40])
	}
	return base
}
