package auth

import (
	"context"
	"errors"
	"time"

	"github.com/saiproject-202/ClassVibe/internal/apperror"
	"github.com/saiproject-202/ClassVibe/internal/model"
)

// Principal 인증된 사용자 식별 정보
type Principal struct {
	ID      string     `json:"id"`
	Role    model.Role `json:"role"`
	Name    string     `json:"name"`
	Email   string     `json:"email"`
	IsGuest bool       `json:"isGuest"`
}

// PrincipalFromUser User로부터 Principal 구성
func PrincipalFromUser(u *model.User) *Principal {
	return &Principal{
		ID:      u.ID,
		Role:    u.Role,
		Name:    u.Name,
		Email:   u.Email,
		IsGuest: u.IsGuest,
	}
}

// UserReader Gate가 사용하는 사용자 조회 인터페이스
type UserReader interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
}

// Gate 자격 증명을 검증해 Principal을 반환하는 Identity Gate
type Gate struct {
	jwt     *JWTManager
	users   UserReader
	timeout time.Duration
}

// NewGate Gate 생성
func NewGate(jwt *JWTManager, users UserReader, timeout time.Duration) *Gate {
	return &Gate{jwt: jwt, users: users, timeout: timeout}
}

// Verify 토큰 검증 후 저장소의 최신 사용자 정보로 Principal 구성
func (g *Gate) Verify(ctx context.Context, credential string) (*Principal, error) {
	if credential == "" {
		return nil, apperror.New(apperror.Unauthenticated, "missing authorization token")
	}

	claims, err := g.jwt.ValidateAccessToken(credential)
	if err != nil {
		if errors.Is(err, ErrExpiredToken) {
			return nil, apperror.Wrap(apperror.Unauthenticated, "token expired", err)
		}
		return nil, apperror.Wrap(apperror.Unauthenticated, "invalid token", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	user, err := g.users.GetUser(ctx, claims.UserID)
	if err != nil {
		switch apperror.KindOf(err) {
		case apperror.NotFound:
			return nil, apperror.Wrap(apperror.Unauthenticated, "user no longer exists", err)
		case apperror.Timeout:
			return nil, err
		}
		return nil, apperror.Wrap(apperror.Internal, "verify principal", err)
	}

	return PrincipalFromUser(user), nil
}

// Mint 사용자에게 새 자격 증명 발급 (게스트는 짧은 만료)
func (g *Gate) Mint(user *model.User) (string, error) {
	if user.IsGuest {
		return g.jwt.GenerateGuestToken(user)
	}
	return g.jwt.GenerateAccessToken(user)
}
