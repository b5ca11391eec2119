package auth

import (
	"context"
	"errors"

	"google.golang.org/api/idtoken"
)

var (
	ErrInvalidGoogleToken = errors.New("invalid google id token")
	ErrEmailNotVerified   = errors.New("email not verified")
	ErrGoogleDisabled     = errors.New("google sign-in is not configured")
)

// GoogleProfile Google ID 토큰에서 얻은 교사 프로필
type GoogleProfile struct {
	Subject string
	Email   string
	Name    string
}

// GoogleVerifier Google ID 토큰 검증 인터페이스
type GoogleVerifier interface {
	Verify(ctx context.Context, idToken string) (*GoogleProfile, error)
}

// GoogleAuthenticator idtoken 패키지 기반 검증기
type GoogleAuthenticator struct {
	clientID string
}

// NewGoogleAuthenticator GoogleAuthenticator 생성
func NewGoogleAuthenticator(clientID string) *GoogleAuthenticator {
	return &GoogleAuthenticator{
		clientID: clientID,
	}
}

// Verify Google ID Token 검증
func (g *GoogleAuthenticator) Verify(ctx context.Context, idToken string) (*GoogleProfile, error) {
	if g.clientID == "" {
		return nil, ErrGoogleDisabled
	}

	payload, err := idtoken.Validate(ctx, idToken, g.clientID)
	if err != nil {
		return nil, ErrInvalidGoogleToken
	}

	if verified, _ := payload.Claims["email_verified"].(bool); !verified {
		return nil, ErrEmailNotVerified
	}

	email := stringClaim(payload.Claims, "email")
	if email == "" {
		return nil, ErrInvalidGoogleToken
	}

	return &GoogleProfile{
		Subject: payload.Subject,
		Email:   email,
		Name:    stringClaim(payload.Claims, "name"),
	}, nil
}

func stringClaim(claims map[string]interface{}, key string) string {
	if val, ok := claims[key].(string); ok {
		return val
	}
	return ""
}
