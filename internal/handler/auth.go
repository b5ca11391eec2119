package handler

import (
	"context"
	"errors"
	"log"
	"net/mail"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/saiproject-202/ClassVibe/internal/apperror"
	"github.com/saiproject-202/ClassVibe/internal/auth"
	"github.com/saiproject-202/ClassVibe/internal/model"
)

const minPasswordLength = 6

// AccountStore 계정 저장소
type AccountStore interface {
	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	FindUserByEmail(ctx context.Context, email string) (*model.User, error)
	FindUserByUsername(ctx context.Context, username string) (*model.User, error)
}

// AuthHandler 인증 핸들러
type AuthHandler struct {
	users        AccountStore
	jwtManager   *auth.JWTManager
	google       auth.GoogleVerifier
	tokenExpiry  time.Duration
	secureCookie bool
}

// NewAuthHandler AuthHandler 생성
func NewAuthHandler(users AccountStore, jwtManager *auth.JWTManager, google auth.GoogleVerifier, tokenExpiry time.Duration, secureCookie bool) *AuthHandler {
	return &AuthHandler{
		users:        users,
		jwtManager:   jwtManager,
		google:       google,
		tokenExpiry:  tokenExpiry,
		secureCookie: secureCookie,
	}
}

// RegisterRequest 회원가입 요청
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

// LoginRequest 로그인 요청 (email 또는 username)
type LoginRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// GoogleLoginRequest Google 로그인 요청
type GoogleLoginRequest struct {
	IDToken string `json:"id_token"`
}

// UserResponse 사용자 응답
type UserResponse struct {
	ID       string     `json:"id"`
	Username string     `json:"username"`
	Email    string     `json:"email"`
	Name     string     `json:"name"`
	Role     model.Role `json:"role"`
	IsGuest  bool       `json:"is_guest"`
}

// AuthResponse 인증 응답
type AuthResponse struct {
	User        UserResponse `json:"user"`
	AccessToken string       `json:"access_token"`
	ExpiresIn   int64        `json:"expires_in"`
}

func toUserResponse(u *model.User) UserResponse {
	return UserResponse{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
		Name:     u.Name,
		Role:     u.Role,
		IsGuest:  u.IsGuest,
	}
}

// Register 이메일/비밀번호 회원가입 (teacher 또는 student)
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = strings.TrimSpace(req.Name)
	req.Username = strings.TrimSpace(req.Username)
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return badRequest(c, "a valid email is required")
	}
	if len(req.Password) < minPasswordLength {
		return badRequest(c, "password must be at least 6 characters")
	}
	if req.Name == "" {
		return badRequest(c, "name is required")
	}
	if req.Username == "" {
		req.Username = strings.SplitN(req.Email, "@", 2)[0]
	}

	role := model.ParseRole(req.Role)
	if role == model.RoleAdmin {
		// 관리자 역할은 가입으로 얻을 수 없음
		role = model.RoleStudent
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return fail(c, apperror.Wrap(apperror.Internal, "hash password", err))
	}

	user := &model.User{
		ID:       uuid.NewString(),
		Username: req.Username,
		Email:    req.Email,
		Name:     req.Name,
		Password: hash,
		Role:     role,
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()
	if err := h.users.CreateUser(ctx, user); err != nil {
		if apperror.KindOf(err) == apperror.Conflict {
			return fail(c, apperror.New(apperror.Conflict, "email or username already registered"))
		}
		return fail(c, err)
	}

	log.Printf("[Auth] 🆕 Registered %s as %s", user.Email, user.Role)
	return h.respondWithToken(c.Status(fiber.StatusCreated), user)
}

// Login 이메일(또는 username)/비밀번호 로그인
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Password == "" || (req.Email == "" && req.Username == "") {
		return badRequest(c, "email and password are required")
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	var (
		user *model.User
		err  error
	)
	if req.Email != "" {
		user, err = h.users.FindUserByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	} else {
		user, err = h.users.FindUserByUsername(ctx, strings.TrimSpace(req.Username))
	}
	if err != nil {
		if apperror.KindOf(err) == apperror.NotFound {
			return fail(c, apperror.New(apperror.Unauthenticated, "invalid credentials"))
		}
		return fail(c, err)
	}
	if !auth.CheckPassword(user.Password, req.Password) {
		return fail(c, apperror.New(apperror.Unauthenticated, "invalid credentials"))
	}

	return h.respondWithToken(c, user)
}

// GoogleLogin Google ID 토큰으로 교사 로그인 (없으면 교사 계정 생성)
func (h *AuthHandler) GoogleLogin(c *fiber.Ctx) error {
	var req GoogleLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.IDToken == "" {
		return badRequest(c, "id_token is required")
	}

	// Google ID Token 검증
	ctx, cancel := context.WithTimeout(c.UserContext(), 10*time.Second)
	defer cancel()

	profile, err := h.google.Verify(ctx, req.IDToken)
	if err != nil {
		if errors.Is(err, auth.ErrGoogleDisabled) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "google sign-in is not configured",
				"code":  apperror.ResourceExhausted,
			})
		}
		return fail(c, apperror.Wrap(apperror.Unauthenticated, "invalid google token", err))
	}

	email := strings.ToLower(profile.Email)
	user, err := h.users.FindUserByEmail(ctx, email)
	if err != nil {
		if apperror.KindOf(err) != apperror.NotFound {
			return fail(c, err)
		}
		password, perr := auth.RandomPassword()
		if perr != nil {
			return fail(c, apperror.Wrap(apperror.Internal, "generate password", perr))
		}
		hash, perr := auth.HashPassword(password)
		if perr != nil {
			return fail(c, apperror.Wrap(apperror.Internal, "hash password", perr))
		}
		name := profile.Name
		if name == "" {
			name = strings.SplitN(email, "@", 2)[0]
		}
		user = &model.User{
			ID:       uuid.NewString(),
			Username: "g_" + profile.Subject,
			Email:    email,
			Name:     name,
			Password: hash,
			Role:     model.RoleTeacher,
		}
		if err := h.users.CreateUser(ctx, user); err != nil {
			return fail(c, err)
		}
		log.Printf("[Auth] 🆕 Teacher created via Google: %s", email)
	}

	return h.respondWithToken(c, user)
}

// Logout 쿠키 삭제
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	c.Cookie(&fiber.Cookie{
		Name:     "access_token",
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   h.secureCookie,
		HTTPOnly: true,
	})

	return c.JSON(fiber.Map{
		"message": "logged out successfully",
	})
}

// GetMe 현재 사용자 정보
func (h *AuthHandler) GetMe(c *fiber.Ctx) error {
	principal := auth.GetPrincipal(c)
	if principal == nil {
		return fail(c, apperror.New(apperror.Unauthenticated, "authentication required"))
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()
	user, err := h.users.GetUser(ctx, principal.ID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(toUserResponse(user))
}

// respondWithToken 토큰 발급 후 HTTP-Only 쿠키와 본문으로 전달
func (h *AuthHandler) respondWithToken(c *fiber.Ctx, user *model.User) error {
	token, err := h.jwtManager.GenerateAccessToken(user)
	if err != nil {
		return fail(c, apperror.Wrap(apperror.Internal, "failed to generate token", err))
	}

	c.Cookie(&fiber.Cookie{
		Name:     "access_token",
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.tokenExpiry.Seconds()),
		Secure:   h.secureCookie,
		HTTPOnly: true,
		SameSite: "Lax",
	})

	return c.JSON(AuthResponse{
		User:        toUserResponse(user),
		AccessToken: token,
		ExpiresIn:   int64(h.tokenExpiry.Seconds()),
	})
}
