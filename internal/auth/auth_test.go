package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/saiproject-202/ClassVibe/internal/apperror"
	"github.com/saiproject-202/ClassVibe/internal/model"
	"github.com/saiproject-202/ClassVibe/internal/store"
)

func seedUser(t *testing.T, s *store.MemoryStore, role model.Role, guest bool) *model.User {
	t.Helper()
	u := &model.User{ID: "u-" + string(role), Username: string(role), Email: string(role) + "@x.com", Name: "Ann", Role: role, IsGuest: guest}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func TestJWTRoundTrip(t *testing.T) {
	m := NewJWTManager("secret", time.Hour, time.Minute)
	u := &model.User{ID: "u1", Email: "a@x.com", Name: "Ann", Role: model.RoleTeacher}

	token, err := m.GenerateAccessToken(u)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	claims, err := m.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if claims.UserID != "u1" || claims.Role != "teacher" {
		t.Errorf("claims = %+v", claims)
	}

	other := NewJWTManager("other", time.Hour, time.Minute)
	if _, err := other.ValidateAccessToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong secret err = %v, want ErrInvalidToken", err)
	}
}

func TestJWTExpired(t *testing.T) {
	m := NewJWTManager("secret", -time.Minute, -time.Minute)
	token, err := m.GenerateAccessToken(&model.User{ID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.ValidateAccessToken(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("err = %v, want ErrExpiredToken", err)
	}
}

func TestGateVerify(t *testing.T) {
	s := store.NewMemoryStore()
	teacher := seedUser(t, s, model.RoleTeacher, false)
	jwtm := NewJWTManager("secret", time.Hour, time.Minute)
	gate := NewGate(jwtm, s, time.Second)

	token, err := gate.Mint(teacher)
	if err != nil {
		t.Fatal(err)
	}

	p, err := gate.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.ID != teacher.ID || p.Role != model.RoleTeacher {
		t.Errorf("principal = %+v", p)
	}

	tests := []struct {
		name string
		cred string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := gate.Verify(context.Background(), tt.cred); apperror.KindOf(err) != apperror.Unauthenticated {
				t.Errorf("kind = %q, want UNAUTHENTICATED", apperror.KindOf(err))
			}
		})
	}

	ghost, _ := jwtm.GenerateAccessToken(&model.User{ID: "ghost"})
	if _, err := gate.Verify(context.Background(), ghost); apperror.KindOf(err) != apperror.Unauthenticated {
		t.Errorf("deleted user kind = %q, want UNAUTHENTICATED", apperror.KindOf(err))
	}
}

// slowUsers 응답하지 않는 저장소
type slowUsers struct{}

func (slowUsers) GetUser(ctx context.Context, id string) (*model.User, error) {
	<-ctx.Done()
	return nil, apperror.Wrap(apperror.Timeout, "user store call timed out", ctx.Err())
}

func TestGateVerifyTimeout(t *testing.T) {
	jwtm := NewJWTManager("secret", time.Hour, time.Minute)
	gate := NewGate(jwtm, slowUsers{}, 20*time.Millisecond)
	token, _ := jwtm.GenerateAccessToken(&model.User{ID: "u1"})

	if _, err := gate.Verify(context.Background(), token); apperror.KindOf(err) != apperror.Timeout {
		t.Errorf("kind = %q, want TIMEOUT", apperror.KindOf(err))
	}
}

func TestAuthMiddleware(t *testing.T) {
	s := store.NewMemoryStore()
	student := seedUser(t, s, model.RoleStudent, true)
	gate := NewGate(NewJWTManager("secret", time.Hour, time.Minute), s, time.Second)
	token, _ := gate.Mint(student)

	app := fiber.New()
	app.Get("/me", AuthMiddleware(gate), func(c *fiber.Ctx) error {
		return c.SendString(GetPrincipal(c).ID)
	})

	req := httptest.NewRequest("GET", "/me", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", resp.StatusCode)
	}

	req = httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("valid token status = %d, want 200", resp.StatusCode)
	}
}

func TestPasswordHelpers(t *testing.T) {
	hash, err := HashPassword("hunter22")
	if err != nil {
		t.Fatal(err)
	}
	if !CheckPassword(hash, "hunter22") || CheckPassword(hash, "wrong") {
		t.Error("CheckPassword mismatch")
	}

	a, _ := RandomPassword()
	b, _ := RandomPassword()
	if a == b || len(a) != 32 {
		t.Errorf("RandomPassword produced %q and %q", a, b)
	}
}
