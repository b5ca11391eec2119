package middleware

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/saiproject-202/ClassVibe/internal/auth"
	"github.com/saiproject-202/ClassVibe/internal/model"
	"github.com/saiproject-202/ClassVibe/internal/service"
	"github.com/saiproject-202/ClassVibe/internal/store"
)

func TestGroupMiddleware(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	jwtm := auth.NewJWTManager("test-secret", time.Hour, time.Hour)
	gate := auth.NewGate(jwtm, s, time.Second)
	cr := service.NewClassroom(s, gate, service.Options{})

	teacher := &model.User{ID: "teacher", Username: "teacher", Email: "t@x.com", Name: "Teacher", Role: model.RoleTeacher}
	outsider := &model.User{ID: "outsider", Username: "outsider", Email: "o@x.com", Name: "Out", Role: model.RoleStudent}
	for _, u := range []*model.User{teacher, outsider} {
		if err := s.CreateUser(ctx, u); err != nil {
			t.Fatal(err)
		}
	}
	g, err := cr.CreateSession(ctx, auth.PrincipalFromUser(teacher), "History")
	if err != nil {
		t.Fatal(err)
	}

	m := NewGroupMiddleware(cr.Registry())
	app := fiber.New()
	ok := func(c *fiber.Ctx) error { return c.SendString(c.Locals("groupID").(string)) }
	app.Get("/groups/:groupId", auth.AuthMiddleware(gate), m.RequireMembership(), ok)
	app.Post("/groups/:groupId/end", auth.AuthMiddleware(gate), m.RequireAdmin(), ok)

	teacherToken, _ := jwtm.GenerateAccessToken(teacher)
	outsiderToken, _ := jwtm.GenerateAccessToken(outsider)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"member", "GET", "/groups/" + g.ID, teacherToken, fiber.StatusOK},
		{"non-member", "GET", "/groups/" + g.ID, outsiderToken, fiber.StatusForbidden},
		{"unknown group", "GET", "/groups/nope", teacherToken, fiber.StatusNotFound},
		{"no token", "GET", "/groups/" + g.ID, "", fiber.StatusUnauthorized},
		{"admin", "POST", "/groups/" + g.ID + "/end", teacherToken, fiber.StatusOK},
		{"not admin", "POST", "/groups/" + g.ID + "/end", outsiderToken, fiber.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			resp, err := app.Test(req, -1)
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}
