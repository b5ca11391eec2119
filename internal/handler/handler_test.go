package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/saiproject-202/ClassVibe/internal/apperror"
	"github.com/saiproject-202/ClassVibe/internal/auth"
	"github.com/saiproject-202/ClassVibe/internal/service"
	"github.com/saiproject-202/ClassVibe/internal/store"
)

type disabledGoogle struct{}

func (disabledGoogle) Verify(context.Context, string) (*auth.GoogleProfile, error) {
	return nil, auth.ErrGoogleDisabled
}

type testServer struct {
	app       *fiber.App
	classroom *service.Classroom
	jwt       *auth.JWTManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := store.NewMemoryStore()
	jwtm := auth.NewJWTManager("test-secret", time.Hour, time.Hour)
	gate := auth.NewGate(jwtm, s, time.Second)
	cr := service.NewClassroom(s, gate, service.Options{})

	authHandler := NewAuthHandler(s, jwtm, disabledGoogle{}, time.Hour, false)
	groupHandler := NewGroupHandler(cr)
	messageHandler := NewMessageHandler(cr)
	pollHandler := NewPollHandler(cr)

	required := auth.AuthMiddleware(gate)
	optional := auth.OptionalAuthMiddleware(gate)

	app := fiber.New()
	app.Post("/auth/register", authHandler.Register)
	app.Post("/auth/login", authHandler.Login)
	app.Post("/auth/google", authHandler.GoogleLogin)
	app.Get("/auth/me", required, authHandler.GetMe)

	app.Post("/api/groups/join", optional, groupHandler.Join)
	app.Get("/api/groups/preview/:code", groupHandler.Preview)
	app.Post("/api/groups", required, groupHandler.Create)
	app.Get("/api/groups/:groupId", required, groupHandler.Get)
	app.Post("/api/groups/:groupId/end", required, groupHandler.End)
	app.Get("/api/groups/:groupId/messages", required, messageHandler.List)
	app.Post("/api/groups/:groupId/messages", required, messageHandler.Send)
	app.Post("/api/groups/:groupId/polls", required, pollHandler.Create)
	app.Post("/api/polls/:id/vote", required, pollHandler.Vote)

	return &testServer{app: app, classroom: cr, jwt: jwtm}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	out := map[string]interface{}{}
	data, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(data, &out)
	return resp.StatusCode, out
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		kind apperror.Kind
		want int
	}{
		{apperror.Unauthenticated, 401},
		{apperror.Forbidden, 403},
		{apperror.NotFound, 404},
		{apperror.InvalidInput, 400},
		{apperror.Conflict, 409},
		{apperror.Inactive, 410},
		{apperror.Expired, 410},
		{apperror.SessionEnded, 410},
		{apperror.ResourceExhausted, 503},
		{apperror.Timeout, 504},
		{apperror.Internal, 500},
	}
	for _, tt := range tests {
		if got := StatusOf(tt.kind); got != tt.want {
			t.Errorf("StatusOf(%s) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestParseJoinRequest(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode string
		wantName string
		wantErr  bool
	}{
		{"object", `{"code":"123456","name":"Ann","email":"a@x.com"}`, "123456", "Ann", false},
		{"pin alias", `{"pin":"654321"}`, "654321", "", false},
		{"json string", `"123456"`, "123456", "", false},
		{"raw text", `123456`, "123456", "", false},
		{"empty", `  `, "", "", true},
		{"broken object", `{"code":`, "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := parseJoinRequest([]byte(tt.body))
			if tt.wantErr {
				if apperror.KindOf(err) != apperror.InvalidInput {
					t.Fatalf("err = %v, want InvalidInput", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if req.Code != tt.wantCode || req.Name != tt.wantName {
				t.Errorf("got %+v", req)
			}
		})
	}
}

func TestAuthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, "POST", "/auth/register", "", map[string]string{
		"email": "Teacher@X.com", "password": "secret1", "name": "Teach", "role": "admin",
	})
	if status != fiber.StatusCreated {
		t.Fatalf("register status = %d body=%v", status, body)
	}
	user := body["user"].(map[string]interface{})
	if user["role"] != "student" || user["email"] != "teacher@x.com" {
		t.Errorf("registered user = %v", user)
	}
	token, _ := body["access_token"].(string)
	if token == "" {
		t.Fatal("missing access token")
	}

	if status, _ := ts.do(t, "POST", "/auth/register", "", map[string]string{
		"email": "teacher@x.com", "password": "secret1", "name": "Again",
	}); status != fiber.StatusConflict {
		t.Errorf("duplicate register status = %d", status)
	}
	if status, _ := ts.do(t, "POST", "/auth/register", "", map[string]string{
		"email": "short@x.com", "password": "123", "name": "Short",
	}); status != fiber.StatusBadRequest {
		t.Errorf("short password status = %d", status)
	}

	if status, body := ts.do(t, "POST", "/auth/login", "", map[string]string{
		"email": "teacher@x.com", "password": "wrong-pass",
	}); status != fiber.StatusUnauthorized || body["code"] != string(apperror.Unauthenticated) {
		t.Errorf("bad login = %d %v", status, body)
	}
	if status, _ := ts.do(t, "POST", "/auth/login", "", map[string]string{
		"username": "teacher", "password": "secret1",
	}); status != fiber.StatusOK {
		t.Errorf("username login status = %d", status)
	}

	if status, body := ts.do(t, "GET", "/auth/me", token, nil); status != fiber.StatusOK || body["name"] != "Teach" {
		t.Errorf("me = %d %v", status, body)
	}
	if status, _ := ts.do(t, "GET", "/auth/me", "", nil); status != fiber.StatusUnauthorized {
		t.Errorf("me without token = %d", status)
	}

	if status, _ := ts.do(t, "POST", "/auth/google", "", map[string]string{"id_token": "x"}); status != fiber.StatusServiceUnavailable {
		t.Errorf("google disabled status = %d", status)
	}
}

func TestClassroomEndpoints(t *testing.T) {
	ts := newTestServer(t)

	_, body := ts.do(t, "POST", "/auth/register", "", map[string]string{
		"email": "t@x.com", "password": "secret1", "name": "Teach", "role": "teacher",
	})
	teacherToken := body["access_token"].(string)

	status, body := ts.do(t, "POST", "/api/groups", teacherToken, map[string]string{"name": "Math101"})
	if status != fiber.StatusCreated {
		t.Fatalf("create group = %d %v", status, body)
	}
	groupID := body["sessionId"].(string)
	code := body["code"].(string)
	if len(code) != 6 {
		t.Fatalf("code = %q", code)
	}

	if status, body := ts.do(t, "GET", "/api/groups/preview/"+code, "", nil); status != fiber.StatusOK || body["active"] != true {
		t.Errorf("preview = %d %v", status, body)
	}

	// 이름/이메일 없는 게스트 참여는 InvalidInput
	if status, body := ts.do(t, "POST", "/api/groups/join", "", `"`+code+`"`); status != fiber.StatusBadRequest || body["code"] != string(apperror.InvalidInput) {
		t.Errorf("bare join = %d %v", status, body)
	}

	// 가입된 계정의 이메일로는 게스트 참여 불가
	if status, body := ts.do(t, "POST", "/api/groups/join", "", map[string]string{"pin": code, "name": "Mallory", "email": "t@x.com"}); status != fiber.StatusConflict || body["token"] != nil {
		t.Errorf("guest join with registered email = %d %v", status, body)
	}

	status, body = ts.do(t, "POST", "/api/groups/join", "", map[string]string{"pin": code, "name": "Ann", "email": "ann@x.com"})
	if status != fiber.StatusOK || body["newMember"] != true {
		t.Fatalf("guest join = %d %v", status, body)
	}
	annToken := body["token"].(string)

	if status, _ := ts.do(t, "POST", "/api/groups", annToken, map[string]string{"name": "Nope"}); status != fiber.StatusForbidden {
		t.Errorf("student create group = %d", status)
	}

	if status, body := ts.do(t, "POST", "/api/groups/"+groupID+"/messages", annToken, map[string]string{"body": "hello"}); status != fiber.StatusCreated || body["body"] != "hello" {
		t.Errorf("send = %d %v", status, body)
	}
	if status, body := ts.do(t, "GET", "/api/groups/"+groupID+"/messages", teacherToken, nil); status != fiber.StatusOK || body["total"] != float64(1) {
		t.Errorf("history = %d %v", status, body)
	}

	status, body = ts.do(t, "POST", "/api/groups/"+groupID+"/polls", teacherToken, map[string]interface{}{
		"question": "Ready?", "options": []string{"yes", "no"},
	})
	if status != fiber.StatusCreated {
		t.Fatalf("create poll = %d %v", status, body)
	}
	pollID := body["pollId"].(string)

	if status, body := ts.do(t, "POST", "/api/polls/"+pollID+"/vote", annToken, map[string]int{"optionIndex": 0}); status != fiber.StatusOK || body["totalVotes"] != float64(1) {
		t.Errorf("vote = %d %v", status, body)
	}
	if status, _ := ts.do(t, "POST", "/api/polls/"+pollID+"/vote", annToken, map[string]int{"optionIndex": 1}); status != fiber.StatusConflict {
		t.Errorf("second vote = %d", status)
	}
	if status, _ := ts.do(t, "POST", "/api/polls/"+pollID+"/vote", annToken, map[string]string{}); status != fiber.StatusBadRequest {
		t.Errorf("vote without option = %d", status)
	}

	if status, body := ts.do(t, "GET", "/api/groups/"+groupID, teacherToken, nil); status != fiber.StatusOK || body["group"] == nil {
		t.Errorf("snapshot = %d %v", status, body)
	}

	if status, _ := ts.do(t, "POST", "/api/groups/"+groupID+"/end", annToken, nil); status != fiber.StatusForbidden {
		t.Errorf("student end = %d", status)
	}
	if status, _ := ts.do(t, "POST", "/api/groups/"+groupID+"/end", teacherToken, nil); status != fiber.StatusOK {
		t.Errorf("end = %d", status)
	}
	if status, body := ts.do(t, "POST", "/api/groups/"+groupID+"/messages", annToken, map[string]string{"body": "late"}); status != fiber.StatusGone || body["code"] != string(apperror.SessionEnded) {
		t.Errorf("send after end = %d %v", status, body)
	}
}
