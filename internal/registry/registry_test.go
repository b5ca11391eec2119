package registry

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/saiproject-202/ClassVibe/internal/apperror"
	"github.com/saiproject-202/ClassVibe/internal/auth"
	"github.com/saiproject-202/ClassVibe/internal/broadcast"
	"github.com/saiproject-202/ClassVibe/internal/model"
	"github.com/saiproject-202/ClassVibe/internal/store"
)

type fakeMinter struct{}

func (fakeMinter) Mint(u *model.User) (string, error) { return "token-" + u.ID, nil }

// recordingMinter 발급 대상 기록
type recordingMinter struct {
	mu     sync.Mutex
	minted []*model.User
}

func (m *recordingMinter) Mint(u *model.User) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.minted = append(m.minted, u)
	return "token-" + u.ID, nil
}

// lockRefs 세션 락을 보유하거나 기다리는 수
func (r *Registry) lockRefs(sessionID string) int {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	if l, ok := r.locks[sessionID]; ok {
		return l.refs
	}
	return 0
}

func (m *recordingMinter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.minted)
}

// capture 발행된 이벤트 기록
type capture struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (c *capture) Publish(sessionID string, f broadcast.Fanout) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, f.Event)
	return 1
}

func (c *capture) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type
	}
	return out
}

var (
	teacher = &auth.Principal{ID: "teacher", Role: model.RoleTeacher, Name: "Teacher"}
	student = &auth.Principal{ID: "student", Role: model.RoleStudent, Name: "Stu"}
)

func newRegistry(t *testing.T) (*Registry, *store.MemoryStore, *capture) {
	t.Helper()
	s := store.NewMemoryStore()
	pub := &capture{}
	r := New(s, fakeMinter{}, pub, Config{CodeMaxAttempts: 8, OpTimeout: time.Second, MaxNameLength: 100})
	return r, s, pub
}

func TestCreateSession(t *testing.T) {
	r, _, _ := newRegistry(t)

	g, err := r.CreateSession(context.Background(), teacher, "Math101")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if len(g.Code) != 6 {
		t.Errorf("code = %q, want 6 digits", g.Code)
	}
	if !g.IsActive || g.AdminID != teacher.ID {
		t.Errorf("group = %+v", g)
	}
	if ok, _ := r.IsMember(context.Background(), g.ID, teacher.ID); !ok {
		t.Error("admin should be an implicit member")
	}
	if ok, _ := r.IsAdmin(context.Background(), g.ID, teacher.ID); !ok {
		t.Error("creator should be admin")
	}
}

func TestCreateSessionValidation(t *testing.T) {
	r, _, _ := newRegistry(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		principal *auth.Principal
		group     string
		want      apperror.Kind
	}{
		{"empty name", teacher, "   ", apperror.InvalidInput},
		{"long name", teacher, strings.Repeat("a", 101), apperror.InvalidInput},
		{"student cannot create", student, "Math", apperror.Forbidden},
		{"anonymous", nil, "Math", apperror.Unauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.CreateSession(ctx, tt.principal, tt.group)
			if apperror.KindOf(err) != tt.want {
				t.Errorf("kind = %q, want %q", apperror.KindOf(err), tt.want)
			}
		})
	}
}

func TestCodeLeadingZeroAndReuseAfterEnd(t *testing.T) {
	r, _, _ := newRegistry(t)
	ctx := context.Background()
	r.SetCodeGenerator(func() string { return "000042" })

	g1, err := r.CreateSession(ctx, teacher, "A")
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if g1.Code != "000042" {
		t.Errorf("code = %q", g1.Code)
	}

	// 활성 세션이 코드를 점유하고 있으면 할당 실패
	if _, err := r.CreateSession(ctx, teacher, "B"); apperror.KindOf(err) != apperror.ResourceExhausted {
		t.Fatalf("kind = %q, want RESOURCE_EXHAUSTED", apperror.KindOf(err))
	}

	if _, err := r.EndSession(ctx, g1.ID, teacher.ID); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	g2, err := r.CreateSession(ctx, teacher, "B")
	if err != nil {
		t.Fatalf("create after end: %v", err)
	}
	if g2.Code != "000042" {
		t.Errorf("ended session code should be reusable, got %q", g2.Code)
	}

	// 재사용된 코드는 새 활성 세션으로 연결
	res, err := r.JoinByCode(ctx, "000042", student, nil)
	if err != nil {
		t.Fatalf("join reused code: %v", err)
	}
	if res.Group.ID != g2.ID {
		t.Error("join should resolve to the active session")
	}
}

func TestJoinIdempotent(t *testing.T) {
	r, s, pub := newRegistry(t)
	ctx := context.Background()
	g, _ := r.CreateSession(ctx, teacher, "Math101")

	first, err := r.JoinByCode(ctx, g.Code, student, nil)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if !first.NewMember {
		t.Error("first join should add a member")
	}
	second, err := r.JoinByCode(ctx, " "+g.Code[:3]+" "+g.Code[3:]+" ", student, nil)
	if err != nil {
		t.Fatalf("second join: %v", err)
	}
	if second.NewMember {
		t.Error("second join should be idempotent")
	}

	stored, _ := s.GetGroup(ctx, g.ID)
	count := 0
	for _, m := range stored.Members {
		if m.UserID == student.ID {
			count++
		}
	}
	if count != 1 {
		t.Errorf("membership records = %d, want 1", count)
	}

	joined := 0
	for _, typ := range pub.types() {
		if typ == broadcast.EventMemberJoined {
			joined++
		}
	}
	if joined != 1 {
		t.Errorf("memberJoined events = %d, want 1", joined)
	}
}

func TestJoinErrors(t *testing.T) {
	r, _, _ := newRegistry(t)
	ctx := context.Background()
	g, _ := r.CreateSession(ctx, teacher, "Math101")

	if _, err := r.JoinByCode(ctx, "12ab56", student, nil); apperror.KindOf(err) != apperror.InvalidInput {
		t.Errorf("malformed code kind = %q", apperror.KindOf(err))
	}
	other := "999999"
	if g.Code == other {
		other = "888888"
	}
	if _, err := r.JoinByCode(ctx, other, student, nil); apperror.KindOf(err) != apperror.NotFound {
		t.Errorf("unknown code kind = %q", apperror.KindOf(err))
	}
	if _, err := r.JoinByCode(ctx, g.Code, nil, nil); apperror.KindOf(err) != apperror.InvalidInput {
		t.Errorf("anonymous without guest info kind = %q", apperror.KindOf(err))
	}
	if _, err := r.JoinByCode(ctx, g.Code, nil, &GuestInfo{Name: "Ann"}); apperror.KindOf(err) != apperror.InvalidInput {
		t.Errorf("guest without email kind = %q", apperror.KindOf(err))
	}

	if _, err := r.EndSession(ctx, g.ID, teacher.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := r.JoinByCode(ctx, g.Code, student, nil); apperror.KindOf(err) != apperror.SessionEnded {
		t.Errorf("join ended kind = %q, want SESSION_ENDED", apperror.KindOf(err))
	}
}

func TestGuestJoin(t *testing.T) {
	r, s, _ := newRegistry(t)
	ctx := context.Background()
	g, _ := r.CreateSession(ctx, teacher, "Math101")

	res, err := r.JoinByCode(ctx, g.Code, nil, &GuestInfo{Name: "Ann", Email: "Ann@X.com"})
	if err != nil {
		t.Fatalf("guest join: %v", err)
	}
	if res.User == nil || res.Token == "" {
		t.Fatal("guest join should return a new principal and credential")
	}
	if res.User.Email != "ann@x.com" || res.User.Username != "ann" || !res.User.IsGuest {
		t.Errorf("guest user = %+v", res.User)
	}
	if ok, _ := r.IsMember(ctx, g.ID, res.User.ID); !ok {
		t.Error("guest should be a member")
	}

	// 같은 이메일이면 같은 principal
	again, err := r.JoinByCode(ctx, g.Code, nil, &GuestInfo{Name: "Ann B", Email: "ann@x.com"})
	if err != nil {
		t.Fatal(err)
	}
	if again.User.ID != res.User.ID || again.NewMember {
		t.Error("guest rejoin should resolve the same principal idempotently")
	}

	// 이름이 겹치면 접미사
	other, err := r.JoinByCode(ctx, g.Code, nil, &GuestInfo{Name: "ann", Email: "ann2@x.com"})
	if err != nil {
		t.Fatal(err)
	}
	if other.User.Username != "ann1" {
		t.Errorf("username = %q, want ann1", other.User.Username)
	}
	if u, _ := s.GetUser(ctx, other.User.ID); u == nil || u.Password == "" {
		t.Error("guest should be stored with a hashed random password")
	}
}

func TestGuestJoinRejectsRegisteredEmail(t *testing.T) {
	s := store.NewMemoryStore()
	minter := &recordingMinter{}
	r := New(s, minter, nil, Config{OpTimeout: time.Second})
	ctx := context.Background()

	hash, err := auth.HashPassword("correct-horse")
	if err != nil {
		t.Fatal(err)
	}
	alice := &model.User{ID: "t1", Username: "alice", Email: "alice@school.edu", Name: "Alice", Password: hash, Role: model.RoleTeacher}
	if err := s.CreateUser(ctx, alice); err != nil {
		t.Fatal(err)
	}
	g, err := r.CreateSession(ctx, auth.PrincipalFromUser(alice), "Physics")
	if err != nil {
		t.Fatal(err)
	}

	res, err := r.JoinByCode(ctx, g.Code, nil, &GuestInfo{Name: "Mallory", Email: "Alice@School.edu"})
	if apperror.KindOf(err) != apperror.Conflict {
		t.Fatalf("kind = %q, want CONFLICT (result %+v)", apperror.KindOf(err), res)
	}
	if minter.count() != 0 {
		t.Error("no credential should be minted for a registered account")
	}

	// 게스트 계정으로 만든 이메일은 재사용 가능
	guest, err := r.JoinByCode(ctx, g.Code, nil, &GuestInfo{Name: "Mallory", Email: "mallory@x.com"})
	if err != nil {
		t.Fatalf("guest join: %v", err)
	}
	if !guest.User.IsGuest || guest.User.Role != model.RoleStudent || guest.Token == "" {
		t.Errorf("guest = %+v token=%q", guest.User, guest.Token)
	}
	for _, u := range minter.minted {
		if !u.IsGuest {
			t.Errorf("minted credential for non-guest %s", u.ID)
		}
	}
}

func TestGuestJoinEndedWhileWaiting(t *testing.T) {
	s := store.NewMemoryStore()
	minter := &recordingMinter{}
	r := New(s, minter, nil, Config{OpTimeout: 5 * time.Second})
	ctx := context.Background()
	g, _ := r.CreateSession(ctx, teacher, "Math101")

	unlock := r.Lock(g.ID)
	done := make(chan error, 1)
	go func() {
		_, err := r.JoinByCode(ctx, g.Code, nil, &GuestInfo{Name: "Late", Email: "late@x.com"})
		done <- err
	}()

	// 참여 요청이 락을 기다릴 때까지 대기
	deadline := time.Now().Add(3 * time.Second)
	for r.lockRefs(g.ID) < 2 {
		if time.Now().After(deadline) {
			unlock()
			t.Fatal("join never reached the session lock")
		}
		time.Sleep(time.Millisecond)
	}

	ended, _ := r.Session(ctx, g.ID)
	now := time.Now()
	ended.IsActive = false
	ended.EndedAt = &now
	if err := s.UpdateGroup(ctx, ended); err != nil {
		t.Fatal(err)
	}
	r.cache(ended)
	unlock()

	if err := <-done; apperror.KindOf(err) != apperror.SessionEnded {
		t.Fatalf("kind = %q, want SESSION_ENDED", apperror.KindOf(err))
	}
	if _, err := s.FindUserByEmail(ctx, "late@x.com"); apperror.KindOf(err) != apperror.NotFound {
		t.Errorf("guest should not be provisioned for an ended session: %v", err)
	}
	if minter.count() != 0 {
		t.Error("no credential should be minted when the join fails")
	}
}

func TestLocksReleasedAfterUse(t *testing.T) {
	r, _, _ := newRegistry(t)
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		id := "bogus-" + strconv.Itoa(i)
		unlock := r.Lock(id)
		if _, err := r.CheckActiveMember(ctx, id, student.ID); apperror.KindOf(err) != apperror.NotFound {
			t.Fatalf("kind = %q, want NOT_FOUND", apperror.KindOf(err))
		}
		unlock()
		unlock() // 두 번 호출해도 안전
	}
	if len(r.locks) != 0 {
		t.Errorf("locks = %d, want 0", len(r.locks))
	}

	g, _ := r.CreateSession(ctx, teacher, "Math101")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.JoinByCode(ctx, g.Code, student, nil); err != nil {
				t.Errorf("join: %v", err)
			}
		}()
	}
	wg.Wait()
	if len(r.locks) != 0 {
		t.Errorf("locks after concurrent joins = %d, want 0", len(r.locks))
	}
}

func TestEndSession(t *testing.T) {
	r, _, pub := newRegistry(t)
	ctx := context.Background()
	g, _ := r.CreateSession(ctx, teacher, "Math101")

	var hooked string
	r.OnEnd(func(ended *model.Group) { hooked = ended.ID })

	if _, err := r.EndSession(ctx, g.ID, student.ID); apperror.KindOf(err) != apperror.Forbidden {
		t.Errorf("non-admin end kind = %q", apperror.KindOf(err))
	}
	ended, err := r.EndSession(ctx, g.ID, teacher.ID)
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if ended.IsActive || ended.EndedAt == nil {
		t.Error("session should be inactive with ended-at")
	}
	if hooked != g.ID {
		t.Error("end hook not invoked")
	}
	if _, err := r.EndSession(ctx, g.ID, teacher.ID); apperror.KindOf(err) != apperror.SessionEnded {
		t.Errorf("second end kind = %q", apperror.KindOf(err))
	}
	if _, err := r.CheckActiveMember(ctx, g.ID, teacher.ID); apperror.KindOf(err) != apperror.SessionEnded {
		t.Errorf("check after end kind = %q", apperror.KindOf(err))
	}

	types := pub.types()
	if len(types) == 0 || types[len(types)-1] != broadcast.EventSessionEnded {
		t.Errorf("events = %v, want sessionEnded last", types)
	}
}

func TestConcurrentJoinSingleMembership(t *testing.T) {
	r, s, _ := newRegistry(t)
	ctx := context.Background()
	g, _ := r.CreateSession(ctx, teacher, "Math101")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.JoinByCode(ctx, g.Code, student, nil); err != nil {
				t.Errorf("join: %v", err)
			}
		}()
	}
	wg.Wait()

	stored, _ := s.GetGroup(ctx, g.ID)
	if len(stored.Members) != 2 {
		t.Errorf("members = %d, want 2", len(stored.Members))
	}
}

func TestConcurrentCreateUniqueCodes(t *testing.T) {
	r, _, _ := newRegistry(t)
	ctx := context.Background()

	var mu sync.Mutex
	codes := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := r.CreateSession(ctx, teacher, "S")
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if codes[g.Code] {
				t.Errorf("duplicate active code %s", g.Code)
			}
			codes[g.Code] = true
		}()
	}
	wg.Wait()
}

func TestUsernameBase(t *testing.T) {
	tests := map[string]string{
		"Ann":       "ann",
		"Mary Jane": "maryjane",
		"!!!":       "guest",
		"Émile_2":   "émile_2",
	}
	for in, want := range tests {
		if got := usernameBase(in); got != want {
			t.Errorf("usernameBase(%q) = %q, want %q", in, got, want)
		}
	}
}
