package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/saiproject-202/ClassVibe/internal/apperror"
	"github.com/saiproject-202/ClassVibe/internal/database"
	"github.com/saiproject-202/ClassVibe/internal/model"
)

// openSQLite 임시 sqlite 파일로 GormStore 생성 (cgo가 없으면 skip)
func openSQLite(t *testing.T) Store {
	t.Helper()
	db, err := database.Open(&database.Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "store_test.db"),
	})
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = database.Close(db) })
	return NewGormStore(db)
}

func implementations(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": openSQLite,
	}
}

func newUser(name string) *model.User {
	return &model.User{
		ID:       uuid.NewString(),
		Username: name,
		Email:    name + "@x.com",
		Name:     name,
		Role:     model.RoleStudent,
	}
}

func newGroup(adminID, code string) *model.Group {
	now := time.Now().UTC()
	id := uuid.NewString()
	return &model.Group{
		ID:        id,
		Name:      "Math101",
		Code:      code,
		AdminID:   adminID,
		IsActive:  true,
		CreatedAt: now,
		Members:   []model.GroupMember{{GroupID: id, UserID: adminID, JoinedAt: now}},
	}
}

func TestStoreUsers(t *testing.T) {
	for name, open := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			ann := newUser("ann")
			if err := s.CreateUser(ctx, ann); err != nil {
				t.Fatalf("CreateUser: %v", err)
			}

			got, err := s.FindUserByEmail(ctx, "ANN@x.com")
			if err != nil {
				t.Fatalf("FindUserByEmail: %v", err)
			}
			if got.ID != ann.ID {
				t.Errorf("FindUserByEmail id = %s, want %s", got.ID, ann.ID)
			}

			dup := newUser("ann")
			if err := s.CreateUser(ctx, dup); apperror.KindOf(err) != apperror.Conflict {
				t.Errorf("duplicate user kind = %q, want CONFLICT", apperror.KindOf(err))
			}

			_, err = s.GetUser(ctx, uuid.NewString())
			if !errors.Is(err, ErrNotFound) || apperror.KindOf(err) != apperror.NotFound {
				t.Errorf("GetUser missing = %v, want ErrNotFound", err)
			}

			if err := s.UpdateUserRole(ctx, ann.ID, model.RoleTeacher); err != nil {
				t.Fatalf("UpdateUserRole: %v", err)
			}
			if got, _ := s.GetUser(ctx, ann.ID); got.Role != model.RoleTeacher {
				t.Errorf("role = %s, want teacher", got.Role)
			}
			if err := s.UpdateUserRole(ctx, uuid.NewString(), model.RoleTeacher); apperror.KindOf(err) != apperror.NotFound {
				t.Errorf("UpdateUserRole missing kind = %q", apperror.KindOf(err))
			}
		})
	}
}

func TestStoreGroupsAndMembers(t *testing.T) {
	for name, open := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			teacher := newUser("teacher")
			student := newUser("student")
			for _, u := range []*model.User{teacher, student} {
				if err := s.CreateUser(ctx, u); err != nil {
					t.Fatalf("CreateUser: %v", err)
				}
			}

			g := newGroup(teacher.ID, "012345")
			if err := s.CreateGroup(ctx, g); err != nil {
				t.Fatalf("CreateGroup: %v", err)
			}

			m := &model.GroupMember{GroupID: g.ID, UserID: student.ID, JoinedAt: time.Now().UTC()}
			if err := s.AddMember(ctx, m); err != nil {
				t.Fatalf("AddMember: %v", err)
			}
			again := &model.GroupMember{GroupID: g.ID, UserID: student.ID, JoinedAt: time.Now().UTC()}
			if err := s.AddMember(ctx, again); apperror.KindOf(err) != apperror.Conflict {
				t.Errorf("duplicate member kind = %q, want CONFLICT", apperror.KindOf(err))
			}

			got, err := s.FindGroupByCode(ctx, "012345", true)
			if err != nil {
				t.Fatalf("FindGroupByCode: %v", err)
			}
			if len(got.Members) != 2 || got.Members[0].UserID != teacher.ID {
				t.Fatalf("members = %+v, want admin first then student", got.Members)
			}

			ended := time.Now().UTC()
			got.IsActive = false
			got.EndedAt = &ended
			if err := s.UpdateGroup(ctx, got); err != nil {
				t.Fatalf("UpdateGroup: %v", err)
			}
			if _, err := s.FindGroupByCode(ctx, "012345", true); apperror.KindOf(err) != apperror.NotFound {
				t.Errorf("ended group found by active code lookup: %v", err)
			}
			if _, err := s.FindGroupByCode(ctx, "012345", false); err != nil {
				t.Errorf("ended group should be found without activeOnly: %v", err)
			}

			mine, err := s.ListGroupsForMember(ctx, student.ID)
			if err != nil || len(mine) != 1 {
				t.Errorf("ListGroupsForMember = %v, %v", mine, err)
			}
		})
	}
}

func TestStoreMessages(t *testing.T) {
	for name, open := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()
			groupID := uuid.NewString()
			base := time.Now().UTC()

			bodies := []string{"Welcome", "50% off", "homework due", "HOMEWORK graded"}
			for i, body := range bodies {
				m := &model.Message{
					ID:        uuid.NewString(),
					GroupID:   groupID,
					SenderID:  "u1",
					Body:      body,
					Kind:      model.MessageKindText,
					ReadBy:    model.ReadSet{},
					CreatedAt: base.Add(time.Duration(i) * time.Second),
				}
				if err := s.CreateMessage(ctx, m); err != nil {
					t.Fatalf("CreateMessage: %v", err)
				}
			}

			recent, err := s.ListRecentMessages(ctx, groupID, 2)
			if err != nil {
				t.Fatalf("ListRecentMessages: %v", err)
			}
			if len(recent) != 2 || recent[0].Body != "homework due" || recent[1].Body != "HOMEWORK graded" {
				t.Errorf("recent = %v, want last two in order", bodiesOf(recent))
			}

			found, err := s.SearchMessages(ctx, groupID, "homework", 50)
			if err != nil {
				t.Fatalf("SearchMessages: %v", err)
			}
			if len(found) != 2 {
				t.Errorf("search homework = %v, want 2 matches", bodiesOf(found))
			}
			found, _ = s.SearchMessages(ctx, groupID, "%", 50)
			if len(found) != 1 {
				t.Errorf("search %% = %v, want literal match only", bodiesOf(found))
			}

			msg := recent[1]
			msg.ReadBy["u2"] = base
			if err := s.UpdateMessage(ctx, &msg); err != nil {
				t.Fatalf("UpdateMessage: %v", err)
			}
			reloaded, err := s.GetMessage(ctx, msg.ID)
			if err != nil {
				t.Fatalf("GetMessage: %v", err)
			}
			if !reloaded.ReadBy.Has("u2") {
				t.Error("read set not persisted")
			}
		})
	}
}

func TestStorePolls(t *testing.T) {
	for name, open := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			p := &model.Poll{
				ID:        uuid.NewString(),
				GroupID:   "g1",
				CreatorID: "t1",
				Kind:      model.PollKindSingleChoice,
				Question:  "2+2?",
				Options:   []model.PollOption{{Text: "4"}, {Text: "5"}},
				Ballots:   map[string][]int{},
				Answered:  map[string]int{},
				IsActive:  true,
				ExpiresAt: time.Now().UTC().Add(time.Hour),
			}
			if err := s.CreatePoll(ctx, p); err != nil {
				t.Fatalf("CreatePoll: %v", err)
			}

			p.Options[0].Voters = append(p.Options[0].Voters, "s1")
			p.Ballots["s1"] = []int{0}
			if err := s.UpdatePoll(ctx, p); err != nil {
				t.Fatalf("UpdatePoll: %v", err)
			}

			got, err := s.GetPoll(ctx, p.ID)
			if err != nil {
				t.Fatalf("GetPoll: %v", err)
			}
			if !got.HasVoted("s1") || got.TotalVotes() != 1 {
				t.Errorf("poll after vote = %+v", got)
			}

			active, err := s.ListPolls(ctx, "g1", true)
			if err != nil || len(active) != 1 {
				t.Errorf("ListPolls active = %d, %v", len(active), err)
			}
		})
	}
}

func TestMemoryStoreExpiredPolls(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	for i, exp := range []time.Time{now.Add(-time.Minute), now.Add(time.Hour)} {
		p := &model.Poll{ID: uuid.NewString(), GroupID: "g", Kind: model.PollKindOpenText, Question: "q", IsActive: true, ExpiresAt: exp}
		if err := s.CreatePoll(ctx, p); err != nil {
			t.Fatalf("CreatePoll %d: %v", i, err)
		}
	}

	expired, err := s.ListExpiredPolls(ctx, now)
	if err != nil {
		t.Fatalf("ListExpiredPolls: %v", err)
	}
	if len(expired) != 1 {
		t.Errorf("expired = %d, want 1", len(expired))
	}
}

func TestMemoryStoreHonoursDeadline(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.GetGroup(ctx, "x"); apperror.KindOf(err) != apperror.Timeout {
		t.Errorf("cancelled ctx kind = %q, want TIMEOUT", apperror.KindOf(err))
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	m := &model.Message{ID: "m1", GroupID: "g", Body: "hi", ReadBy: model.ReadSet{}}
	if err := s.CreateMessage(ctx, m); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetMessage(ctx, "m1")
	got.Body = "changed"
	got.ReadBy["x"] = time.Now()

	again, _ := s.GetMessage(ctx, "m1")
	if again.Body != "hi" || again.ReadBy.Has("x") {
		t.Error("store state mutated through returned value")
	}
}

func bodiesOf(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Body
	}
	return out
}
