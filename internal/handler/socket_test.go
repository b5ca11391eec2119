package handler

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/saiproject-202/ClassVibe/internal/apperror"
	"github.com/saiproject-202/ClassVibe/internal/auth"
	"github.com/saiproject-202/ClassVibe/internal/broadcast"
	"github.com/saiproject-202/ClassVibe/internal/engine"
	"github.com/saiproject-202/ClassVibe/internal/model"
	"github.com/saiproject-202/ClassVibe/internal/wsconn"
)

// frameRecorder 보낸 프레임을 기록하는 연결
type frameRecorder struct {
	id     string
	mu     sync.Mutex
	frames []interface{}
}

func (r *frameRecorder) ID() string { return r.id }

func (r *frameRecorder) Send(e broadcast.Event) error { return r.SendJSON(e) }

func (r *frameRecorder) SendJSON(v interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, v)
	return nil
}

func (r *frameRecorder) last() interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return nil
	}
	return r.frames[len(r.frames)-1]
}

func frame(t *testing.T, typ string, payload interface{}) *Frame {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return &Frame{Type: typ, RequestID: "r-" + typ, Payload: raw}
}

func TestDecodePayload(t *testing.T) {
	var p sessionPayload
	if err := decodePayload(json.RawMessage(`"abc"`), &p, func(v string) { p.SessionID = v }); err != nil || p.SessionID != "abc" {
		t.Errorf("bare string = %+v, %v", p, err)
	}

	p = sessionPayload{}
	if err := decodePayload(json.RawMessage(`"{\"sessionId\":\"xyz\"}"`), &p, nil); err != nil || p.SessionID != "xyz" {
		t.Errorf("stringified object = %+v, %v", p, err)
	}

	p = sessionPayload{}
	if err := decodePayload(json.RawMessage(`{"sessionId":"obj"}`), &p, nil); err != nil || p.SessionID != "obj" {
		t.Errorf("object = %+v, %v", p, err)
	}

	if err := decodePayload(json.RawMessage(`"abc"`), &p, nil); apperror.KindOf(err) != apperror.InvalidInput {
		t.Errorf("string without setter kind = %q", apperror.KindOf(err))
	}
	if err := decodePayload(nil, &p, nil); apperror.KindOf(err) != apperror.InvalidInput {
		t.Errorf("missing payload kind = %q", apperror.KindOf(err))
	}
}

func TestSocketDispatch(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	_, body := ts.do(t, "POST", "/auth/register", "", map[string]string{
		"email": "t@x.com", "password": "secret1", "name": "Teach", "role": "teacher",
	})
	token := body["access_token"].(string)

	conn := &frameRecorder{id: "ws-1"}
	ts.classroom.Connect(conn)
	sess := &socketSession{handler: NewSocketHandler(ts.classroom, wsconn.DefaultConfig()), conn: conn}

	if _, err := sess.dispatch(ctx, frame(t, ReqPing, nil)); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if _, err := sess.dispatch(ctx, frame(t, ReqEnterRoom, "any")); apperror.KindOf(err) != apperror.Unauthenticated {
		t.Fatalf("enter before auth kind = %q", apperror.KindOf(err))
	}

	if _, err := sess.dispatch(ctx, frame(t, ReqAuthenticate, token)); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if sess.principal == nil || sess.principal.Role != model.RoleTeacher {
		t.Fatalf("principal = %+v", sess.principal)
	}

	g, err := ts.classroom.CreateSession(ctx, sess.principal, "Physics")
	if err != nil {
		t.Fatal(err)
	}

	ack, err := sess.dispatch(ctx, frame(t, ReqEnterRoom, g.ID))
	if err != nil {
		t.Fatalf("enterRoom: %v", err)
	}
	online := ack.(fiber.Map)["online"].([]string)
	if len(online) != 1 || online[0] != sess.principal.ID {
		t.Errorf("online = %v", online)
	}

	ack, err = sess.dispatch(ctx, frame(t, ReqSendMessage, map[string]string{"sessionId": g.ID, "body": "hi all"}))
	if err != nil {
		t.Fatalf("sendMessage: %v", err)
	}
	view := ack.(engine.MessageView)
	if view.Body != "hi all" {
		t.Errorf("view = %+v", view)
	}
	// room 구독자이므로 messageCreated 푸시도 받는다
	if ev, ok := conn.last().(broadcast.Event); !ok || ev.Type != broadcast.EventMessageCreated {
		t.Errorf("last frame = %+v", conn.last())
	}

	if _, err := sess.dispatch(ctx, frame(t, ReqEditMessage, map[string]string{"messageId": view.ID, "body": "hi everyone"})); err != nil {
		t.Errorf("editMessage: %v", err)
	}
	if _, err := sess.dispatch(ctx, frame(t, ReqVote, map[string]string{"pollId": "p"})); apperror.KindOf(err) != apperror.InvalidInput {
		t.Errorf("vote without option kind = %q", apperror.KindOf(err))
	}
	if _, err := sess.dispatch(ctx, frame(t, "dance", nil)); apperror.KindOf(err) != apperror.InvalidInput {
		t.Errorf("unknown type kind = %q", apperror.KindOf(err))
	}

	ack, err = sess.dispatch(ctx, frame(t, ReqEndSession, g.ID))
	if err != nil {
		t.Fatalf("endSession: %v", err)
	}
	if ack.(fiber.Map)["active"] != false {
		t.Errorf("end ack = %v", ack)
	}
	if _, err := sess.dispatch(ctx, frame(t, ReqSendMessage, map[string]string{"sessionId": g.ID, "body": "late"})); apperror.KindOf(err) != apperror.SessionEnded {
		t.Errorf("send after end kind = %q", apperror.KindOf(err))
	}
}

func TestSocketHandleReplies(t *testing.T) {
	ts := newTestServer(t)
	conn := &frameRecorder{id: "ws-2"}
	ts.classroom.Connect(conn)
	sess := &socketSession{handler: NewSocketHandler(ts.classroom, wsconn.DefaultConfig()), conn: conn}

	sess.handle([]byte(`not json`))
	errFrame, ok := conn.last().(ErrorFrame)
	if !ok || errFrame.Error.Code != apperror.InvalidInput {
		t.Fatalf("bad frame reply = %+v", conn.last())
	}

	sess.handle([]byte(`{"type":"ping","requestId":"42"}`))
	ackFrame, ok := conn.last().(AckFrame)
	if !ok || ackFrame.Type != "ack" || ackFrame.RequestID != "42" {
		t.Fatalf("ping reply = %+v", conn.last())
	}

	sess.handle([]byte(`{"type":"authenticate","requestId":"7","payload":{"token":"garbage"}}`))
	errFrame, ok = conn.last().(ErrorFrame)
	if !ok || errFrame.RequestID != "7" || errFrame.Error.Code != apperror.Unauthenticated {
		t.Fatalf("bad token reply = %+v", conn.last())
	}
	if sess.principal != nil {
		t.Error("principal should stay unset")
	}
}

var _ FrameConn = (*wsconn.Client)(nil)
var _ auth.GoogleVerifier = disabledGoogle{}
