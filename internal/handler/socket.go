package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/saiproject-202/ClassVibe/internal/apperror"
	"github.com/saiproject-202/ClassVibe/internal/auth"
	"github.com/saiproject-202/ClassVibe/internal/broadcast"
	"github.com/saiproject-202/ClassVibe/internal/service"
	"github.com/saiproject-202/ClassVibe/internal/wsconn"
)

// 클라이언트 요청 타입
const (
	ReqAuthenticate  = "authenticate"
	ReqEnterRoom     = "enterRoom"
	ReqLeaveRoom     = "leaveRoom"
	ReqSendMessage   = "sendMessage"
	ReqEditMessage   = "editMessage"
	ReqDeleteMessage = "deleteMessage"
	ReqMarkRead      = "markRead"
	ReqCreatePoll    = "createPoll"
	ReqVote          = "vote"
	ReqAnswer        = "answer"
	ReqClosePoll     = "closePoll"
	ReqEndSession    = "endSession"
	ReqTyping        = "typing"
	ReqStopTyping    = "stopTyping"
	ReqPing          = "ping"
)

// Frame 클라이언트 요청 프레임
type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// AckFrame 요청 성공 응답
type AckFrame struct {
	Type      string      `json:"type"` // "ack"
	RequestID string      `json:"requestId,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
}

// ErrorBody 에러 상세
type ErrorBody struct {
	Code    apperror.Kind `json:"code"`
	Message string        `json:"message"`
}

// ErrorFrame 요청 실패 응답 (연결은 유지)
type ErrorFrame struct {
	Type      string    `json:"type"` // "error"
	RequestID string    `json:"requestId,omitempty"`
	Error     ErrorBody `json:"error"`
}

// FrameConn 프레임을 주고받는 연결 (*wsconn.Client 구현)
type FrameConn interface {
	broadcast.Conn
	SendJSON(v interface{}) error
}

// SocketHandler 실시간 웹소켓 핸들러
type SocketHandler struct {
	classroom *service.Classroom
	cfg       wsconn.Config
}

// NewSocketHandler SocketHandler 생성
func NewSocketHandler(classroom *service.Classroom, cfg wsconn.Config) *SocketHandler {
	return &SocketHandler{classroom: classroom, cfg: cfg}
}

// Upgrade 웹소켓 업그레이드 요청만 통과시키고 토큰 후보를 Locals에 저장
func (h *SocketHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	token := c.Query("token")
	if token == "" {
		token, _ = auth.ExtractToken(c)
	}
	c.Locals("wsToken", token)
	return c.Next()
}

// Handle 웹소켓 연결 처리
func (h *SocketHandler) Handle(conn *websocket.Conn) {
	client := wsconn.New(conn, h.cfg)
	h.classroom.Connect(client)
	log.Printf("[WS] 🔌 Connection opened: %s", client.ID())

	go client.WritePump()

	sess := &socketSession{handler: h, conn: client}

	// 쿼리/쿠키 토큰이 있으면 바로 인증
	if token, _ := conn.Locals("wsToken").(string); token != "" {
		if _, err := sess.authenticate(client.Context(), token); err != nil {
			sess.replyError("", err)
		}
	}

	client.ReadLoop(func(data []byte) {
		sess.handle(data)
	})

	client.Close()
	h.classroom.Disconnect(client.ID())
	client.Wait()
	log.Printf("[WS] 👋 Connection closed: %s (%s)", client.ID(), client.Duration().Round(time.Second))
}

// socketSession 연결 하나의 요청 처리 상태
type socketSession struct {
	handler   *SocketHandler
	conn      FrameConn
	principal *auth.Principal
}

// handle 프레임 하나 처리 (panic은 이 프레임에서만 복구)
func (s *socketSession) handle(data []byte) {
	var frame Frame
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[WS] 🔥 Panic handling %q on %s: %v\n%s", frame.Type, s.conn.ID(), r, debug.Stack())
			s.replyError(frame.RequestID, apperror.New(apperror.Internal, fmt.Sprint(r)))
		}
	}()

	if err := json.Unmarshal(data, &frame); err != nil {
		s.replyError("", apperror.New(apperror.InvalidInput, "invalid frame"))
		return
	}

	result, err := s.dispatch(context.Background(), &frame)
	if err != nil {
		s.replyError(frame.RequestID, err)
		return
	}
	s.conn.SendJSON(AckFrame{Type: "ack", RequestID: frame.RequestID, Payload: result})
}

func (s *socketSession) replyError(requestID string, err error) {
	kind := apperror.KindOf(err)
	if kind == apperror.Internal {
		log.Printf("[WS] Request %s on %s failed: %v", requestID, s.conn.ID(), err)
	}
	s.conn.SendJSON(ErrorFrame{
		Type:      "error",
		RequestID: requestID,
		Error:     ErrorBody{Code: kind, Message: apperror.MessageOf(err)},
	})
}

func (s *socketSession) authenticate(ctx context.Context, token string) (*auth.Principal, error) {
	p, err := s.handler.classroom.Authenticate(ctx, s.conn, token)
	if err != nil {
		return nil, err
	}
	s.principal = p
	return p, nil
}

// 요청 페이로드
type (
	tokenPayload struct {
		Token string `json:"token"`
	}
	sessionPayload struct {
		SessionID string `json:"sessionId"`
	}
	sendPayload struct {
		SessionID string `json:"sessionId"`
		SendMessageRequest
	}
	editPayload struct {
		MessageID string `json:"messageId"`
		Body      string `json:"body"`
	}
	messagePayload struct {
		MessageID string `json:"messageId"`
	}
	createPollPayload struct {
		SessionID string `json:"sessionId"`
		CreatePollRequest
	}
	votePayload struct {
		PollID      string `json:"pollId"`
		OptionIndex *int   `json:"optionIndex"`
	}
	answerPayload struct {
		PollID string `json:"pollId"`
		Text   string `json:"text"`
	}
	pollPayload struct {
		PollID string `json:"pollId"`
	}
)

// decodePayload 객체 페이로드 또는 문자열 하나를 디코드
// 문자열이면 JSON 문서로 해석해 보고, 아니면 field 값으로 사용한다.
func decodePayload(raw json.RawMessage, v interface{}, setString func(string)) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return apperror.New(apperror.InvalidInput, "payload is required")
	}
	if raw[0] == '"' {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return apperror.New(apperror.InvalidInput, "invalid payload")
		}
		if inner := bytes.TrimSpace([]byte(str)); len(inner) > 0 && inner[0] == '{' {
			raw = inner
		} else {
			if setString == nil {
				return apperror.New(apperror.InvalidInput, "payload must be an object")
			}
			setString(str)
			return nil
		}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperror.New(apperror.InvalidInput, "invalid payload")
	}
	return nil
}

// dispatch 요청 타입별 처리, ack 페이로드 반환
func (s *socketSession) dispatch(ctx context.Context, f *Frame) (interface{}, error) {
	c := s.handler.classroom

	switch f.Type {
	case ReqPing:
		return fiber.Map{"pong": time.Now().UnixMilli()}, nil
	case ReqAuthenticate:
		var p tokenPayload
		if err := decodePayload(f.Payload, &p, func(v string) { p.Token = v }); err != nil {
			return nil, err
		}
		principal, err := s.authenticate(ctx, p.Token)
		if err != nil {
			return nil, err
		}
		return fiber.Map{"user": principal}, nil
	}

	if s.principal == nil {
		return nil, apperror.New(apperror.Unauthenticated, "authenticate first")
	}
	me := s.principal.ID

	switch f.Type {
	case ReqEnterRoom:
		var p sessionPayload
		if err := decodePayload(f.Payload, &p, func(v string) { p.SessionID = v }); err != nil {
			return nil, err
		}
		online, err := c.EnterRoom(ctx, s.conn.ID(), p.SessionID)
		if err != nil {
			return nil, err
		}
		return fiber.Map{"sessionId": p.SessionID, "online": online}, nil

	case ReqLeaveRoom:
		var p sessionPayload
		if err := decodePayload(f.Payload, &p, func(v string) { p.SessionID = v }); err != nil {
			return nil, err
		}
		if err := c.LeaveRoom(s.conn.ID(), p.SessionID); err != nil {
			return nil, err
		}
		return fiber.Map{"sessionId": p.SessionID}, nil

	case ReqSendMessage:
		var p sendPayload
		if err := decodePayload(f.Payload, &p, nil); err != nil {
			return nil, err
		}
		res, err := c.SendMessage(ctx, me, p.SessionID, p.payload())
		if err != nil {
			return nil, err
		}
		return res.View, nil

	case ReqEditMessage:
		var p editPayload
		if err := decodePayload(f.Payload, &p, nil); err != nil {
			return nil, err
		}
		res, err := c.EditMessage(ctx, me, p.MessageID, p.Body)
		if err != nil {
			return nil, err
		}
		return res.View, nil

	case ReqDeleteMessage:
		var p messagePayload
		if err := decodePayload(f.Payload, &p, func(v string) { p.MessageID = v }); err != nil {
			return nil, err
		}
		res, err := c.DeleteMessage(ctx, me, p.MessageID)
		if err != nil {
			return nil, err
		}
		return res.View, nil

	case ReqMarkRead:
		var p messagePayload
		if err := decodePayload(f.Payload, &p, func(v string) { p.MessageID = v }); err != nil {
			return nil, err
		}
		changed, err := c.MarkRead(ctx, me, p.MessageID)
		if err != nil {
			return nil, err
		}
		return fiber.Map{"messageId": p.MessageID, "marked": changed}, nil

	case ReqCreatePoll:
		var p createPollPayload
		if err := decodePayload(f.Payload, &p, nil); err != nil {
			return nil, err
		}
		res, err := c.CreatePoll(ctx, s.principal, p.SessionID, p.spec())
		if err != nil {
			return nil, err
		}
		return res.Results, nil

	case ReqVote:
		var p votePayload
		if err := decodePayload(f.Payload, &p, nil); err != nil {
			return nil, err
		}
		if p.OptionIndex == nil {
			return nil, apperror.New(apperror.InvalidInput, "optionIndex is required")
		}
		res, err := c.Vote(ctx, me, p.PollID, *p.OptionIndex)
		if err != nil {
			return nil, err
		}
		return res.Results, nil

	case ReqAnswer:
		var p answerPayload
		if err := decodePayload(f.Payload, &p, nil); err != nil {
			return nil, err
		}
		res, err := c.Answer(ctx, me, p.PollID, p.Text)
		if err != nil {
			return nil, err
		}
		return res.Results, nil

	case ReqClosePoll:
		var p pollPayload
		if err := decodePayload(f.Payload, &p, func(v string) { p.PollID = v }); err != nil {
			return nil, err
		}
		res, err := c.ClosePoll(ctx, me, p.PollID)
		if err != nil {
			return nil, err
		}
		return res.Results, nil

	case ReqEndSession:
		var p sessionPayload
		if err := decodePayload(f.Payload, &p, func(v string) { p.SessionID = v }); err != nil {
			return nil, err
		}
		g, err := c.EndSession(ctx, me, p.SessionID)
		if err != nil {
			return nil, err
		}
		return fiber.Map{"sessionId": g.ID, "active": g.IsActive}, nil

	case ReqTyping, ReqStopTyping:
		var p sessionPayload
		if err := decodePayload(f.Payload, &p, func(v string) { p.SessionID = v }); err != nil {
			return nil, err
		}
		if err := c.Typing(s.conn.ID(), p.SessionID, f.Type == ReqTyping); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return nil, apperror.Newf(apperror.InvalidInput, "unknown request type %q", f.Type)
}
