package engine

import (
	"context"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/saiproject-202/ClassVibe/internal/apperror"
	"github.com/saiproject-202/ClassVibe/internal/broadcast"
	"github.com/saiproject-202/ClassVibe/internal/model"
)

// SendPayload 메시지 전송 요청
type SendPayload struct {
	Kind        model.MessageKind
	Body        string
	RecipientID string
	ReplyToID   string
	UploadID    string
}

// MessageResult 변경된 메시지와 fan-out
type MessageResult struct {
	Message *model.Message
	View    MessageView
	Fanout  broadcast.Fanout
}

// validateBody 본문 검증
func (e *Engine) validateBody(body string, required bool) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" && required {
		return "", apperror.New(apperror.InvalidInput, "message content is required")
	}
	if utf8.RuneCountInString(body) > e.cfg.MaxBodyLength {
		return "", apperror.Newf(apperror.InvalidInput, "message must be at most %d characters", e.cfg.MaxBodyLength)
	}
	return body, nil
}

// Send 메시지 생성
func (e *Engine) Send(ctx context.Context, senderID, sessionID string, p SendPayload) (*MessageResult, error) {
	kind := p.Kind
	if kind == "" {
		kind = model.MessageKindText
	}
	if !kind.Valid() {
		return nil, apperror.Newf(apperror.InvalidInput, "unsupported message kind %q", kind)
	}
	if kind == model.MessageKindFile && p.UploadID == "" {
		return nil, apperror.New(apperror.InvalidInput, "file messages require an uploaded file reference")
	}
	body, err := e.validateBody(p.Body, kind != model.MessageKindFile)
	if err != nil {
		return nil, err
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	// 존재하지 않는 세션 id로 락을 잡지 않도록 먼저 조회
	if _, err := e.sessions.Session(ctx, sessionID); err != nil {
		return nil, err
	}

	unlock := e.sessions.Lock(sessionID)
	defer unlock()

	g, err := e.sessions.CheckActiveMember(ctx, sessionID, senderID)
	if err != nil {
		return nil, err
	}
	if kind == model.MessageKindSystem && g.AdminID != senderID {
		return nil, apperror.New(apperror.Forbidden, "only the session admin can post system messages")
	}

	m := &model.Message{
		ID:        uuid.NewString(),
		GroupID:   sessionID,
		SenderID:  senderID,
		Body:      body,
		Kind:      kind,
		ReadBy:    model.ReadSet{},
		CreatedAt: e.now(),
	}

	if p.RecipientID != "" {
		if p.RecipientID == senderID {
			return nil, apperror.New(apperror.InvalidInput, "cannot send a private message to yourself")
		}
		if !hasMember(g, p.RecipientID) {
			return nil, apperror.New(apperror.InvalidInput, "recipient is not a member of this session")
		}
		recipient := p.RecipientID
		m.RecipientID = &recipient
	}

	var reply *model.Message
	if p.ReplyToID != "" {
		reply, err = e.store.GetMessage(ctx, p.ReplyToID)
		if err != nil {
			if apperror.KindOf(err) == apperror.NotFound {
				return nil, apperror.New(apperror.InvalidInput, "reply target not found")
			}
			return nil, err
		}
		if reply.GroupID != sessionID || !reply.VisibleTo(senderID) {
			return nil, apperror.New(apperror.InvalidInput, "reply target not found")
		}
		replyID := reply.ID
		m.ReplyToID = &replyID
	}

	if kind == model.MessageKindFile {
		upload, err := e.store.GetUpload(ctx, p.UploadID)
		if err != nil {
			if apperror.KindOf(err) == apperror.NotFound {
				return nil, apperror.New(apperror.InvalidInput, "uploaded file not found")
			}
			return nil, err
		}
		if upload.UploaderID != senderID {
			return nil, apperror.New(apperror.Forbidden, "you can only share your own uploads")
		}
		m.FileURL = &upload.URL
		m.FileName = &upload.Name
		m.FileSize = &upload.Size
		m.FileType = &upload.MimeType
		if m.Body == "" {
			m.Body = upload.Name
		}
	}

	if err := e.store.CreateMessage(ctx, m); err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Append(ctx, sessionID, m)
	}

	view := NewMessageView(m, reply)
	f := e.publish(sessionID, messageFanout(m, broadcast.Event{Type: broadcast.EventMessageCreated, Payload: view}))
	return &MessageResult{Message: m, View: view, Fanout: f}, nil
}

// lockMessage 메시지가 속한 세션의 락을 잡고 최신 상태로 다시 조회
func (e *Engine) lockMessage(ctx context.Context, messageID string) (*model.Message, func(), error) {
	m, err := e.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, nil, err
	}
	unlock := e.sessions.Lock(m.GroupID)
	m, err = e.store.GetMessage(ctx, messageID)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return m, unlock, nil
}

// authorizeSender 편집/삭제 권한 확인
func (e *Engine) authorizeSender(ctx context.Context, m *model.Message, requesterID, action string) error {
	if m.SenderID != requesterID {
		return apperror.Newf(apperror.Forbidden, "only the sender can %s this message", action)
	}
	if m.IsDeleted {
		return apperror.Newf(apperror.Conflict, "cannot %s a deleted message", action)
	}
	g, err := e.sessions.Session(ctx, m.GroupID)
	if err != nil {
		return err
	}
	if !g.IsActive {
		return apperror.New(apperror.SessionEnded, "This session has ended")
	}
	return nil
}

// Edit 메시지 수정 (발신자만, 삭제된 메시지 불가)
func (e *Engine) Edit(ctx context.Context, requesterID, messageID, newBody string) (*MessageResult, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	m, unlock, err := e.lockMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := e.authorizeSender(ctx, m, requesterID, "edit"); err != nil {
		return nil, err
	}
	body, err := e.validateBody(newBody, true)
	if err != nil {
		return nil, err
	}

	now := e.now()
	m.Body = body
	m.IsEdited = true
	m.EditedAt = &now
	if err := e.store.UpdateMessage(ctx, m); err != nil {
		return nil, err
	}
	e.invalidate(ctx, m.GroupID)

	view := NewMessageView(m, e.resolveReply(ctx, m, nil))
	f := e.publish(m.GroupID, messageFanout(m, broadcast.Event{Type: broadcast.EventMessageEdited, Payload: view}))
	return &MessageResult{Message: m, View: view, Fanout: f}, nil
}

// Delete 메시지 소프트 삭제 (되돌릴 수 없음)
func (e *Engine) Delete(ctx context.Context, requesterID, messageID string) (*MessageResult, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	m, unlock, err := e.lockMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := e.authorizeSender(ctx, m, requesterID, "delete"); err != nil {
		return nil, err
	}

	now := e.now()
	m.IsDeleted = true
	m.DeletedAt = &now
	m.Body = model.DeletedMessageBody
	m.FileURL, m.FileName, m.FileSize, m.FileType = nil, nil, nil, nil
	if err := e.store.UpdateMessage(ctx, m); err != nil {
		return nil, err
	}
	e.invalidate(ctx, m.GroupID)

	marker := DeletionMarker{MessageID: m.ID, GroupID: m.GroupID, Body: m.Body, DeletedAt: now}
	f := e.publish(m.GroupID, messageFanout(m, broadcast.Event{Type: broadcast.EventMessageDeleted, Payload: marker}))
	return &MessageResult{Message: m, View: NewMessageView(m, nil), Fanout: f}, nil
}

// MarkRead 읽음 처리 (멱등), 새로 기록했는지 반환
func (e *Engine) MarkRead(ctx context.Context, readerID, messageID string) (bool, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	m, unlock, err := e.lockMessage(ctx, messageID)
	if err != nil {
		return false, err
	}
	defer unlock()

	g, err := e.sessions.Session(ctx, m.GroupID)
	if err != nil {
		return false, err
	}
	if !hasMember(g, readerID) {
		return false, apperror.New(apperror.Forbidden, "you are not a member of this session")
	}
	if !m.VisibleTo(readerID) {
		return false, apperror.New(apperror.NotFound, "message not found")
	}
	if m.SenderID == readerID || m.ReadBy.Has(readerID) {
		return false, nil
	}

	if m.ReadBy == nil {
		m.ReadBy = model.ReadSet{}
	}
	m.ReadBy[readerID] = e.now()
	if err := e.store.UpdateMessage(ctx, m); err != nil {
		return false, err
	}
	e.invalidate(ctx, m.GroupID)
	return true, nil
}

// Recent 최근 메시지 (오래된 순), 볼 수 없는 귓속말 제외
func (e *Engine) Recent(ctx context.Context, viewerID, sessionID string, limit int) ([]MessageView, error) {
	if limit <= 0 || limit > e.cfg.HistoryLimit {
		limit = e.cfg.HistoryLimit
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	if err := e.checkReader(ctx, sessionID, viewerID); err != nil {
		return nil, err
	}

	var msgs []model.Message
	cached := false
	if e.cache != nil {
		msgs, cached = e.cache.Recent(ctx, sessionID, limit)
	}
	if !cached {
		// 캐시 채우기가 동시 Send의 Append와 섞이지 않도록 세션 락 안에서 조회
		unlock := e.sessions.Lock(sessionID)
		var err error
		msgs, err = e.store.ListRecentMessages(ctx, sessionID, limit)
		if err == nil && e.cache != nil && limit == e.cfg.HistoryLimit {
			e.cache.Fill(ctx, sessionID, msgs)
		}
		unlock()
		if err != nil {
			return nil, err
		}
	}
	return e.views(ctx, viewerID, msgs), nil
}

// Unread 읽지 않은 메시지 (본인 발신, 삭제된 메시지 제외)
func (e *Engine) Unread(ctx context.Context, viewerID, sessionID string) ([]MessageView, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	if err := e.checkReader(ctx, sessionID, viewerID); err != nil {
		return nil, err
	}
	all, err := e.store.ListGroupMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	unread := make([]model.Message, 0)
	for _, m := range all {
		if m.SenderID == viewerID || m.IsDeleted || m.ReadBy.Has(viewerID) {
			continue
		}
		unread = append(unread, m)
	}
	return e.views(ctx, viewerID, unread), nil
}

// Search 본문 검색 (대소문자 무시, 최신 순)
func (e *Engine) Search(ctx context.Context, viewerID, sessionID, query string) ([]MessageView, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperror.New(apperror.InvalidInput, "search query is required")
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	if err := e.checkReader(ctx, sessionID, viewerID); err != nil {
		return nil, err
	}
	msgs, err := e.store.SearchMessages(ctx, sessionID, query, e.cfg.SearchLimit)
	if err != nil {
		return nil, err
	}
	return e.views(ctx, viewerID, msgs), nil
}

// checkReader 조회 권한 (종료된 세션도 멤버는 조회 가능)
func (e *Engine) checkReader(ctx context.Context, sessionID, viewerID string) error {
	g, err := e.sessions.Session(ctx, sessionID)
	if err != nil {
		return err
	}
	if !hasMember(g, viewerID) {
		return apperror.New(apperror.Forbidden, "you are not a member of this session")
	}
	return nil
}

// views 가시성 필터 후 투영, reply는 목록 안에서 먼저 찾고 없으면 조회
func (e *Engine) views(ctx context.Context, viewerID string, msgs []model.Message) []MessageView {
	byID := make(map[string]*model.Message, len(msgs))
	for i := range msgs {
		byID[msgs[i].ID] = &msgs[i]
	}

	out := make([]MessageView, 0, len(msgs))
	for i := range msgs {
		m := &msgs[i]
		if !m.VisibleTo(viewerID) {
			continue
		}
		reply := e.resolveReply(ctx, m, byID)
		if reply != nil && !reply.VisibleTo(viewerID) {
			reply = nil
		}
		out = append(out, NewMessageView(m, reply))
	}
	return out
}

func (e *Engine) resolveReply(ctx context.Context, m *model.Message, loaded map[string]*model.Message) *model.Message {
	if m.ReplyToID == nil {
		return nil
	}
	if r, ok := loaded[*m.ReplyToID]; ok {
		return r
	}
	r, err := e.store.GetMessage(ctx, *m.ReplyToID)
	if err != nil {
		if apperror.KindOf(err) != apperror.NotFound {
			log.Printf("[Engine] resolve reply %s: %v", *m.ReplyToID, err)
		}
		return nil
	}
	if loaded != nil {
		loaded[r.ID] = r
	}
	return r
}

func (e *Engine) invalidate(ctx context.Context, groupID string) {
	if e.cache != nil {
		e.cache.Invalidate(ctx, groupID)
	}
}

func hasMember(g *model.Group, principalID string) bool {
	if g.AdminID == principalID {
		return true
	}
	for _, m := range g.Members {
		if m.UserID == principalID {
			return true
		}
	}
	return false
}
