package engine

import (
	"context"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/saiproject-202/ClassVibe/internal/apperror"
	"github.com/saiproject-202/ClassVibe/internal/auth"
	"github.com/saiproject-202/ClassVibe/internal/broadcast"
	"github.com/saiproject-202/ClassVibe/internal/model"
)

// PollSpec 투표 생성 요청
type PollSpec struct {
	Kind               model.PollKind
	Question           string
	Options            []string
	AllowMultipleVotes bool
	IsAnonymous        bool
	ExpiresAt          *time.Time
}

// PollResult 변경된 투표와 fan-out
type PollResult struct {
	Poll    *model.Poll
	Results PollResults
	Fanout  broadcast.Fanout
}

// normalizeSpec 투표 요청 검증 및 정규화
func (e *Engine) normalizeSpec(spec PollSpec) (PollSpec, error) {
	spec.Question = strings.TrimSpace(spec.Question)
	if spec.Question == "" {
		return spec, apperror.New(apperror.InvalidInput, "poll question is required")
	}
	if utf8.RuneCountInString(spec.Question) > e.cfg.MaxQuestionLength {
		return spec, apperror.Newf(apperror.InvalidInput, "question must be at most %d characters", e.cfg.MaxQuestionLength)
	}

	switch spec.Kind {
	case model.PollKindSingleChoice:
		opts := make([]string, 0, len(spec.Options))
		for _, o := range spec.Options {
			o = strings.TrimSpace(o)
			if o == "" {
				return spec, apperror.New(apperror.InvalidInput, "poll options cannot be empty")
			}
			if utf8.RuneCountInString(o) > e.cfg.MaxOptionLength {
				return spec, apperror.Newf(apperror.InvalidInput, "option must be at most %d characters", e.cfg.MaxOptionLength)
			}
			opts = append(opts, o)
		}
		if len(opts) < 2 {
			return spec, apperror.New(apperror.InvalidInput, "single-choice polls need at least 2 options")
		}
		if len(opts) > e.cfg.MaxOptions {
			return spec, apperror.Newf(apperror.InvalidInput, "polls support at most %d options", e.cfg.MaxOptions)
		}
		spec.Options = opts
	case model.PollKindYesNo:
		spec.Options = []string{"Yes", "No"}
	case model.PollKindOpenText:
		spec.Options = nil
		spec.AllowMultipleVotes = false
	default:
		return spec, apperror.Newf(apperror.InvalidInput, "unsupported poll kind %q", spec.Kind)
	}

	if spec.ExpiresAt != nil && !spec.ExpiresAt.After(e.now()) {
		return spec, apperror.New(apperror.InvalidInput, "poll expiry must be in the future")
	}
	return spec, nil
}

// CreatePoll 투표 생성 (세션 관리자 또는 teacher/admin 역할)
// 투표 참조 메시지도 함께 생성해 room에 알린다.
func (e *Engine) CreatePoll(ctx context.Context, creator *auth.Principal, sessionID string, spec PollSpec) (*PollResult, error) {
	spec, err := e.normalizeSpec(spec)
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

	g, err := e.sessions.CheckActiveMember(ctx, sessionID, creator.ID)
	if err != nil {
		return nil, err
	}
	if g.AdminID != creator.ID && !creator.Role.CanModerate() {
		return nil, apperror.New(apperror.Forbidden, "only teachers can create polls")
	}

	now := e.now()
	expiresAt := now.Add(e.cfg.PollLifetime)
	if spec.ExpiresAt != nil {
		expiresAt = *spec.ExpiresAt
	}

	p := &model.Poll{
		ID:                 uuid.NewString(),
		GroupID:            sessionID,
		CreatorID:          creator.ID,
		Kind:               spec.Kind,
		Question:           spec.Question,
		Ballots:            map[string][]int{},
		Answered:           map[string]int{},
		AllowMultipleVotes: spec.AllowMultipleVotes,
		IsAnonymous:        spec.IsAnonymous,
		IsActive:           true,
		ExpiresAt:          expiresAt,
		CreatedAt:          now,
	}
	for _, text := range spec.Options {
		p.Options = append(p.Options, model.PollOption{Text: text, Voters: []string{}})
	}
	if err := e.store.CreatePoll(ctx, p); err != nil {
		return nil, err
	}

	pollID := p.ID
	ref := &model.Message{
		ID:        uuid.NewString(),
		GroupID:   sessionID,
		SenderID:  creator.ID,
		Body:      p.Question,
		Kind:      model.MessageKindPoll,
		PollID:    &pollID,
		ReadBy:    model.ReadSet{},
		CreatedAt: now,
	}
	refErr := e.store.CreateMessage(ctx, ref)
	if refErr != nil {
		log.Printf("[Engine] poll reference message for %s: %v", p.ID, refErr)
	} else if e.cache != nil {
		e.cache.Append(ctx, sessionID, ref)
	}

	results := Results(p)
	f := e.publish(sessionID, broadcast.Room(broadcast.Event{Type: broadcast.EventPollCreated, Payload: results}))
	if refErr == nil {
		e.publish(sessionID, broadcast.Room(broadcast.Event{Type: broadcast.EventMessageCreated, Payload: NewMessageView(ref, nil)}))
	}
	return &PollResult{Poll: p, Results: results, Fanout: f}, nil
}

// lockPoll 투표가 속한 세션의 락을 잡고 최신 상태로 다시 조회
func (e *Engine) lockPoll(ctx context.Context, pollID string) (*model.Poll, func(), error) {
	p, err := e.store.GetPoll(ctx, pollID)
	if err != nil {
		return nil, nil, err
	}
	unlock := e.sessions.Lock(p.GroupID)
	p, err = e.store.GetPoll(ctx, pollID)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return p, unlock, nil
}

// checkOpen 마감/만료 확인
func (e *Engine) checkOpen(p *model.Poll) error {
	if !p.IsActive {
		return apperror.New(apperror.Inactive, "poll is closed")
	}
	if p.IsExpired(e.now()) {
		return apperror.New(apperror.Expired, "poll has expired")
	}
	return nil
}

// Vote 선택형 투표
func (e *Engine) Vote(ctx context.Context, voterID, pollID string, optionIndex int) (*PollResult, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	p, unlock, err := e.lockPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := e.sessions.CheckActiveMember(ctx, p.GroupID, voterID); err != nil {
		return nil, err
	}
	if !p.Kind.IsChoice() {
		return nil, apperror.New(apperror.InvalidInput, "this poll does not accept option votes")
	}
	if optionIndex < 0 || optionIndex >= len(p.Options) {
		return nil, apperror.Newf(apperror.InvalidInput, "option index %d is out of range", optionIndex)
	}
	if err := e.checkOpen(p); err != nil {
		return nil, err
	}
	if p.HasVoted(voterID) {
		if !p.AllowMultipleVotes {
			return nil, apperror.New(apperror.Conflict, "you have already voted on this poll")
		}
		for _, idx := range p.Ballots[voterID] {
			if idx == optionIndex {
				return nil, apperror.New(apperror.Conflict, "you have already voted for this option")
			}
		}
	}

	if p.Ballots == nil {
		p.Ballots = map[string][]int{}
	}
	p.Options[optionIndex].Voters = append(p.Options[optionIndex].Voters, voterID)
	p.Ballots[voterID] = append(p.Ballots[voterID], optionIndex)
	if err := e.store.UpdatePoll(ctx, p); err != nil {
		return nil, err
	}

	return e.pollUpdated(p), nil
}

// Answer 주관식 응답
func (e *Engine) Answer(ctx context.Context, voterID, pollID, text string) (*PollResult, error) {
	text = strings.TrimSpace(text)

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	p, unlock, err := e.lockPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := e.sessions.CheckActiveMember(ctx, p.GroupID, voterID); err != nil {
		return nil, err
	}
	if p.Kind != model.PollKindOpenText {
		return nil, apperror.New(apperror.Conflict, "this poll does not accept text answers")
	}
	if text == "" {
		return nil, apperror.New(apperror.InvalidInput, "answer text is required")
	}
	if utf8.RuneCountInString(text) > e.cfg.MaxAnswerLength {
		return nil, apperror.Newf(apperror.InvalidInput, "answer must be at most %d characters", e.cfg.MaxAnswerLength)
	}
	if err := e.checkOpen(p); err != nil {
		return nil, err
	}
	if p.HasAnswered(voterID) {
		return nil, apperror.New(apperror.Conflict, "you have already answered this poll")
	}

	if p.Answered == nil {
		p.Answered = map[string]int{}
	}
	p.Answers = append(p.Answers, model.PollAnswer{UserID: voterID, Text: text, SubmittedAt: e.now()})
	p.Answered[voterID] = len(p.Answers) - 1
	if err := e.store.UpdatePoll(ctx, p); err != nil {
		return nil, err
	}

	return e.pollUpdated(p), nil
}

// Close 투표 마감 (생성자 또는 세션 관리자, 되돌릴 수 없음)
func (e *Engine) Close(ctx context.Context, requesterID, pollID string) (*PollResult, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	p, unlock, err := e.lockPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	g, err := e.sessions.Session(ctx, p.GroupID)
	if err != nil {
		return nil, err
	}
	if p.CreatorID != requesterID && g.AdminID != requesterID {
		return nil, apperror.New(apperror.Forbidden, "only the poll creator or session admin can close this poll")
	}
	if !p.IsActive {
		return nil, apperror.New(apperror.Inactive, "poll is already closed")
	}

	p.IsActive = false
	if err := e.store.UpdatePoll(ctx, p); err != nil {
		return nil, err
	}
	return e.pollUpdated(p), nil
}

// CloseExpired 만료된 활성 투표 마감, 마감한 개수 반환
func (e *Engine) CloseExpired(ctx context.Context) (int, error) {
	polls, err := e.store.ListExpiredPolls(ctx, e.now())
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, stale := range polls {
		p, unlock, err := e.lockPoll(ctx, stale.ID)
		if err != nil {
			return closed, err
		}
		if p.IsActive && p.IsExpired(e.now()) {
			p.IsActive = false
			if err := e.store.UpdatePoll(ctx, p); err != nil {
				unlock()
				return closed, err
			}
			e.pollUpdated(p)
			closed++
		}
		unlock()
	}
	return closed, nil
}

// Results 투표 결과 조회 (세션 멤버만)
func (e *Engine) Results(ctx context.Context, viewerID, pollID string) (*PollResults, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	p, err := e.store.GetPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if err := e.checkReader(ctx, p.GroupID, viewerID); err != nil {
		return nil, err
	}
	r := Results(p)
	return &r, nil
}

// ListPolls 세션의 투표 목록 (최신 순)
func (e *Engine) ListPolls(ctx context.Context, viewerID, sessionID string, activeOnly bool) ([]PollResults, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	if err := e.checkReader(ctx, sessionID, viewerID); err != nil {
		return nil, err
	}
	polls, err := e.store.ListPolls(ctx, sessionID, activeOnly)
	if err != nil {
		return nil, err
	}
	out := make([]PollResults, 0, len(polls))
	for i := range polls {
		out = append(out, Results(&polls[i]))
	}
	return out, nil
}

// pollUpdated 집계 결과 발행 (세션 도메인 락 안에서 호출)
func (e *Engine) pollUpdated(p *model.Poll) *PollResult {
	results := Results(p)
	f := e.publish(p.GroupID, broadcast.Room(broadcast.Event{Type: broadcast.EventPollUpdated, Payload: results}))
	return &PollResult{Poll: p, Results: results, Fanout: f}
}
