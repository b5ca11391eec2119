package engine

import (
	"math"
	"sort"
	"time"

	"github.com/saiproject-202/ClassVibe/internal/model"
)

// FileView 첨부 파일 정보
type FileView struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
}

// ReplyView 답장 대상 메시지 요약
type ReplyView struct {
	ID       string `json:"id"`
	Body     string `json:"body"`
	SenderID string `json:"senderId"`
}

// ReadReceipt 읽음 기록
type ReadReceipt struct {
	UserID string    `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

// MessageView 클라이언트에 전달되는 메시지
type MessageView struct {
	ID          string            `json:"id"`
	GroupID     string            `json:"groupId"`
	SenderID    string            `json:"senderId"`
	RecipientID string            `json:"recipientId,omitempty"`
	Body        string            `json:"body"`
	Kind        model.MessageKind `json:"kind"`
	PollID      string            `json:"pollId,omitempty"`
	File        *FileView         `json:"file,omitempty"`
	ReplyTo     *ReplyView        `json:"replyTo,omitempty"`
	IsPrivate   bool              `json:"isPrivate"`
	IsEdited    bool              `json:"isEdited"`
	EditedAt    *time.Time        `json:"editedAt,omitempty"`
	IsDeleted   bool              `json:"isDeleted"`
	DeletedAt   *time.Time        `json:"deletedAt,omitempty"`
	ReadBy      []ReadReceipt     `json:"readBy"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// DeletionMarker 삭제 이벤트 페이로드 (본문 미포함)
type DeletionMarker struct {
	MessageID string    `json:"messageId"`
	GroupID   string    `json:"groupId"`
	Body      string    `json:"body"`
	DeletedAt time.Time `json:"deletedAt"`
}

// NewMessageView Message 투영 (reply는 호출자가 해석해 전달)
func NewMessageView(m *model.Message, reply *model.Message) MessageView {
	v := MessageView{
		ID:        m.ID,
		GroupID:   m.GroupID,
		SenderID:  m.SenderID,
		Body:      m.Body,
		Kind:      m.Kind,
		IsPrivate: m.IsPrivate(),
		IsEdited:  m.IsEdited,
		EditedAt:  m.EditedAt,
		IsDeleted: m.IsDeleted,
		DeletedAt: m.DeletedAt,
		ReadBy:    make([]ReadReceipt, 0, len(m.ReadBy)),
		CreatedAt: m.CreatedAt,
	}
	if m.IsPrivate() {
		v.RecipientID = *m.RecipientID
	}
	if m.PollID != nil {
		v.PollID = *m.PollID
	}
	if m.FileURL != nil && !m.IsDeleted {
		v.File = &FileView{URL: *m.FileURL}
		if m.FileName != nil {
			v.File.Name = *m.FileName
		}
		if m.FileSize != nil {
			v.File.Size = *m.FileSize
		}
		if m.FileType != nil {
			v.File.Type = *m.FileType
		}
	}
	if reply != nil {
		v.ReplyTo = &ReplyView{ID: reply.ID, Body: reply.Body, SenderID: reply.SenderID}
	}
	for userID, at := range m.ReadBy {
		v.ReadBy = append(v.ReadBy, ReadReceipt{UserID: userID, ReadAt: at})
	}
	sort.Slice(v.ReadBy, func(i, j int) bool { return v.ReadBy[i].ReadAt.Before(v.ReadBy[j].ReadAt) })
	return v
}

// OptionResult 선택지별 집계
type OptionResult struct {
	Index      int      `json:"index"`
	Text       string   `json:"text"`
	Count      int      `json:"count"`
	Percentage float64  `json:"percentage"`
	Voters     []string `json:"voters,omitempty"`
}

// AnswerResult 주관식 응답
type AnswerResult struct {
	UserID      string    `json:"userId,omitempty"`
	Text        string    `json:"text"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// PollResults 투표 결과 투영
type PollResults struct {
	PollID             string         `json:"pollId"`
	GroupID            string         `json:"groupId"`
	CreatorID          string         `json:"creatorId"`
	Kind               model.PollKind `json:"kind"`
	Question           string         `json:"question"`
	IsActive           bool           `json:"isActive"`
	IsAnonymous        bool           `json:"isAnonymous"`
	AllowMultipleVotes bool           `json:"allowMultipleVotes"`
	ExpiresAt          time.Time      `json:"expiresAt"`
	TotalVotes         int            `json:"totalVotes"`
	Options            []OptionResult `json:"options,omitempty"`
	TotalAnswers       int            `json:"totalAnswers"`
	Answers            []AnswerResult `json:"answers,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
}

// Results 투표 결과 계산 (익명이면 투표자/응답자 비공개)
func Results(p *model.Poll) PollResults {
	r := PollResults{
		PollID:             p.ID,
		GroupID:            p.GroupID,
		CreatorID:          p.CreatorID,
		Kind:               p.Kind,
		Question:           p.Question,
		IsActive:           p.IsActive,
		IsAnonymous:        p.IsAnonymous,
		AllowMultipleVotes: p.AllowMultipleVotes,
		ExpiresAt:          p.ExpiresAt,
		TotalVotes:         p.TotalVotes(),
		TotalAnswers:       len(p.Answers),
		CreatedAt:          p.CreatedAt,
	}

	for i, opt := range p.Options {
		or := OptionResult{
			Index:      i,
			Text:       opt.Text,
			Count:      len(opt.Voters),
			Percentage: percentage(len(opt.Voters), r.TotalVotes),
		}
		if !p.IsAnonymous {
			or.Voters = append([]string{}, opt.Voters...)
		}
		r.Options = append(r.Options, or)
	}

	for _, a := range p.Answers {
		ar := AnswerResult{Text: a.Text, SubmittedAt: a.SubmittedAt}
		if !p.IsAnonymous {
			ar.UserID = a.UserID
		}
		r.Answers = append(r.Answers, ar)
	}
	return r
}

// percentage 소수 첫째 자리 반올림, 총합 0이면 0
func percentage(count, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(count)*1000/float64(total)) / 10
}
