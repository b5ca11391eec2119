package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/saiproject-202/ClassVibe/internal/auth"
	"github.com/saiproject-202/ClassVibe/internal/engine"
	"github.com/saiproject-202/ClassVibe/internal/model"
	"github.com/saiproject-202/ClassVibe/internal/service"
)

// PollHandler 투표 핸들러
type PollHandler struct {
	classroom *service.Classroom
}

// NewPollHandler PollHandler 생성
func NewPollHandler(classroom *service.Classroom) *PollHandler {
	return &PollHandler{classroom: classroom}
}

// CreatePollRequest 투표 생성 요청
type CreatePollRequest struct {
	Kind               string   `json:"kind"`
	Question           string   `json:"question"`
	Options            []string `json:"options"`
	AllowMultipleVotes bool     `json:"allowMultipleVotes"`
	IsAnonymous        bool     `json:"isAnonymous"`
	Duration           int64    `json:"duration"` // ms, 0이면 기본 수명
}

func (r CreatePollRequest) spec() engine.PollSpec {
	spec := engine.PollSpec{
		Kind:               model.PollKind(r.Kind),
		Question:           r.Question,
		Options:            r.Options,
		AllowMultipleVotes: r.AllowMultipleVotes,
		IsAnonymous:        r.IsAnonymous,
	}
	if spec.Kind == "" {
		spec.Kind = model.PollKindSingleChoice
	}
	if r.Duration > 0 {
		expiresAt := time.Now().Add(time.Duration(r.Duration) * time.Millisecond)
		spec.ExpiresAt = &expiresAt
	}
	return spec
}

// VoteRequest 투표 요청
type VoteRequest struct {
	OptionIndex *int `json:"optionIndex"`
}

// AnswerRequest 주관식 응답 요청
type AnswerRequest struct {
	Text string `json:"text"`
}

// Create 투표 생성
func (h *PollHandler) Create(c *fiber.Ctx) error {
	var req CreatePollRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	res, err := h.classroom.CreatePoll(c.UserContext(), auth.GetPrincipal(c), c.Params("groupId"), req.spec())
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(res.Results)
}

// List 세션 투표 목록 (?active=true)
func (h *PollHandler) List(c *fiber.Ctx) error {
	polls, err := h.classroom.ListPolls(c.UserContext(), auth.GetPrincipal(c).ID, c.Params("groupId"), c.QueryBool("active", false))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"polls": polls,
		"total": len(polls),
	})
}

// Results 투표 결과
func (h *PollHandler) Results(c *fiber.Ctx) error {
	res, err := h.classroom.PollResults(c.UserContext(), auth.GetPrincipal(c).ID, c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(res)
}

// Vote 선택지 투표
func (h *PollHandler) Vote(c *fiber.Ctx) error {
	var req VoteRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.OptionIndex == nil {
		return badRequest(c, "optionIndex is required")
	}

	res, err := h.classroom.Vote(c.UserContext(), auth.GetPrincipal(c).ID, c.Params("id"), *req.OptionIndex)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(res.Results)
}

// Answer 주관식 응답
func (h *PollHandler) Answer(c *fiber.Ctx) error {
	var req AnswerRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	res, err := h.classroom.Answer(c.UserContext(), auth.GetPrincipal(c).ID, c.Params("id"), req.Text)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(res.Results)
}

// Close 투표 마감
func (h *PollHandler) Close(c *fiber.Ctx) error {
	res, err := h.classroom.ClosePoll(c.UserContext(), auth.GetPrincipal(c).ID, c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(res.Results)
}
