package handler

import (
	"bytes"
	"encoding/json"

	"github.com/gofiber/fiber/v2"

	"github.com/saiproject-202/ClassVibe/internal/apperror"
	"github.com/saiproject-202/ClassVibe/internal/auth"
	"github.com/saiproject-202/ClassVibe/internal/registry"
	"github.com/saiproject-202/ClassVibe/internal/service"
)

// GroupHandler 수업 세션 핸들러
type GroupHandler struct {
	classroom *service.Classroom
}

// NewGroupHandler GroupHandler 생성
func NewGroupHandler(classroom *service.Classroom) *GroupHandler {
	return &GroupHandler{classroom: classroom}
}

// CreateGroupRequest 세션 생성 요청
type CreateGroupRequest struct {
	Name string `json:"name"`
}

// JoinRequest 코드로 참여 요청
// 본문은 객체 또는 코드 문자열 하나일 수 있다.
type JoinRequest struct {
	Code  string `json:"code"`
	Pin   string `json:"pin"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// parseJoinRequest 객체/문자열 본문을 JoinRequest로 변환
func parseJoinRequest(body []byte) (*JoinRequest, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, apperror.New(apperror.InvalidInput, "session code is required")
	}

	req := &JoinRequest{}
	switch body[0] {
	case '{':
		if err := json.Unmarshal(body, req); err != nil {
			return nil, apperror.New(apperror.InvalidInput, "invalid request body")
		}
	case '"':
		if err := json.Unmarshal(body, &req.Code); err != nil {
			return nil, apperror.New(apperror.InvalidInput, "invalid request body")
		}
	default:
		req.Code = string(body)
	}
	if req.Code == "" {
		req.Code = req.Pin
	}
	return req, nil
}

// Create 세션 생성 (teacher/admin)
func (h *GroupHandler) Create(c *fiber.Ctx) error {
	var req CreateGroupRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	g, err := h.classroom.CreateSession(c.UserContext(), auth.GetPrincipal(c), req.Name)
	if err != nil {
		return fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"sessionId": g.ID,
		"code":      g.Code,
		"group":     g,
	})
}

// Join 코드로 참여 (로그인 사용자 또는 이름+이메일 게스트)
func (h *GroupHandler) Join(c *fiber.Ctx) error {
	req, err := parseJoinRequest(c.Body())
	if err != nil {
		return fail(c, err)
	}

	principal := auth.GetPrincipal(c)
	var guest *registry.GuestInfo
	if principal == nil {
		guest = &registry.GuestInfo{Name: req.Name, Email: req.Email}
	}

	res, err := h.classroom.JoinSession(c.UserContext(), req.Code, principal, guest)
	if err != nil {
		return fail(c, err)
	}

	body := fiber.Map{
		"group":     res.Group,
		"newMember": res.NewMember,
	}
	if res.User != nil {
		body["user"] = toUserResponse(res.User)
		body["token"] = res.Token
	}
	return c.JSON(body)
}

// Preview 참여 없이 세션 이름/상태 조회
func (h *GroupHandler) Preview(c *fiber.Ctx) error {
	g, err := h.classroom.Preview(c.UserContext(), c.Params("code"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"name":   g.Name,
		"code":   g.Code,
		"active": g.IsActive,
	})
}

// Mine 내가 참여한 세션 목록
func (h *GroupHandler) Mine(c *fiber.Ctx) error {
	groups, err := h.classroom.MySessions(c.UserContext(), auth.GetPrincipal(c).ID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"groups": groups,
		"total":  len(groups),
	})
}

// Get 세션 상세 (멤버 + 온라인)
func (h *GroupHandler) Get(c *fiber.Ctx) error {
	snap, err := h.classroom.Snapshot(c.UserContext(), auth.GetPrincipal(c).ID, c.Params("groupId"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(snap)
}

// End 세션 종료 (관리자만)
func (h *GroupHandler) End(c *fiber.Ctx) error {
	g, err := h.classroom.EndSession(c.UserContext(), auth.GetPrincipal(c).ID, c.Params("groupId"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "session ended",
		"group":   g,
	})
}
