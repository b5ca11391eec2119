package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/saiproject-202/ClassVibe/internal/auth"
	"github.com/saiproject-202/ClassVibe/internal/engine"
	"github.com/saiproject-202/ClassVibe/internal/model"
	"github.com/saiproject-202/ClassVibe/internal/service"
)

// MessageHandler 메시지 핸들러
type MessageHandler struct {
	classroom *service.Classroom
}

// NewMessageHandler MessageHandler 생성
func NewMessageHandler(classroom *service.Classroom) *MessageHandler {
	return &MessageHandler{classroom: classroom}
}

// SendMessageRequest 메시지 전송 요청
type SendMessageRequest struct {
	Body        string `json:"body"`
	Kind        string `json:"kind"`
	RecipientID string `json:"recipientId"`
	ReplyToID   string `json:"replyToId"`
	UploadID    string `json:"uploadId"`
}

func (r SendMessageRequest) payload() engine.SendPayload {
	return engine.SendPayload{
		Kind:        model.MessageKind(r.Kind),
		Body:        r.Body,
		RecipientID: r.RecipientID,
		ReplyToID:   r.ReplyToID,
		UploadID:    r.UploadID,
	}
}

// EditMessageRequest 메시지 수정 요청
type EditMessageRequest struct {
	Body string `json:"body"`
}

// List 최근 메시지 (?limit=)
func (h *MessageHandler) List(c *fiber.Ctx) error {
	msgs, err := h.classroom.History(c.UserContext(), auth.GetPrincipal(c).ID, c.Params("groupId"), c.QueryInt("limit", 0))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"messages": msgs,
		"total":    len(msgs),
	})
}

// Unread 읽지 않은 메시지
func (h *MessageHandler) Unread(c *fiber.Ctx) error {
	msgs, err := h.classroom.Unread(c.UserContext(), auth.GetPrincipal(c).ID, c.Params("groupId"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"messages": msgs,
		"total":    len(msgs),
	})
}

// Search 본문 검색 (?q=)
func (h *MessageHandler) Search(c *fiber.Ctx) error {
	msgs, err := h.classroom.Search(c.UserContext(), auth.GetPrincipal(c).ID, c.Params("groupId"), c.Query("q"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"messages": msgs,
		"total":    len(msgs),
	})
}

// Send 메시지 전송
func (h *MessageHandler) Send(c *fiber.Ctx) error {
	var req SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	res, err := h.classroom.SendMessage(c.UserContext(), auth.GetPrincipal(c).ID, c.Params("groupId"), req.payload())
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(res.View)
}

// Edit 메시지 수정
func (h *MessageHandler) Edit(c *fiber.Ctx) error {
	var req EditMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	res, err := h.classroom.EditMessage(c.UserContext(), auth.GetPrincipal(c).ID, c.Params("id"), req.Body)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(res.View)
}

// Delete 메시지 삭제
func (h *MessageHandler) Delete(c *fiber.Ctx) error {
	res, err := h.classroom.DeleteMessage(c.UserContext(), auth.GetPrincipal(c).ID, c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(res.View)
}

// MarkRead 읽음 처리
func (h *MessageHandler) MarkRead(c *fiber.Ctx) error {
	changed, err := h.classroom.MarkRead(c.UserContext(), auth.GetPrincipal(c).ID, c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"messageId": c.Params("id"),
		"marked":    changed,
	})
}
