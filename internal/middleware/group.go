package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/saiproject-202/ClassVibe/internal/apperror"
	"github.com/saiproject-202/ClassVibe/internal/auth"
	"github.com/saiproject-202/ClassVibe/internal/handler"
	"github.com/saiproject-202/ClassVibe/internal/registry"
)

// GroupMiddleware 수업 세션 권한 미들웨어
type GroupMiddleware struct {
	registry *registry.Registry
}

// NewGroupMiddleware GroupMiddleware 생성
func NewGroupMiddleware(reg *registry.Registry) *GroupMiddleware {
	return &GroupMiddleware{registry: reg}
}

func reject(c *fiber.Ctx, err error) error {
	return c.Status(handler.StatusOf(apperror.KindOf(err))).JSON(fiber.Map{
		"error": apperror.MessageOf(err),
		"code":  apperror.KindOf(err),
	})
}

// RequireMembership 세션 멤버 필수 (종료된 세션도 조회는 허용)
func (m *GroupMiddleware) RequireMembership() fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal := auth.GetPrincipal(c)
		if principal == nil {
			return reject(c, apperror.New(apperror.Unauthenticated, "authentication required"))
		}

		groupID := c.Params("groupId")
		if groupID == "" {
			return reject(c, apperror.New(apperror.InvalidInput, "group ID is required"))
		}

		ok, err := m.registry.IsMember(c.UserContext(), groupID, principal.ID)
		if err != nil {
			return reject(c, err)
		}
		if !ok {
			return reject(c, apperror.New(apperror.Forbidden, "you are not a member of this session"))
		}

		// 세션 ID를 컨텍스트에 저장
		c.Locals("groupID", groupID)
		return c.Next()
	}
}

// RequireAdmin 세션 관리자 필수
func (m *GroupMiddleware) RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal := auth.GetPrincipal(c)
		if principal == nil {
			return reject(c, apperror.New(apperror.Unauthenticated, "authentication required"))
		}

		groupID := c.Params("groupId")
		ok, err := m.registry.IsAdmin(c.UserContext(), groupID, principal.ID)
		if err != nil {
			return reject(c, err)
		}
		if !ok {
			return reject(c, apperror.New(apperror.Forbidden, "only the session admin can do this"))
		}

		c.Locals("groupID", groupID)
		return c.Next()
	}
}
