package handler

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/saiproject-202/ClassVibe/internal/apperror"
)

// StatusOf 실패 종류별 HTTP 상태 코드
func StatusOf(kind apperror.Kind) int {
	switch kind {
	case apperror.Unauthenticated:
		return fiber.StatusUnauthorized
	case apperror.Forbidden:
		return fiber.StatusForbidden
	case apperror.NotFound:
		return fiber.StatusNotFound
	case apperror.InvalidInput:
		return fiber.StatusBadRequest
	case apperror.Conflict:
		return fiber.StatusConflict
	case apperror.Inactive, apperror.Expired, apperror.SessionEnded:
		return fiber.StatusGone
	case apperror.ResourceExhausted:
		return fiber.StatusServiceUnavailable
	case apperror.Timeout:
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

// fail 에러 응답 {"error": message, "code": KIND}
func fail(c *fiber.Ctx, err error) error {
	kind := apperror.KindOf(err)
	if kind == apperror.Internal {
		log.Printf("[HTTP] %s %s failed: %v", c.Method(), c.Path(), err)
	}
	return c.Status(StatusOf(kind)).JSON(fiber.Map{
		"error": apperror.MessageOf(err),
		"code":  kind,
	})
}

// badRequest 요청 본문 파싱 실패
func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": message,
		"code":  apperror.InvalidInput,
	})
}
