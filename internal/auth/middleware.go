package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/saiproject-202/ClassVibe/internal/apperror"
)

const principalKey = "principal"

// ExtractToken Authorization 헤더(Bearer) 또는 access_token 쿠키에서 토큰 추출
func ExtractToken(c *fiber.Ctx) (string, bool) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		token := c.Cookies("access_token")
		return token, token != ""
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", false
	}
	return parts[1], true
}

// AuthMiddleware JWT 인증 미들웨어
func AuthMiddleware(gate *Gate) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := ExtractToken(c)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing authorization token",
				"code":  apperror.Unauthenticated,
			})
		}

		principal, err := gate.Verify(c.UserContext(), token)
		if err != nil {
			status := fiber.StatusUnauthorized
			if apperror.KindOf(err) == apperror.Timeout {
				status = fiber.StatusGatewayTimeout
			} else if apperror.KindOf(err) == apperror.Internal {
				status = fiber.StatusInternalServerError
			}
			return c.Status(status).JSON(fiber.Map{
				"error": apperror.MessageOf(err),
				"code":  apperror.KindOf(err),
			})
		}

		// 사용자 정보를 컨텍스트에 저장
		c.Locals("userID", principal.ID)
		c.Locals(principalKey, principal)

		return c.Next()
	}
}

// OptionalAuthMiddleware 선택적 인증 미들웨어 (인증 실패해도 계속 진행)
func OptionalAuthMiddleware(gate *Gate) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token, ok := ExtractToken(c); ok {
			if principal, err := gate.Verify(c.UserContext(), token); err == nil {
				c.Locals("userID", principal.ID)
				c.Locals(principalKey, principal)
			}
		}
		return c.Next()
	}
}

// GetPrincipal 컨텍스트에서 Principal 조회 (없으면 nil)
func GetPrincipal(c *fiber.Ctx) *Principal {
	p, _ := c.Locals(principalKey).(*Principal)
	return p
}
