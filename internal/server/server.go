package server

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"github.com/saiproject-202/ClassVibe/internal/apperror"
	"github.com/saiproject-202/ClassVibe/internal/auth"
	"github.com/saiproject-202/ClassVibe/internal/config"
	"github.com/saiproject-202/ClassVibe/internal/handler"
	"github.com/saiproject-202/ClassVibe/internal/middleware"
	"github.com/saiproject-202/ClassVibe/internal/service"
	"github.com/saiproject-202/ClassVibe/internal/wsconn"
)

// Deps 서버가 사용하는 구성 요소
type Deps struct {
	DB        *gorm.DB
	Accounts  handler.AccountStore
	Gate      *auth.Gate
	JWT       *auth.JWTManager
	Google    auth.GoogleVerifier
	Classroom *service.Classroom
	Redis     handler.HealthChecker // nil이면 미설정
}

// Server Fiber 서버 래퍼
type Server struct {
	app             *fiber.App
	cfg             *config.Config
	gate            *auth.Gate
	authHandler     *handler.AuthHandler
	groupHandler    *handler.GroupHandler
	messageHandler  *handler.MessageHandler
	pollHandler     *handler.PollHandler
	uploadHandler   *handler.UploadHandler
	healthHandler   *handler.HealthHandler
	socketHandler   *handler.SocketHandler
	groupMiddleware *middleware.GroupMiddleware
}

// New 새 서버 인스턴스 생성
func New(cfg *config.Config, deps Deps) *Server {
	app := fiber.New(fiber.Config{
		AppName:       "ClassVibe",
		ServerHeader:  "Fiber",
		StrictRouting: true,
		CaseSensitive: true,
		ReadTimeout:   cfg.Server.ReadTimeout,
		WriteTimeout:  cfg.Server.WriteTimeout,
		IdleTimeout:   cfg.Server.IdleTimeout,
		Prefork:       false, // WebSocket과 호환성 문제로 비활성화
		BodyLimit:     int(cfg.Upload.MaxSize) + 1024*1024,
		ErrorHandler:  errorHandler,
	})

	wsCfg := wsconn.Config{
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		PingInterval:   cfg.WebSocket.PingInterval,
		PongWait:       cfg.WebSocket.PongWait,
		SendQueueSize:  cfg.WebSocket.SendQueueSize,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
	}

	return &Server{
		app:             app,
		cfg:             cfg,
		gate:            deps.Gate,
		authHandler:     handler.NewAuthHandler(deps.Accounts, deps.JWT, deps.Google, cfg.Auth.AccessTokenExpiry, cfg.Auth.SecureCookie),
		groupHandler:    handler.NewGroupHandler(deps.Classroom),
		messageHandler:  handler.NewMessageHandler(deps.Classroom),
		pollHandler:     handler.NewPollHandler(deps.Classroom),
		uploadHandler:   handler.NewUploadHandler(deps.Classroom, cfg.Upload),
		healthHandler:   handler.NewHealthHandler(deps.DB, deps.Redis),
		socketHandler:   handler.NewSocketHandler(deps.Classroom, wsCfg),
		groupMiddleware: middleware.NewGroupMiddleware(deps.Classroom.Registry()),
	}
}

// App 내부 fiber 앱 (테스트용)
func (s *Server) App() *fiber.App {
	return s.app
}

// errorHandler fiber 에러도 {"error", "code"} 형태로 응답
func errorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	kind := apperror.Internal
	message := "internal server error"
	if fe, ok := err.(*fiber.Error); ok {
		status = fe.Code
		message = fe.Message
		switch {
		case status == fiber.StatusNotFound:
			kind = apperror.NotFound
		case status < 500:
			kind = apperror.InvalidInput
		}
	} else {
		log.Printf("[HTTP] %s %s unhandled error: %v", c.Method(), c.Path(), err)
	}
	return c.Status(status).JSON(fiber.Map{
		"error": message,
		"code":  kind,
	})
}

// SetupMiddleware 미들웨어 설정
func (s *Server) SetupMiddleware() {
	// 패닉 복구
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// 로깅
	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
		TimeZone:   "Asia/Seoul",
	}))

	// CORS
	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.CORS.AllowOrigins,
		AllowHeaders:     s.cfg.CORS.AllowHeaders,
		AllowMethods:     "GET, POST, PUT, DELETE, OPTIONS",
		AllowCredentials: s.cfg.CORS.AllowOrigins != "*",
	}))

	// 정적 파일 제공 (업로드된 파일)
	s.app.Static("/uploads", s.cfg.Upload.Dir)
}

// SetupRoutes 라우트 설정
func (s *Server) SetupRoutes() {
	// 헬스체크
	s.app.Get("/health", s.healthHandler.Check)
	s.app.Get("/health/live", s.healthHandler.Liveness)
	s.app.Get("/health/ready", s.healthHandler.Readiness)

	// 인증 라우트 (Rate Limiting 적용)
	authLimiter := limiter.New(limiter.Config{
		Max:        10,              // 최대 10회
		Expiration: 1 * time.Minute, // 1분당
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP() // IP 기반 제한
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please try again later",
				"code":  apperror.ResourceExhausted,
			})
		},
	})

	requireAuth := auth.AuthMiddleware(s.gate)
	optionalAuth := auth.OptionalAuthMiddleware(s.gate)

	authGroup := s.app.Group("/auth")
	authGroup.Post("/register", authLimiter, s.authHandler.Register)
	authGroup.Post("/login", authLimiter, s.authHandler.Login)
	authGroup.Post("/google", authLimiter, s.authHandler.GoogleLogin)
	authGroup.Post("/logout", requireAuth, s.authHandler.Logout)
	authGroup.Get("/me", requireAuth, s.authHandler.GetMe)

	// 세션 참여 (게스트 허용)
	s.app.Post("/api/groups/join", authLimiter, optionalAuth, s.groupHandler.Join)
	s.app.Get("/api/groups/preview/:code", s.groupHandler.Preview)

	groups := s.app.Group("/api/groups", requireAuth)
	groups.Post("", s.groupHandler.Create)
	groups.Get("/mine", s.groupHandler.Mine)

	member := s.groupMiddleware.RequireMembership()
	groups.Get("/:groupId", member, s.groupHandler.Get)
	groups.Post("/:groupId/end", s.groupMiddleware.RequireAdmin(), s.groupHandler.End)

	// 메시지
	groups.Get("/:groupId/messages", member, s.messageHandler.List)
	groups.Get("/:groupId/messages/unread", member, s.messageHandler.Unread)
	groups.Get("/:groupId/messages/search", member, s.messageHandler.Search)
	groups.Post("/:groupId/messages", member, s.messageHandler.Send)

	messages := s.app.Group("/api/messages", requireAuth)
	messages.Put("/:id", s.messageHandler.Edit)
	messages.Delete("/:id", s.messageHandler.Delete)
	messages.Post("/:id/read", s.messageHandler.MarkRead)

	// 투표
	groups.Post("/:groupId/polls", member, s.pollHandler.Create)
	groups.Get("/:groupId/polls", member, s.pollHandler.List)

	polls := s.app.Group("/api/polls", requireAuth)
	polls.Get("/:id/results", s.pollHandler.Results)
	polls.Post("/:id/vote", s.pollHandler.Vote)
	polls.Post("/:id/answer", s.pollHandler.Answer)
	polls.Post("/:id/close", s.pollHandler.Close)

	// 파일 업로드
	s.app.Post("/api/upload", requireAuth, s.uploadHandler.Upload)

	// 실시간 WebSocket
	s.app.Get("/ws", s.socketHandler.Upgrade, websocket.New(s.socketHandler.Handle, websocket.Config{
		ReadBufferSize:  s.cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: s.cfg.WebSocket.WriteBufferSize,
	}))
}

// Start 서버 시작
func (s *Server) Start() error {
	// Graceful Shutdown 설정
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("🛑 Shutting down server...")
		if err := s.app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Fatalf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("🚀 ClassVibe starting on %s", s.cfg.Server.Port)
	log.Printf("📡 WebSocket endpoint: ws://localhost%s/ws", s.cfg.Server.Port)

	return s.app.Listen(s.cfg.Server.Port)
}

// Shutdown 서버 종료
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(30 * time.Second)
}
