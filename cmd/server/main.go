package main

import (
	"context"
	"log"
	"os"

	"github.com/saiproject-202/ClassVibe/internal/auth"
	"github.com/saiproject-202/ClassVibe/internal/cache"
	"github.com/saiproject-202/ClassVibe/internal/config"
	"github.com/saiproject-202/ClassVibe/internal/database"
	"github.com/saiproject-202/ClassVibe/internal/engine"
	"github.com/saiproject-202/ClassVibe/internal/presence"
	"github.com/saiproject-202/ClassVibe/internal/registry"
	"github.com/saiproject-202/ClassVibe/internal/server"
	"github.com/saiproject-202/ClassVibe/internal/service"
	"github.com/saiproject-202/ClassVibe/internal/store"
)

func main() {
	// 설정 로드
	cfg := config.Load()

	// 데이터베이스 연결 (마이그레이션 포함)
	db, err := database.ConnectDB()
	if err != nil {
		log.Fatalf("❌ Database connection failed: %v", err)
	}
	defer database.Close(db)

	// Ping 테스트
	if err := database.Ping(db); err != nil {
		log.Fatalf("❌ Database ping failed: %v", err)
	}

	s := store.NewGormStore(db)
	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry, cfg.Auth.GuestTokenExpiry)
	gate := auth.NewGate(jwtManager, s, cfg.Session.OpTimeout)

	opts := service.Options{
		Registry: registry.Config{
			CodeMaxAttempts: cfg.Session.CodeMaxAttempts,
			OpTimeout:       cfg.Session.OpTimeout,
			MaxNameLength:   cfg.Message.MaxGroupName,
		},
		Engine: engine.Config{
			MaxBodyLength:     cfg.Message.MaxBodyLength,
			MaxQuestionLength: cfg.Message.MaxQuestionLength,
			MaxOptionLength:   cfg.Message.MaxOptionLength,
			MaxAnswerLength:   cfg.Message.MaxAnswerLength,
			PollLifetime:      cfg.Message.PollLifetime,
			OpTimeout:         cfg.Session.OpTimeout,
			HistoryLimit:      cfg.Session.HistoryLimit,
			SearchLimit:       cfg.Session.SearchLimit,
		},
	}

	deps := server.Deps{
		DB:       db,
		Accounts: s,
		Gate:     gate,
		JWT:      jwtManager,
		Google:   auth.NewGoogleAuthenticator(cfg.Auth.GoogleClientID),
	}

	// Redis 초기화 (선택적: 최근 메시지 캐시 + presence 복제)
	if cfg.Redis.Enabled() {
		client, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Printf("⚠️ Redis unavailable: %v (running without cache)", err)
		} else {
			defer client.Close()
			history := cache.NewHistoryCache(client, cfg.Session.HistoryLimit, cfg.Redis.HistoryTTL)
			hostname, _ := os.Hostname()
			mirror := presence.NewRedisMirror(client, hostname)
			defer mirror.Close()

			// 다른 인스턴스의 presence 변경 구독
			watchCtx, stopWatch := context.WithCancel(context.Background())
			defer stopWatch()
			go func() {
				err := mirror.Watch(watchCtx, func(d presence.PresenceData) {
					log.Printf("[Presence] 🌐 %s online=%d (from %s)", d.SessionID, len(d.Online), d.ServerID)
				})
				if err != nil {
					log.Printf("[Presence] ⚠️ presence subscription stopped: %v", err)
				}
			}()

			opts.Cache = history
			opts.Mirror = mirror
			deps.Redis = history
			log.Printf("✅ Redis connected (%s)", cfg.Redis.Addr)
		}
	} else {
		log.Println("ℹ️ Redis not configured (history cache and presence mirror disabled)")
	}

	deps.Classroom = service.NewClassroom(s, gate, opts)

	// 서버 생성 및 설정
	srv := server.New(cfg, deps)
	srv.SetupMiddleware()
	srv.SetupRoutes()

	// 서버 시작
	if err := srv.Start(); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
