package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config 애플리케이션 전체 설정
type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	CORS      CORSConfig
	Auth      AuthConfig
	Redis     RedisConfig
	Session   SessionConfig
	Message   MessageConfig
	Upload    UploadConfig
}

// RedisConfig Redis 설정 (Addr가 비어 있으면 비활성)
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	HistoryTTL time.Duration
}

// Enabled Redis 사용 여부
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// AuthConfig 인증 설정
type AuthConfig struct {
	JWTSecret         string
	AccessTokenExpiry time.Duration
	GuestTokenExpiry  time.Duration
	GoogleClientID    string
	SecureCookie      bool
}

// ServerConfig HTTP 서버 설정
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// WebSocketConfig WebSocket 관련 설정
type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	PongWait        time.Duration
	SendQueueSize   int
	MaxMessageSize  int64
}

// CORSConfig CORS 설정
type CORSConfig struct {
	AllowOrigins string
	AllowHeaders string
}

// SessionConfig 수업 세션 설정
type SessionConfig struct {
	CodeLength      int
	CodeMaxAttempts int
	OpTimeout       time.Duration // 저장소/인증 호출 제한 시간
	HistoryLimit    int
	SearchLimit     int
}

// MessageConfig 메시지/투표 검증 설정
type MessageConfig struct {
	MaxBodyLength     int
	MaxGroupName      int
	MaxQuestionLength int
	MaxOptionLength   int
	MaxAnswerLength   int
	PollLifetime      time.Duration
}

// UploadConfig 파일 업로드 설정
type UploadConfig struct {
	Dir               string
	MaxSize           int64
	AllowedExtensions []string
}

// Load 환경 변수에서 설정 로드
func Load() *Config {
	// .env 파일 로드 (없어도 에러 무시)
	if err := godotenv.Load(); err != nil {
		log.Println("ℹ️ No .env file found, using environment variables")
	}

	// 필수 환경 변수 검증
	jwtSecret := getRequiredEnv("JWT_SECRET")
	if jwtSecret == "change-this-secret-in-production" {
		log.Fatal("🚨 CRITICAL: JWT_SECRET must be changed from default value in production!")
	}

	cfg := FromEnv()
	cfg.Auth.JWTSecret = jwtSecret
	return cfg
}

// FromEnv 필수 값 검증 없이 환경 변수만으로 설정 구성
func FromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8080"),
			ReadTimeout:  getDuration("READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDuration("WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDuration("IDLE_TIMEOUT", 120*time.Second),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  getInt("WS_READ_BUFFER_SIZE", 4*1024),
			WriteBufferSize: getInt("WS_WRITE_BUFFER_SIZE", 4*1024),
			WriteTimeout:    getDuration("WS_WRITE_TIMEOUT", 5*time.Second),
			PingInterval:    getDuration("WS_PING_INTERVAL", 25*time.Second),
			PongWait:        getDuration("WS_PONG_WAIT", 60*time.Second),
			SendQueueSize:   getInt("WS_SEND_QUEUE_SIZE", 256),
			MaxMessageSize:  int64(getInt("WS_MAX_MESSAGE_SIZE", 64*1024)),
		},
		CORS: CORSConfig{
			AllowOrigins: getEnv("CORS_ALLOW_ORIGINS", "*"),
			AllowHeaders: getEnv("CORS_ALLOW_HEADERS", "Origin, Content-Type, Accept, Authorization"),
		},
		Auth: AuthConfig{
			JWTSecret:         os.Getenv("JWT_SECRET"),
			AccessTokenExpiry: getDuration("ACCESS_TOKEN_EXPIRY", 7*24*time.Hour),
			GuestTokenExpiry:  getDuration("GUEST_TOKEN_EXPIRY", 24*time.Hour),
			GoogleClientID:    getEnv("GOOGLE_CLIENT_ID", ""),
			SecureCookie:      getBool("SECURE_COOKIE", false),
		},
		Redis: RedisConfig{
			Addr:       getEnv("REDIS_ADDR", ""),
			Password:   getEnv("REDIS_PASSWORD", ""),
			DB:         getInt("REDIS_DB", 0),
			HistoryTTL: getDuration("REDIS_HISTORY_TTL", 24*time.Hour),
		},
		Session: SessionConfig{
			CodeLength:      6,
			CodeMaxAttempts: getInt("SESSION_CODE_MAX_ATTEMPTS", 8),
			OpTimeout:       getDuration("SESSION_OP_TIMEOUT", 5*time.Second),
			HistoryLimit:    getInt("SESSION_HISTORY_LIMIT", 100),
			SearchLimit:     getInt("SESSION_SEARCH_LIMIT", 50),
		},
		Message: MessageConfig{
			MaxBodyLength:     getInt("MESSAGE_MAX_LENGTH", 5000),
			MaxGroupName:      getInt("GROUP_NAME_MAX_LENGTH", 100),
			MaxQuestionLength: getInt("POLL_QUESTION_MAX_LENGTH", 500),
			MaxOptionLength:   getInt("POLL_OPTION_MAX_LENGTH", 200),
			MaxAnswerLength:   getInt("POLL_ANSWER_MAX_LENGTH", 1000),
			PollLifetime:      getDuration("POLL_LIFETIME", 24*time.Hour),
		},
		Upload: UploadConfig{
			Dir:               getEnv("UPLOAD_DIR", "./uploads"),
			MaxSize:           int64(getInt("UPLOAD_MAX_SIZE", 10*1024*1024)),
			AllowedExtensions: getList("UPLOAD_ALLOWED_EXTENSIONS", []string{".jpg", ".jpeg", ".png", ".gif", ".pdf", ".doc", ".docx", ".txt", ".zip"}),
		},
	}
}

// getRequiredEnv 필수 환경 변수 조회 (없으면 Fatal)
func getRequiredEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatalf("🚨 CRITICAL: Required environment variable %s is not set!", key)
	}
	return value
}

// getEnv 환경 변수 조회 (기본값 지원)
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getInt 정수형 환경 변수 조회
func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getBool 불리언 환경 변수 조회
func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

// getDuration 시간 환경 변수 조회
func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		// 숫자만 있으면 초로 간주
		if !strings.ContainsAny(value, "smh") {
			if secs, err := strconv.Atoi(value); err == nil {
				return time.Duration(secs) * time.Second
			}
		}
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getList 쉼표 구분 목록 조회
func getList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(strings.ToLower(item)); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
