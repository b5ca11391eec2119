// Package wsconn 웹소켓 연결 하나의 송신 큐와 keepalive 관리
package wsconn

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"github.com/saiproject-202/ClassVibe/internal/broadcast"
)

// State 연결 상태
type State int

const (
	StateOpen    State = iota // 송수신 가능
	StateClosing              // 종료 처리 중
	StateClosed               // 연결 종료
)

// String 상태를 문자열로 반환
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	// ErrClosed 닫힌 연결로 전송
	ErrClosed = errors.New("connection closed")
	// ErrSlowConsumer 송신 큐가 가득 참
	ErrSlowConsumer = errors.New("send queue full")
)

// Socket Client가 사용하는 웹소켓 연산 (*websocket.Conn 구현)
type Socket interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Config 연결 설정
type Config struct {
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	PongWait       time.Duration
	SendQueueSize  int
	MaxMessageSize int64
}

// DefaultConfig 기본 설정
func DefaultConfig() Config {
	return Config{
		WriteTimeout:   10 * time.Second,
		PingInterval:   25 * time.Second,
		PongWait:       60 * time.Second,
		SendQueueSize:  256,
		MaxMessageSize: 64 * 1024,
	}
}

// Client 웹소켓 연결 (Thread-Safe)
// 쓰기는 WritePump 고루틴 하나만 수행하므로 큐에 넣은 순서대로 전송된다.
type Client struct {
	id          string
	socket      Socket
	cfg         Config
	ConnectedAt time.Time

	mu    sync.RWMutex
	state State

	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New 새 연결 생성
func New(socket Socket, cfg Config) *Client {
	def := DefaultConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = def.SendQueueSize
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:          uuid.New().String(),
		socket:      socket,
		cfg:         cfg,
		ConnectedAt: time.Now(),
		state:       StateOpen,
		send:        make(chan []byte, cfg.SendQueueSize),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

// ID 연결 식별자
func (c *Client) ID() string {
	return c.id
}

// Context 연결 컨텍스트 (종료 시 취소)
func (c *Client) Context() context.Context {
	return c.ctx
}

// GetState 현재 상태 조회
func (c *Client) GetState() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Send 서버 푸시 이벤트 전송 (비차단)
func (c *Client) Send(ev broadcast.Event) error {
	return c.SendJSON(ev)
}

// SendJSON 임의 프레임 전송 (비차단)
// 큐가 가득 차면 느린 소비자로 보고 연결을 닫는다.
func (c *Client) SendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.mu.RLock()
	if c.state != StateOpen {
		c.mu.RUnlock()
		return ErrClosed
	}
	select {
	case c.send <- data:
		c.mu.RUnlock()
		return nil
	default:
		c.mu.RUnlock()
	}

	log.Printf("[WS] ⚠️ Send queue full, closing slow connection %s", c.id)
	c.Close()
	return ErrSlowConsumer
}

// WritePump 송신 큐와 ping 처리 (연결당 고루틴 하나)
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		close(c.done)
	}()

	for {
		select {
		case <-c.ctx.Done():
			// 남은 프레임을 최대한 전송
			for {
				select {
				case data := <-c.send:
					if err := c.write(websocket.TextMessage, data); err != nil {
						return
					}
				default:
					c.socket.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
					c.socket.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				log.Printf("[WS] Write failed for %s: %v", c.id, err)
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				log.Printf("[WS] Ping failed for %s: %v", c.id, err)
				c.Close()
				return
			}
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	c.socket.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.socket.WriteMessage(messageType, data)
}

// ReadLoop 수신 루프, 읽기 오류나 종료 시 반환
// pong을 받을 때마다 읽기 기한을 연장한다.
func (c *Client) ReadLoop(handle func(data []byte)) {
	c.socket.SetReadLimit(c.cfg.MaxMessageSize)
	c.socket.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		messageType, data, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WS] Read error for %s: %v", c.id, err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		c.socket.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		handle(data)

		if c.GetState() != StateOpen {
			return
		}
	}
}

// Close 연결 종료 (중복 호출 안전)
func (c *Client) Close() {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return
	}
	c.state = StateClosing
	c.mu.Unlock()

	c.cancel()
}

// Wait WritePump 종료까지 대기 후 소켓 닫기
func (c *Client) Wait() {
	<-c.done
	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
	c.socket.Close()
}

// Duration 연결 유지 시간
func (c *Client) Duration() time.Duration {
	return time.Since(c.ConnectedAt)
}
