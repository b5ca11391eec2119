// Package broadcast 세션별 구독 그룹(room)과 이벤트 fan-out
package broadcast

// 서버 푸시 이벤트 타입
const (
	EventPresenceChanged = "presenceChanged"
	EventMemberJoined    = "memberJoined"
	EventMessageCreated  = "messageCreated"
	EventMessageEdited   = "messageEdited"
	EventMessageDeleted  = "messageDeleted"
	EventPollCreated     = "pollCreated"
	EventPollUpdated     = "pollUpdated"
	EventSessionEnded    = "sessionEnded"
	EventUserTyping      = "userTyping"
	EventUserStopTyping  = "userStopTyping"
)

// Event 클라이언트로 전달되는 이벤트
type Event struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
}

// Fanout 이벤트와 전달 대상
// Recipients가 nil이면 room 전체, 아니면 해당 principal의 연결에만 전달한다.
type Fanout struct {
	Event      Event
	Recipients []string
	ExceptConn string // 제외할 연결 (typing 발신자 등)
}

// Room room 전체 대상 Fanout
func Room(e Event) Fanout {
	return Fanout{Event: e}
}

// To 특정 principal 대상 Fanout
func To(e Event, principalIDs ...string) Fanout {
	return Fanout{Event: e, Recipients: principalIDs}
}

// Publisher 이벤트 발행 인터페이스
type Publisher interface {
	Publish(sessionID string, f Fanout) int
}

// Discard 아무 데도 전달하지 않는 Publisher
type Discard struct{}

func (Discard) Publish(string, Fanout) int { return 0 }
