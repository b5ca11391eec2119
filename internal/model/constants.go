package model

// Role 사용자 역할
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// String 메서드
func (r Role) String() string {
	return string(r)
}

// CanModerate 세션 생성 가능 역할 여부
func (r Role) CanModerate() bool {
	return r == RoleTeacher || r == RoleAdmin
}

// ParseRole 문자열을 역할로 변환 (알 수 없으면 student)
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleTeacher, RoleAdmin:
		return Role(s)
	default:
		return RoleStudent
	}
}

// MessageKind 메시지 타입
type MessageKind string

const (
	MessageKindText   MessageKind = "text"
	MessageKindFile   MessageKind = "file"
	MessageKindPoll   MessageKind = "poll" // 투표 참조 메시지
	MessageKindSystem MessageKind = "system"
)

func (k MessageKind) String() string {
	return string(k)
}

// Valid 지원하는 메시지 타입인지 확인
func (k MessageKind) Valid() bool {
	switch k {
	case MessageKindText, MessageKindFile, MessageKindPoll, MessageKindSystem:
		return true
	}
	return false
}

// PollKind 투표 타입
type PollKind string

const (
	PollKindSingleChoice PollKind = "single-choice"
	PollKindOpenText     PollKind = "open-text"
	PollKindYesNo        PollKind = "yes-no" // 선택지가 Yes/No로 고정된 single-choice
)

func (k PollKind) String() string {
	return string(k)
}

// IsChoice 선택형 투표 여부
func (k PollKind) IsChoice() bool {
	return k == PollKindSingleChoice || k == PollKindYesNo
}

// DeletedMessageBody 삭제된 메시지 본문
const DeletedMessageBody = "This message was deleted"
