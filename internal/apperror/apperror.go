// Package apperror 도메인 연산의 실패 종류를 표현하는 타입 에러
package apperror

import (
	"context"
	"errors"
	"fmt"
)

// Kind 실패 종류
type Kind string

const (
	Unauthenticated   Kind = "UNAUTHENTICATED"
	Forbidden         Kind = "FORBIDDEN"
	NotFound          Kind = "NOT_FOUND"
	InvalidInput      Kind = "INVALID_INPUT"
	Conflict          Kind = "CONFLICT"
	Inactive          Kind = "INACTIVE"
	Expired           Kind = "EXPIRED"
	SessionEnded      Kind = "SESSION_ENDED"
	ResourceExhausted Kind = "RESOURCE_EXHAUSTED"
	Timeout           Kind = "TIMEOUT"
	Internal          Kind = "INTERNAL"
)

// Error 종류와 사용자 메시지를 갖는 에러
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 같은 Kind면 일치로 간주 (errors.Is(err, apperror.New(NotFound, "")) 형태 지원)
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// New 새 에러 생성
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf 포맷 메시지로 에러 생성
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap 원인 에러를 감싼 에러 생성
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf 에러 체인에서 Kind 추출
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	return Internal
}

// MessageOf 클라이언트에 노출할 메시지 (Internal은 일반 메시지로 대체)
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != Internal {
		return e.Message
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "operation timed out"
	}
	return "internal server error"
}

// Is 에러가 해당 Kind인지 확인
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// FromContext 컨텍스트 에러를 Timeout으로 변환
func FromContext(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return Wrap(Timeout, op+" timed out", err)
	}
	return nil
}
