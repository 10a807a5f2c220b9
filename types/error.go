package types

import (
	"errors"
	"fmt"
)

// ErrorCode 是管线统一错误码，用于对齐可重试性与退化策略。
type ErrorCode string

const (
	// ErrPlanningFailure 规划失败：本地恢复为最保守计划，绝不上抛给调用方。
	ErrPlanningFailure ErrorCode = "PLANNING_FAILURE"
	// ErrRetrievalFailure 单路检索失败：退化为该路空结果，仅体现在诊断里。
	ErrRetrievalFailure ErrorCode = "RETRIEVAL_FAILURE"
	// ErrNoEvidence 无证据拒答：合法终态，不是错误，不按错误记日志。
	ErrNoEvidence ErrorCode = "NO_EVIDENCE"
	// ErrSynthesisFailure 生成服务不可用/超时：请求级致命错误，可重试。
	ErrSynthesisFailure ErrorCode = "SYNTHESIS_FAILURE"
	// ErrRateLimited 触发限流：内部按退避策略重试，耗尽后转为
	// SynthesisFailure 或 RetrievalFailure。
	ErrRateLimited ErrorCode = "RATE_LIMITED"
	// ErrValidationFailure 验证闸门自身超时/故障：与合成失败同等对待。
	ErrValidationFailure ErrorCode = "VALIDATION_FAILURE"
)

// Error 是带错误码与可重试标记的结构化错误。
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Stage     string    `json:"stage,omitempty"` // plan/retrieve/fuse/synthesize/validate
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 返回底层错误。
func (e *Error) Unwrap() error { return e.Cause }

// NewError 创建结构化错误。
func NewError(code ErrorCode, stage, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Stage:     stage,
		Retryable: code == ErrSynthesisFailure || code == ErrRateLimited,
	}
}

// WrapError 将底层错误包装为结构化错误。
func WrapError(code ErrorCode, stage, message string, cause error) *Error {
	e := NewError(code, stage, message)
	e.Cause = cause
	return e
}

// AsError 提取错误链中的 *Error。
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// IsCode 报告错误链中是否存在指定错误码。
func IsCode(err error, code ErrorCode) bool {
	if e, ok := AsError(err); ok {
		return e.Code == code
	}
	return false
}

// IsRetryable 报告错误是否可由调用方重试。
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}
