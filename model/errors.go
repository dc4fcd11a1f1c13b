package model

import (
	"errors"
	"fmt"
)

// ErrInvalidInput 所有非法输入错误都能用 errors.Is 匹配到它
var ErrInvalidInput = errors.New("invalid input")

// ErrorKind 去背景失败的分类
type ErrorKind string

const (
	KindInvalidInput ErrorKind = "invalid_input"
	KindTransport    ErrorKind = "transport_failure"
	KindModel        ErrorKind = "model_failure"
)

// RemovalError 去背景调用的统一错误
type RemovalError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *RemovalError) Error() string {
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Message
}

func (e *RemovalError) Unwrap() error {
	return e.Err
}

func (e *RemovalError) Is(target error) bool {
	return target == ErrInvalidInput && e.Kind == KindInvalidInput
}

func NewInvalidInput(message string) *RemovalError {
	return &RemovalError{Kind: KindInvalidInput, Message: message}
}

func NewTransportFailure(message string, err error) *RemovalError {
	return &RemovalError{Kind: KindTransport, Message: message, Err: err}
}

func NewModelFailure(message string) *RemovalError {
	return &RemovalError{Kind: KindModel, Message: message}
}

// KindOf 返回错误分类，不是 RemovalError 时按传输失败处理
func KindOf(err error) ErrorKind {
	var re *RemovalError
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.Is(err, ErrInvalidInput) {
		return KindInvalidInput
	}
	return KindTransport
}

// Message 把任意错误转换成给用户看的一句话
func Message(err error) string {
	if err == nil {
		return ""
	}
	var re *RemovalError
	if errors.As(err, &re) && re.Message != "" {
		return re.Message
	}
	return "Failed to process image"
}
