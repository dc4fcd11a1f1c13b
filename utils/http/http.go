package http

import (
	"context"
	"time"
)

type IClient interface {
	DoHTTPRequest(ctx context.Context, requestParam *RequestParam) error
}

type RequestParam struct {
	RequestURI string
	Method     string
	Header     map[string]string
	// Body 可以是 nil、io.Reader、[]byte，其他类型按 JSON 序列化
	Body     interface{}
	Response interface{}

	// Timeout 为 0 时只受 ctx 和客户端本身的超时控制
	Timeout time.Duration
}
