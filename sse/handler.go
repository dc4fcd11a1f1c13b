package sse

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/TIANLI0/ClearBG/utils"
)

// Snapshot 返回当前完整状态，订阅建立之后才调用
type Snapshot func() ([]byte, error)

// Serve 建立 SSE 长连接，先发送 snapshot 的结果，再转发 topic 上的消息，
// 直到客户端断开或 closed 被关闭
func Serve(c *gin.Context, h *Hub, topic string, snapshot Snapshot, closed <-chan struct{}) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.String(http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// 先订阅再取快照，两者之间发布的消息会留在 msgCh 里
	msgCh := make(chan []byte, 16)
	h.Subscribe(msgCh, topic)
	defer h.Unsubscribe(msgCh, topic)

	var initial []byte
	if snapshot != nil {
		data, err := snapshot()
		if err != nil {
			utils.Logger.Error("failed to build sse snapshot", zap.String("topic", topic), zap.Error(err))
			c.String(http.StatusInternalServerError, "failed to render snapshot")
			return
		}
		initial = data
	}

	// 设置 SSE 必要的响应头，确保浏览器或代理以流式方式处理
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Status(http.StatusOK)
	// 注释行作为握手，部分代理需要它保持连接
	fmt.Fprintf(c.Writer, ": connected\n\n")
	if initial != nil {
		fmt.Fprintf(c.Writer, "data: %s\n\n", initial)
	}
	flusher.Flush()

	notify := c.Request.Context().Done()
	for {
		select {
		case <-notify:
			return
		case <-h.done:
			return
		case <-closed:
			return
		case msg := <-msgCh:
			fmt.Fprintf(c.Writer, "data: %s\n\n", msg)
			flusher.Flush()
			utils.Logger.Debug("sse message sent", zap.String("topic", topic), zap.Int("size", len(msg)))
		}
	}
}
