package sse

import (
	"context"
	"sync"
)

// Hub 管理基于 topic 的 SSE 订阅者。
//
// 每个 topic 对应一个会话 ID，Hub 把发布到该 topic 的消息广播到所有订阅通道。
// 订阅、取消订阅与发布都在 Run 所在的 goroutine 中串行处理。
type Hub struct {
	// topics 保存 topic -> 客户端 channel 集合，channel 由订阅方创建，Hub 只负责发送
	topics map[string]map[chan []byte]bool

	subscribe   chan subscription
	unsubscribe chan subscription
	publish     chan topicMessage
	done        chan struct{}

	mu sync.Mutex
}

type subscription struct {
	ch    chan []byte
	topic string
}

type topicMessage struct {
	topic string
	msg   []byte
}

// NewHub 创建 Hub，publish 通道缓冲 100 条，避免发布方被短时阻塞
func NewHub() *Hub {
	return &Hub{
		topics:      make(map[string]map[chan []byte]bool),
		subscribe:   make(chan subscription),
		unsubscribe: make(chan subscription),
		publish:     make(chan topicMessage, 100),
		done:        make(chan struct{}),
	}
}

// Run 事件循环，应在单独的 goroutine 中运行：
//
//	hub := sse.NewHub()
//	go hub.Run(ctx)
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-h.subscribe:
			h.mu.Lock()
			subs, ok := h.topics[s.topic]
			if !ok {
				subs = make(map[chan []byte]bool)
				h.topics[s.topic] = subs
			}
			subs[s.ch] = true
			h.mu.Unlock()
		case s := <-h.unsubscribe:
			h.mu.Lock()
			if subs, ok := h.topics[s.topic]; ok {
				delete(subs, s.ch)
				if len(subs) == 0 {
					delete(h.topics, s.topic)
				}
			}
			h.mu.Unlock()
		case tm := <-h.publish:
			h.mu.Lock()
			for ch := range h.topics[tm.topic] {
				sendLatest(ch, tm.msg)
			}
			h.mu.Unlock()
		}
	}
}

// PublishTopic 发布消息到 topic，Hub 停止后直接丢弃
func (h *Hub) PublishTopic(topic string, msg []byte) {
	select {
	case h.publish <- topicMessage{topic: topic, msg: msg}:
	case <-h.done:
	}
}

// Subscribe 注册订阅通道，调用方负责在不用时 Unsubscribe
func (h *Hub) Subscribe(ch chan []byte, topic string) {
	select {
	case h.subscribe <- subscription{ch: ch, topic: topic}:
	case <-h.done:
	}
}

func (h *Hub) Unsubscribe(ch chan []byte, topic string) {
	select {
	case h.unsubscribe <- subscription{ch: ch, topic: topic}:
	case <-h.done:
	}
}

// Subscribers 当前 topic 的订阅数
func (h *Hub) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}

// sendLatest 通道满时丢掉最旧的一条，保证最新消息一定送达
func sendLatest(ch chan []byte, msg []byte) {
	for {
		select {
		case ch <- msg:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
