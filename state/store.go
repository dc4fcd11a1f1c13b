package state

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/TIANLI0/ClearBG/model"
	"github.com/TIANLI0/ClearBG/utils"
)

var ErrStoreClosed = errors.New("state store closed")

// Remover 去背景客户端
type Remover interface {
	RemoveBackground(ctx context.Context, img *model.EncodedImage, color model.BgColor) (string, error)
}

// ReleaseFunc 释放预览句柄
type ReleaseFunc func(handle string)

type envelope struct {
	event Event
	reply chan State
}

// Store 在单个 goroutine 里串行应用事件，并执行 Reduce 产生的副作用
type Store struct {
	remover Remover
	release ReleaseFunc
	logger  *zap.Logger

	events chan envelope
	done   chan struct{}

	mu      sync.RWMutex
	current State
	subs    map[chan State]struct{}

	runOnce sync.Once
	ctx     context.Context
}

func NewStore(initial State, remover Remover, release ReleaseFunc) *Store {
	if release == nil {
		release = func(string) {}
	}
	return &Store{
		remover: remover,
		release: release,
		logger:  utils.Component("state"),
		events:  make(chan envelope),
		done:    make(chan struct{}),
		current: initial,
		subs:    make(map[chan State]struct{}),
		ctx:     context.Background(),
	}
}

// Run 事件循环，ctx 取消后退出并释放当前预览
func (s *Store) Run(ctx context.Context) {
	started := false
	s.runOnce.Do(func() { started = true })
	if !started {
		return
	}
	s.ctx = ctx

	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			s.mu.RLock()
			img := s.current.Image
			s.mu.RUnlock()
			if img != nil {
				s.release(img.PreviewHandle)
			}
			return
		case env := <-s.events:
			next := s.apply(env.event)
			env.reply <- next
		}
	}
}

// Dispatch 应用一个事件，返回应用后的快照
func (s *Store) Dispatch(e Event) (State, error) {
	env := envelope{event: e, reply: make(chan State, 1)}
	select {
	case s.events <- env:
	case <-s.done:
		return State{}, ErrStoreClosed
	}
	return <-env.reply, nil
}

// State 最新快照
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Subscribe 订阅快照变化，只保证收到最新值，中间值可能被覆盖
func (s *Store) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	s.mu.Lock()
	s.subs[ch] = struct{}{}
	ch <- s.current
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
		})
	}
	return ch, cancel
}

// Done 事件循环退出后关闭
func (s *Store) Done() <-chan struct{} {
	return s.done
}

func (s *Store) apply(e Event) State {
	s.mu.Lock()
	prev := s.current
	next, effects := Reduce(prev, e)
	s.current = next
	for ch := range s.subs {
		publishLatest(ch, next)
	}
	s.mu.Unlock()

	if prev.Seq != next.Seq || prev.Phase != next.Phase {
		s.logger.Debug("state transition",
			zap.Stringer("from", prev.Phase),
			zap.Stringer("to", next.Phase),
			zap.Uint64("seq", next.Seq),
			zap.String("color", next.Color.String()))
	}

	for _, eff := range effects {
		s.execute(eff)
	}
	return next
}

func (s *Store) execute(eff Effect) {
	switch e := eff.(type) {
	case ReleasePreview:
		s.release(e.Handle)
	case StartRemoval:
		go s.runRemoval(e)
	}
}

// runRemoval 调用客户端，完成后带着序号回到事件循环
func (s *Store) runRemoval(e StartRemoval) {
	uri, err := s.remover.RemoveBackground(s.ctx, e.Image, e.Color)

	var result Event
	if err != nil {
		s.logger.Info("removal failed",
			zap.Uint64("seq", e.Seq),
			zap.String("color", e.Color.String()),
			zap.Error(err))
		result = RemovalFailed{Seq: e.Seq, Message: model.Message(err)}
	} else {
		result = RemovalSucceeded{Seq: e.Seq, DataURI: uri}
	}

	if _, err := s.Dispatch(result); err != nil {
		s.logger.Debug("dropping removal result", zap.Uint64("seq", e.Seq), zap.Error(err))
	}
}

// publishLatest 通道里只保留最新快照
func publishLatest(ch chan State, st State) {
	select {
	case ch <- st:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- st:
	default:
	}
}
