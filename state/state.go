// Package state 单张图片去背景流程的状态机。
//
// Reduce 是纯函数：输入旧快照和事件，返回新快照和需要执行的副作用。
// 每次开始调用都会分配一个递增的序号，完成事件只有序号等于最新序号时才生效，
// 晚到的旧结果一律丢弃。
package state

import (
	"fmt"

	"github.com/TIANLI0/ClearBG/model"
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhaseSucceeded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRunning:
		return "running"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Result 去背景结果，带着产生它的请求标签
type Result struct {
	DataURI string
	ImageID string
	Color   model.BgColor
	Seq     uint64
}

// State 不可变快照，只能通过 Reduce 产生新值
type State struct {
	Phase   Phase
	Message string
	Error   string

	Image        *model.EncodedImage
	Color        model.BgColor
	DefaultColor model.BgColor

	// Seq 最近一次发起的请求序号，Reset 后也不回退
	Seq    uint64
	Result *Result
}

// Initial 初始状态
func Initial(defaultColor model.BgColor) State {
	return State{
		Phase:        PhaseIdle,
		Color:        defaultColor,
		DefaultColor: defaultColor,
	}
}

// Current 结果是否对应当前图片、颜色和最新请求
func (s State) Current(r *Result) bool {
	return r != nil && s.Image != nil &&
		r.ImageID == s.Image.ID && r.Color == s.Color && r.Seq == s.Seq
}

type Event interface {
	event()
}

type ImageSelected struct {
	Image *model.EncodedImage
}

type ColorChanged struct {
	Color model.BgColor
}

type RetryRequested struct{}

type ResetRequested struct{}

type RemovalSucceeded struct {
	Seq     uint64
	DataURI string
}

type RemovalFailed struct {
	Seq     uint64
	Message string
}

func (ImageSelected) event()    {}
func (ColorChanged) event()     {}
func (RetryRequested) event()   {}
func (ResetRequested) event()   {}
func (RemovalSucceeded) event() {}
func (RemovalFailed) event()    {}

type Effect interface {
	effect()
}

// StartRemoval 用给定图片和颜色发起一次调用，完成时带回 Seq
type StartRemoval struct {
	Seq   uint64
	Image *model.EncodedImage
	Color model.BgColor
}

// ReleasePreview 释放被替换或清空的预览句柄
type ReleasePreview struct {
	Handle string
}

func (StartRemoval) effect()   {}
func (ReleasePreview) effect() {}

// Reduce 状态转移
func Reduce(s State, e Event) (State, []Effect) {
	switch ev := e.(type) {
	case ImageSelected:
		if ev.Image == nil {
			return s, nil
		}
		var effects []Effect
		if s.Image != nil && s.Image.PreviewHandle != ev.Image.PreviewHandle {
			effects = append(effects, ReleasePreview{Handle: s.Image.PreviewHandle})
		}
		s.Image = ev.Image
		s.Result = nil
		next, start := s.start()
		return next, append(effects, start)

	case ColorChanged:
		if !ev.Color.Valid() {
			return s, nil
		}
		s.Color = ev.Color
		if s.Image == nil {
			return s, nil
		}
		next, start := s.start()
		return next, []Effect{start}

	case RetryRequested:
		if s.Image == nil {
			return s, nil
		}
		next, start := s.start()
		return next, []Effect{start}

	case ResetRequested:
		var effects []Effect
		if s.Image != nil {
			effects = append(effects, ReleasePreview{Handle: s.Image.PreviewHandle})
		}
		next := Initial(s.DefaultColor)
		next.Seq = s.Seq
		return next, effects

	case RemovalSucceeded:
		if s.Phase != PhaseRunning || ev.Seq != s.Seq || s.Image == nil {
			return s, nil
		}
		s.Phase = PhaseSucceeded
		s.Message = "Success!"
		s.Error = ""
		s.Result = &Result{
			DataURI: ev.DataURI,
			ImageID: s.Image.ID,
			Color:   s.Color,
			Seq:     ev.Seq,
		}
		return s, nil

	case RemovalFailed:
		if s.Phase != PhaseRunning || ev.Seq != s.Seq {
			return s, nil
		}
		msg := ev.Message
		if msg == "" {
			msg = "An unexpected error occurred."
		}
		s.Phase = PhaseFailed
		s.Message = ""
		s.Error = msg
		s.Result = nil
		return s, nil
	}

	return s, nil
}

// start 丢弃旧的终态，分配新序号进入 Running
func (s State) start() (State, Effect) {
	s.Seq++
	s.Phase = PhaseRunning
	s.Message = fmt.Sprintf("Auto-applying %s background...", s.Color.PromptName())
	s.Error = ""
	s.Result = nil
	return s, StartRemoval{Seq: s.Seq, Image: s.Image, Color: s.Color}
}
