// Package session 把图片读取、状态机和客户端组合成一个可交互的工作区。
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/TIANLI0/ClearBG/intake"
	"github.com/TIANLI0/ClearBG/model"
	"github.com/TIANLI0/ClearBG/state"
	"github.com/TIANLI0/ClearBG/utils"
)

var (
	ErrNoImage  = errors.New("no image selected")
	ErrNoResult = errors.New("no result to download")
)

const defaultResultName = "result"

// Options 工作区参数
type Options struct {
	DefaultColor  model.BgColor
	ProductPrefix string
	// PreviewPrefix 拼在预览句柄前面得到原图地址
	PreviewPrefix string
}

// Artifact 下载文件
type Artifact struct {
	Filename  string
	MediaType string
	Data      []byte
}

// Workspace 一个用户会话：一张图片、一个颜色、一个状态机
type Workspace struct {
	id     string
	intake *intake.Intake
	store  *state.Store
	opts   Options
	logger *zap.Logger

	cancel     context.CancelFunc
	closeOnce  sync.Once
	lastActive atomic.Int64
}

func NewWorkspace(id string, in *intake.Intake, remover state.Remover, opts Options) *Workspace {
	if !opts.DefaultColor.Valid() {
		opts.DefaultColor = model.ColorBlue
	}
	if opts.ProductPrefix == "" {
		opts.ProductPrefix = "clearbg"
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Workspace{
		id:     id,
		intake: in,
		store:  state.NewStore(state.Initial(opts.DefaultColor), remover, in.Release),
		opts:   opts,
		logger: utils.Component("workspace").With(zap.String("session", id)),
		cancel: cancel,
	}
	w.touch()

	go w.store.Run(ctx)
	return w
}

func (w *Workspace) ID() string {
	return w.id
}

// LastActive 最近一次用户操作的时间
func (w *Workspace) LastActive() time.Time {
	return time.Unix(0, w.lastActive.Load())
}

// SelectImage 读取文件并立即按当前颜色开始处理，非图片文件不改变状态
func (w *Workspace) SelectImage(f intake.File) (View, error) {
	w.touch()

	img, err := w.intake.SelectImage(f)
	if err != nil {
		w.logger.Info("image rejected", zap.String("name", f.Name), zap.Error(err))
		return w.View(), err
	}

	st, err := w.store.Dispatch(state.ImageSelected{Image: img})
	if err != nil {
		w.intake.Release(img.PreviewHandle)
		return View{}, err
	}
	return w.view(st), nil
}

// ChangeColor 切换颜色，已有图片时用新颜色重新处理
func (w *Workspace) ChangeColor(color model.BgColor) (View, error) {
	w.touch()

	if !color.Valid() {
		return w.View(), model.NewInvalidInput(fmt.Sprintf("unknown background color %q", color))
	}
	st, err := w.store.Dispatch(state.ColorChanged{Color: color})
	if err != nil {
		return View{}, err
	}
	return w.view(st), nil
}

// Retry 用当前图片和颜色重新发起请求
func (w *Workspace) Retry() (View, error) {
	w.touch()

	if w.store.State().Image == nil {
		return w.View(), ErrNoImage
	}
	st, err := w.store.Dispatch(state.RetryRequested{})
	if err != nil {
		return View{}, err
	}
	return w.view(st), nil
}

// Reset 回到初始状态，处理中的请求结果会被丢弃
func (w *Workspace) Reset() (View, error) {
	w.touch()

	st, err := w.store.Dispatch(state.ResetRequested{})
	if err != nil {
		return View{}, err
	}
	return w.view(st), nil
}

// Download 成功状态下导出结果图片
func (w *Workspace) Download() (Artifact, error) {
	w.touch()

	st := w.store.State()
	if st.Phase != state.PhaseSucceeded || st.Result == nil {
		return Artifact{}, ErrNoResult
	}

	mediaType, data, err := utils.DecodeDataURI(st.Result.DataURI)
	if err != nil {
		return Artifact{}, fmt.Errorf("decode result: %w", err)
	}

	name := defaultResultName
	if st.Image != nil && st.Image.Name != "" {
		name = st.Image.Name
	}

	return Artifact{
		Filename:  fmt.Sprintf("%s-%s-%s.png", w.opts.ProductPrefix, st.Result.Color, name),
		MediaType: mediaType,
		Data:      data,
	}, nil
}

func (w *Workspace) View() View {
	return w.view(w.store.State())
}

// State 当前状态快照
func (w *Workspace) State() state.State {
	return w.store.State()
}

// Subscribe 订阅界面变化，只保证最新值；工作区关闭后通道关闭
func (w *Workspace) Subscribe() (<-chan View, func()) {
	states, cancelStates := w.store.Subscribe()
	out := make(chan View, 1)
	stop := make(chan struct{})

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(stop)
			cancelStates()
		})
	}

	go func() {
		defer close(out)
		for {
			select {
			case st := <-states:
				sendLatest(out, w.view(st))
			case <-stop:
				return
			case <-w.store.Done():
				return
			}
		}
	}()

	return out, cancel
}

// Close 重置并停止状态机，释放预览句柄
func (w *Workspace) Close() {
	w.closeOnce.Do(func() {
		if _, err := w.store.Dispatch(state.ResetRequested{}); err != nil {
			w.logger.Debug("reset on close", zap.Error(err))
		}
		w.cancel()
		<-w.store.Done()
		w.logger.Debug("workspace closed")
	})
}

// Done 工作区关闭后关闭
func (w *Workspace) Done() <-chan struct{} {
	return w.store.Done()
}

func (w *Workspace) view(st state.State) View {
	return BuildView(w.id, st, w.opts.PreviewPrefix)
}

func (w *Workspace) touch() {
	w.lastActive.Store(time.Now().UnixNano())
}

func sendLatest(ch chan View, v View) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
