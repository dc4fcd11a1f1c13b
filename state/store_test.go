package state

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TIANLI0/ClearBG/model"
)

type removalCall struct {
	img   *model.EncodedImage
	color model.BgColor
	reply chan removalReply
}

type removalReply struct {
	uri string
	err error
}

// blockingRemover 每次调用都挂起，直到测试显式返回结果
type blockingRemover struct {
	mu    sync.Mutex
	calls []*removalCall
}

func (r *blockingRemover) RemoveBackground(ctx context.Context, img *model.EncodedImage, color model.BgColor) (string, error) {
	call := &removalCall{img: img, color: color, reply: make(chan removalReply, 1)}
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()

	select {
	case rep := <-call.reply:
		return rep.uri, rep.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *blockingRemover) waitCalls(t *testing.T, n int) []*removalCall {
	t.Helper()
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.calls) >= n
	}, time.Second, 5*time.Millisecond)

	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*removalCall(nil), r.calls...)
}

type releaseRecorder struct {
	mu      sync.Mutex
	handles []string
}

func (r *releaseRecorder) release(handle string) {
	r.mu.Lock()
	r.handles = append(r.handles, handle)
	r.mu.Unlock()
}

func (r *releaseRecorder) released() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.handles...)
}

func startStore(t *testing.T, remover Remover, release ReleaseFunc) (*Store, context.CancelFunc) {
	t.Helper()
	store := NewStore(Initial(model.ColorBlue), remover, release)
	ctx, cancel := context.WithCancel(context.Background())
	go store.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-store.Done()
	})
	return store, cancel
}

func waitPhase(t *testing.T, store *Store, phase Phase) State {
	t.Helper()
	require.Eventually(t, func() bool {
		return store.State().Phase == phase
	}, time.Second, 5*time.Millisecond)
	return store.State()
}

func TestStore_SelectImageSucceeds(t *testing.T) {
	remover := &blockingRemover{}
	store, _ := startStore(t, remover, nil)

	img := testImage("portrait")
	st, err := store.Dispatch(ImageSelected{Image: img})
	require.NoError(t, err)
	assert.Equal(t, PhaseRunning, st.Phase)

	calls := remover.waitCalls(t, 1)
	assert.Equal(t, img, calls[0].img)
	assert.Equal(t, model.ColorBlue, calls[0].color)

	calls[0].reply <- removalReply{uri: "data:image/png;base64,AQ=="}
	st = waitPhase(t, store, PhaseSucceeded)
	require.NotNil(t, st.Result)
	assert.Equal(t, "data:image/png;base64,AQ==", st.Result.DataURI)
	assert.True(t, st.Current(st.Result))
}

func TestStore_LastColorWinsRegardlessOfArrivalOrder(t *testing.T) {
	remover := &blockingRemover{}
	store, _ := startStore(t, remover, nil)

	_, err := store.Dispatch(ImageSelected{Image: testImage("portrait")})
	require.NoError(t, err)
	_, err = store.Dispatch(ColorChanged{Color: model.ColorRed})
	require.NoError(t, err)
	_, err = store.Dispatch(ColorChanged{Color: model.ColorPurple})
	require.NoError(t, err)

	// 各次调用在各自的 goroutine 中发起，按颜色区分
	byColor := make(map[model.BgColor]*removalCall)
	for _, call := range remover.waitCalls(t, 3) {
		byColor[call.color] = call
	}
	require.Len(t, byColor, 3)

	// 最新请求先完成，之后旧请求陆续返回
	byColor[model.ColorPurple].reply <- removalReply{uri: "data:image/png;base64,cHVycGxl"}
	st := waitPhase(t, store, PhaseSucceeded)
	assert.Equal(t, model.ColorPurple, st.Result.Color)

	byColor[model.ColorBlue].reply <- removalReply{uri: "data:image/png;base64,Ymx1ZQ=="}
	byColor[model.ColorRed].reply <- removalReply{err: model.NewModelFailure("late")}

	// 旧结果不应改变已完成的状态
	require.Never(t, func() bool {
		s := store.State()
		return s.Phase != PhaseSucceeded || s.Result.Color != model.ColorPurple
	}, 100*time.Millisecond, 10*time.Millisecond)

	st = store.State()
	assert.Equal(t, "data:image/png;base64,cHVycGxl", st.Result.DataURI)
	assert.Equal(t, uint64(3), st.Seq)
}

func TestStore_FailureThenRetryReissuesSameRequest(t *testing.T) {
	remover := &blockingRemover{}
	store, _ := startStore(t, remover, nil)

	img := testImage("portrait")
	_, err := store.Dispatch(ImageSelected{Image: img})
	require.NoError(t, err)

	calls := remover.waitCalls(t, 1)
	calls[0].reply <- removalReply{err: model.NewModelFailure("no image part")}
	st := waitPhase(t, store, PhaseFailed)
	assert.Equal(t, "no image part", st.Error)

	st, err = store.Dispatch(RetryRequested{})
	require.NoError(t, err)
	assert.Equal(t, PhaseRunning, st.Phase)
	assert.Empty(t, st.Error)

	calls = remover.waitCalls(t, 2)
	assert.Same(t, calls[0].img, calls[1].img)
	assert.Equal(t, calls[0].color, calls[1].color)

	calls[1].reply <- removalReply{uri: "data:image/png;base64,AQ=="}
	waitPhase(t, store, PhaseSucceeded)
}

func TestStore_ResetDropsLateResult(t *testing.T) {
	remover := &blockingRemover{}
	rec := &releaseRecorder{}
	store, _ := startStore(t, remover, rec.release)

	_, err := store.Dispatch(ImageSelected{Image: testImage("portrait")})
	require.NoError(t, err)
	calls := remover.waitCalls(t, 1)

	st, err := store.Dispatch(ResetRequested{})
	require.NoError(t, err)
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Equal(t, []string{"preview-portrait"}, rec.released())

	calls[0].reply <- removalReply{uri: "data:image/png;base64,AQ=="}
	require.Never(t, func() bool {
		return store.State().Phase != PhaseIdle
	}, 100*time.Millisecond, 10*time.Millisecond)
	assert.Nil(t, store.State().Result)
}

func TestStore_ReleasesPreviewOnReplaceAndShutdown(t *testing.T) {
	remover := &blockingRemover{}
	rec := &releaseRecorder{}
	store, cancel := startStore(t, remover, rec.release)

	_, err := store.Dispatch(ImageSelected{Image: testImage("first")})
	require.NoError(t, err)
	_, err = store.Dispatch(ImageSelected{Image: testImage("second")})
	require.NoError(t, err)
	assert.Equal(t, []string{"preview-first"}, rec.released())

	cancel()
	<-store.Done()
	assert.Equal(t, []string{"preview-first", "preview-second"}, rec.released())

	_, err = store.Dispatch(RetryRequested{})
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestStore_Subscribe(t *testing.T) {
	remover := &blockingRemover{}
	store, _ := startStore(t, remover, nil)

	ch, cancel := store.Subscribe()
	defer cancel()

	first := <-ch
	assert.Equal(t, PhaseIdle, first.Phase)

	_, err := store.Dispatch(ImageSelected{Image: testImage("portrait")})
	require.NoError(t, err)

	select {
	case st := <-ch:
		assert.Equal(t, PhaseRunning, st.Phase)
	case <-time.After(time.Second):
		require.FailNow(t, "no snapshot published")
	}

	calls := remover.waitCalls(t, 1)
	calls[0].reply <- removalReply{uri: "data:image/png;base64,AQ=="}

	require.Eventually(t, func() bool {
		select {
		case st := <-ch:
			return st.Phase == PhaseSucceeded
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	cancel()
	cancel()
	_, err = store.Dispatch(ColorChanged{Color: model.ColorRed})
	require.NoError(t, err)
}
