package session

import (
	"github.com/TIANLI0/ClearBG/model"
	"github.com/TIANLI0/ClearBG/state"
)

// ResultKind 结果面板的展示形式
type ResultKind string

const (
	ResultSkeleton    ResultKind = "skeleton"
	ResultImage       ResultKind = "image"
	ResultPlaceholder ResultKind = "placeholder"
)

// ImagePanel 原图面板
type ImagePanel struct {
	Name       string `json:"name"`
	MediaType  string `json:"mediaType"`
	PreviewURL string `json:"previewUrl"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
}

// ResultPanel 结果面板，只有 Kind 为 image 时才带图片
type ResultPanel struct {
	Kind  ResultKind    `json:"kind"`
	Image string        `json:"image,omitempty"`
	Color model.BgColor `json:"color,omitempty"`
}

type ColorChoice struct {
	model.ColorOption
	Selected bool `json:"selected"`
	Disabled bool `json:"disabled"`
}

type Actions struct {
	CanRetry    bool `json:"canRetry"`
	CanDownload bool `json:"canDownload"`
	CanReset    bool `json:"canReset"`
}

// View 由状态快照推导出的界面数据
type View struct {
	SessionID string        `json:"sessionId"`
	Phase     string        `json:"phase"`
	Message   string        `json:"message,omitempty"`
	Error     string        `json:"error,omitempty"`
	Original  *ImagePanel   `json:"original,omitempty"`
	Result    ResultPanel   `json:"result"`
	Colors    []ColorChoice `json:"colors"`
	Actions   Actions       `json:"actions"`
}

// BuildView 纯函数，同一个快照总是得到同一个 View
func BuildView(sessionID string, st state.State, previewPrefix string) View {
	v := View{
		SessionID: sessionID,
		Phase:     st.Phase.String(),
		Message:   st.Message,
		Error:     st.Error,
		Result:    ResultPanel{Kind: ResultPlaceholder},
	}

	if st.Image != nil {
		v.Original = &ImagePanel{
			Name:       st.Image.Name,
			MediaType:  st.Image.MediaType,
			PreviewURL: previewPrefix + st.Image.PreviewHandle,
			Width:      st.Image.Width,
			Height:     st.Image.Height,
		}
	}

	switch st.Phase {
	case state.PhaseRunning:
		v.Result.Kind = ResultSkeleton
	case state.PhaseSucceeded:
		if st.Result != nil {
			v.Result = ResultPanel{Kind: ResultImage, Image: st.Result.DataURI, Color: st.Result.Color}
		}
	}

	running := st.Phase == state.PhaseRunning
	for _, opt := range model.Palette() {
		v.Colors = append(v.Colors, ColorChoice{
			ColorOption: opt,
			Selected:    opt.ID == st.Color,
			Disabled:    running,
		})
	}

	v.Actions = Actions{
		CanRetry:    st.Image != nil && (st.Phase == state.PhaseFailed || st.Phase == state.PhaseSucceeded),
		CanDownload: st.Phase == state.PhaseSucceeded && st.Result != nil,
		CanReset:    st.Image != nil,
	}
	return v
}
