package model

import (
	"fmt"
	"strings"
)

// BgColor 背景颜色，取值限定在固定集合内
type BgColor string

const (
	ColorWhite   BgColor = "white"
	ColorBlue    BgColor = "blue"
	ColorSkyBlue BgColor = "sky-blue"
	ColorRed     BgColor = "red"
	ColorPurple  BgColor = "purple"
)

// ColorOption 颜色选项（调色板展示用）
type ColorOption struct {
	ID    BgColor `json:"id"`
	Label string  `json:"label"`
	Hex   string  `json:"hex"`
}

// palette 按界面展示顺序排列
var palette = []ColorOption{
	{ID: ColorWhite, Label: "White", Hex: "#FFFFFF"},
	{ID: ColorBlue, Label: "Blue", Hex: "#2563EB"},
	{ID: ColorSkyBlue, Label: "Sky", Hex: "#7DD3FC"},
	{ID: ColorRed, Label: "Red", Hex: "#EF4444"},
	{ID: ColorPurple, Label: "Purple", Hex: "#A855F7"},
}

// Palette 返回全部可选颜色
func Palette() []ColorOption {
	out := make([]ColorOption, len(palette))
	copy(out, palette)
	return out
}

// ParseColor 解析颜色名，兼容提示词写法 "sky blue"
func ParseColor(s string) (BgColor, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.Join(strings.Fields(normalized), "-")
	for _, opt := range palette {
		if string(opt.ID) == normalized {
			return opt.ID, nil
		}
	}
	return "", fmt.Errorf("unknown background color %q: %w", s, ErrInvalidInput)
}

// Valid 是否为支持的颜色
func (c BgColor) Valid() bool {
	for _, opt := range palette {
		if opt.ID == c {
			return true
		}
	}
	return false
}

// PromptName 写进提示词里的颜色名
func (c BgColor) PromptName() string {
	return strings.ReplaceAll(string(c), "-", " ")
}

func (c BgColor) String() string {
	return string(c)
}
