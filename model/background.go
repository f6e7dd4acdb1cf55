package model

import (
	"fmt"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/usamasarwar188/BG-Remover/utils"
)

// Kind 背景类型
type Kind string

const (
	KindFlat     Kind = "flat"
	KindGradient Kind = "gradient"
	KindImage    Kind = "image"
)

// Valid 判断背景类型是否合法
func (k Kind) Valid() bool {
	switch k {
	case KindFlat, KindGradient, KindImage:
		return true
	}
	return false
}

// Direction 渐变方向
type Direction string

const (
	DirectionHorizontal Direction = "horizontal"
	DirectionVertical   Direction = "vertical"
)

func (d Direction) Valid() bool {
	return d == DirectionHorizontal || d == DirectionVertical
}

const (
	MinOpacity = 0
	MaxOpacity = 255
)

// ClampOpacity 将透明度限制在 [0,255]
func ClampOpacity(v int) int {
	return min(MaxOpacity, max(MinOpacity, v))
}

// RGB 24位颜色
type RGB struct {
	R, G, B uint8
}

// ParseRGB 解析 #rgb / #rrggbb 格式的颜色，允许省略 #
func ParseRGB(s string) (RGB, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}
	if len(s) != 4 && len(s) != 7 {
		return RGB{}, fmt.Errorf("invalid color %q", s)
	}
	c, err := colorful.Hex(strings.ToLower(s))
	if err != nil {
		return RGB{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	r, g, b := c.RGB255()
	return RGB{R: r, G: g, B: b}, nil
}

// MustParseRGB 仅用于常量颜色
func MustParseRGB(s string) RGB {
	c, err := ParseRGB(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

func (c RGB) String() string {
	return c.Hex()
}

func (c RGB) MarshalText() ([]byte, error) {
	return []byte(c.Hex()), nil
}

func (c *RGB) UnmarshalText(text []byte) error {
	parsed, err := ParseRGB(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Asset 用户上传的背景图原始数据，创建后不可修改
type Asset struct {
	data        []byte
	ContentType string
	MD5         string
}

// NewAsset 拷贝数据并计算摘要
func NewAsset(data []byte, contentType string) *Asset {
	buf := make([]byte, len(data))
	copy(buf, data)
	return &Asset{
		data:        buf,
		ContentType: contentType,
		MD5:         utils.BytesMD5(buf),
	}
}

// Bytes 返回只读数据，调用方不得修改
func (a *Asset) Bytes() []byte {
	return a.data
}

func (a *Asset) Size() int {
	return len(a.data)
}

// BackgroundSpec 背景配置，Kind 决定哪一组参数生效
type BackgroundSpec struct {
	Kind    Kind
	Opacity int

	// flat
	Color RGB

	// gradient
	StartColor RGB
	EndColor   RGB
	Direction  Direction

	// image，未选择文件时为 nil
	Asset *Asset
}

var (
	DefaultColor      = RGB{R: 0xff, G: 0xff, B: 0xff}
	DefaultStartColor = RGB{R: 0x3b, G: 0x82, B: 0xf6}
	DefaultEndColor   = RGB{R: 0xec, G: 0x48, B: 0x99}
)

// DefaultBackgroundSpec 会话开始时的默认背景
func DefaultBackgroundSpec() BackgroundSpec {
	return BackgroundSpec{
		Kind:       KindImage,
		Opacity:    MaxOpacity,
		Color:      DefaultColor,
		StartColor: DefaultStartColor,
		EndColor:   DefaultEndColor,
		Direction:  DirectionHorizontal,
	}
}

// BackgroundPatch 背景参数的部分更新，nil 字段保持不变
type BackgroundPatch struct {
	Kind       *Kind      `json:"kind,omitempty"`
	Opacity    *int       `json:"opacity,omitempty"`
	Color      *RGB       `json:"color,omitempty"`
	StartColor *RGB       `json:"start_color,omitempty"`
	EndColor   *RGB       `json:"end_color,omitempty"`
	Direction  *Direction `json:"direction,omitempty"`
}

func (p BackgroundPatch) Empty() bool {
	return p.Kind == nil && p.Opacity == nil && p.Color == nil &&
		p.StartColor == nil && p.EndColor == nil && p.Direction == nil
}
