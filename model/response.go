package model

// Response 通用响应
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// SpecView 背景配置的对外表示
type SpecView struct {
	Kind       Kind      `json:"kind"`
	Opacity    int       `json:"opacity"`
	Color      RGB       `json:"color"`
	StartColor RGB       `json:"start_color"`
	EndColor   RGB       `json:"end_color"`
	Direction  Direction `json:"direction"`
	HasAsset   bool      `json:"has_asset"`
	PreviewURL string    `json:"preview_url,omitempty"`
}

// ForegroundView 前景信息
type ForegroundView struct {
	MD5    string `json:"md5"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// SessionView 会话状态
type SessionView struct {
	ID         string          `json:"id"`
	Background SpecView        `json:"background"`
	Foreground *ForegroundView `json:"foreground,omitempty"`
	FrameSeq   uint64          `json:"frame_seq"`
	CreatedAt  int64           `json:"created_at"`
}

// LiveEvent 实时预览推送的事件
type LiveEvent struct {
	Type       string    `json:"type"` // background, frame
	Seq        uint64    `json:"seq,omitempty"`
	Width      int       `json:"width,omitempty"`
	Height     int       `json:"height,omitempty"`
	Background *SpecView `json:"background,omitempty"`
}

const (
	EventBackground = "background"
	EventFrame      = "frame"
)

// NewSpecView 由 spec 和预览地址生成视图
func NewSpecView(spec BackgroundSpec, previewURL string) SpecView {
	return SpecView{
		Kind:       spec.Kind,
		Opacity:    spec.Opacity,
		Color:      spec.Color,
		StartColor: spec.StartColor,
		EndColor:   spec.EndColor,
		Direction:  spec.Direction,
		HasAsset:   spec.Asset != nil,
		PreviewURL: previewURL,
	}
}
