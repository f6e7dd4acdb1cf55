package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"sync/atomic"
	"time"

	"github.com/usamasarwar188/BG-Remover/model"
	"github.com/usamasarwar188/BG-Remover/utils"
	"go.uber.org/zap"
	xdraw "golang.org/x/image/draw"
)

var (
	ErrAssetDecode = errors.New("background asset decode failed")
	ErrSuperseded  = errors.New("render superseded by a newer render")
)

// AssetDecoder 将背景图数据解码为位图，是合成过程中唯一的挂起点
type AssetDecoder func(ctx context.Context, asset *model.Asset) (image.Image, error)

// DecodeAsset 默认解码器
func DecodeAsset(ctx context.Context, asset *model.Asset) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, _, err := utils.DecodeImage(asset.Bytes())
	return img, err
}

// Frame 一次成功提交的帧信息
type Frame struct {
	Seq    uint64
	Width  int
	Height int
}

type CompositorOption func(*Compositor)

func WithDecoder(d AssetDecoder) CompositorOption {
	return func(c *Compositor) { c.decode = d }
}

// WithScaler 背景图拉伸使用的插值器，默认双线性
func WithScaler(s xdraw.Scaler) CompositorOption {
	return func(c *Compositor) { c.scaler = s }
}

// WithCommitHook 每次帧提交后调用，调用时不持有任何锁
func WithCommitHook(fn func(Frame)) CompositorOption {
	return func(c *Compositor) { c.onCommit = fn }
}

// Compositor 将背景和前景绘制到 Surface。
// 每次 Render 在私有帧上先画背景、再画前景，完成后按序号提交，
// 因此 Surface 上不会出现新旧混合或缺少背景的帧。
type Compositor struct {
	surface  *Surface
	decode   AssetDecoder
	scaler   xdraw.Scaler
	onCommit func(Frame)
	seq      atomic.Uint64
}

func NewCompositor(opts ...CompositorOption) *Compositor {
	c := &Compositor{
		surface: &Surface{},
		decode:  DecodeAsset,
		scaler:  xdraw.BiLinear,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Compositor) Surface() *Surface {
	return c.surface
}

// RenderPass 一次渲染调用的结果，完成时 Done 关闭
type RenderPass struct {
	Seq  uint64
	done chan struct{}
	err  error
}

func newRenderPass(seq uint64) *RenderPass {
	return &RenderPass{Seq: seq, done: make(chan struct{})}
}

func (p *RenderPass) finish(err error) {
	p.err = err
	close(p.done)
}

func (p *RenderPass) Done() <-chan struct{} {
	return p.done
}

// Err 未完成时返回 nil
func (p *RenderPass) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Wait 等待渲染完成或 ctx 结束
func (p *RenderPass) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Render 按 spec 重新合成整个画面。fg 为 nil 时不做任何事。
// 纯色和渐变背景在返回前已完成提交；图片背景在解码完成后异步提交。
func (c *Compositor) Render(ctx context.Context, fg *model.Foreground, spec model.BackgroundSpec) *RenderPass {
	if fg == nil {
		pass := newRenderPass(0)
		pass.finish(nil)
		return pass
	}

	pass := newRenderPass(c.seq.Add(1))
	frame := image.NewNRGBA(fg.Bounds())
	start := time.Now()

	bg := c.paintBackground(ctx, frame, spec)
	select {
	case err := <-bg:
		c.complete(pass, frame, fg, spec, start, err)
	default:
		go func() {
			c.complete(pass, frame, fg, spec, start, <-bg)
		}()
	}
	return pass
}

// complete 背景落地后才绘制前景并提交
func (c *Compositor) complete(pass *RenderPass, frame *image.NRGBA, fg *model.Foreground, spec model.BackgroundSpec, start time.Time, err error) {
	if err == nil {
		paintForeground(frame, fg)
		err = c.commit(pass.Seq, frame)
	}

	switch {
	case err == nil:
		utils.Logger.Debug("frame committed",
			zap.Uint64("seq", pass.Seq),
			zap.String("kind", string(spec.Kind)),
			zap.Int("opacity", spec.Opacity),
			zap.Duration("cost", time.Since(start)))
	case errors.Is(err, ErrSuperseded), errors.Is(err, context.Canceled):
		utils.Logger.Debug("render dropped",
			zap.Uint64("seq", pass.Seq),
			zap.Error(err))
	default:
		utils.Logger.Warn("render failed",
			zap.Uint64("seq", pass.Seq),
			zap.String("kind", string(spec.Kind)),
			zap.Error(err))
	}
	pass.finish(err)
}

func (c *Compositor) commit(seq uint64, frame *image.NRGBA) error {
	if !c.surface.swap(frame, seq) {
		return ErrSuperseded
	}
	if c.onCommit != nil {
		b := frame.Bounds()
		c.onCommit(Frame{Seq: seq, Width: b.Dx(), Height: b.Dy()})
	}
	return nil
}

// paintBackground 在透明的 dst 上绘制背景，返回的 channel 恰好收到一次结果
func (c *Compositor) paintBackground(ctx context.Context, dst *image.NRGBA, spec model.BackgroundSpec) <-chan error {
	done := make(chan error, 1)

	switch spec.Kind {
	case model.KindFlat:
		fillFlat(dst, spec.Color, spec.Opacity)
	case model.KindGradient:
		fillGradient(dst, spec.StartColor, spec.EndColor, spec.Direction, spec.Opacity)
	case model.KindImage:
		// 未选择背景图时保持透明
		if spec.Asset != nil {
			asset, opacity := spec.Asset, spec.Opacity
			go func() {
				done <- c.paintAsset(ctx, dst, asset, opacity)
			}()
			return done
		}
	}

	done <- nil
	return done
}

// paintAsset 解码背景图并拉伸铺满 dst，opacity 只作用于这一次绘制
func (c *Compositor) paintAsset(ctx context.Context, dst *image.NRGBA, asset *model.Asset, opacity int) error {
	img, err := c.decode(ctx, asset)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAssetDecode, err)
	}
	if opacity <= 0 {
		return nil
	}

	layer := image.NewRGBA(dst.Bounds())
	c.scaler.Scale(layer, layer.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	putLayer(dst, layer, opacity)
	return nil
}

// putLayer 将预乘的 layer 转为非预乘写入 dst，alpha 乘以 opacity。
// dst 此时是透明的，直接覆盖即可。
func putLayer(dst *image.NRGBA, layer *image.RGBA, opacity int) {
	b := dst.Bounds()
	w, h := b.Dx(), b.Dy()
	o := uint32(opacity)
	for y := 0; y < h; y++ {
		src := layer.Pix[y*layer.Stride : y*layer.Stride+w*4]
		out := dst.Pix[y*dst.Stride : y*dst.Stride+w*4]
		for i := 0; i < len(src); i += 4 {
			a := uint32(src[i+3])
			if a == 0 {
				out[i+0], out[i+1], out[i+2], out[i+3] = 0, 0, 0, 0
				continue
			}
			out[i+0] = uint8((uint32(src[i+0])*255 + a/2) / a)
			out[i+1] = uint8((uint32(src[i+1])*255 + a/2) / a)
			out[i+2] = uint8((uint32(src[i+2])*255 + a/2) / a)
			out[i+3] = uint8((a*o + 127) / 255)
		}
	}
}

// paintForeground 原尺寸、原点对齐、保留自身 alpha 叠加前景
func paintForeground(dst *image.NRGBA, fg *model.Foreground) {
	src := fg.Image()
	b := src.Bounds().Intersect(dst.Bounds())
	w, h := b.Dx(), b.Dy()
	for y := 0; y < h; y++ {
		s := src.Pix[y*src.Stride : y*src.Stride+w*4]
		d := dst.Pix[y*dst.Stride : y*dst.Stride+w*4]
		for i := 0; i < len(s); i += 4 {
			blendOver(d[i:i+4:i+4], s[i:i+4:i+4])
		}
	}
}

// blendOver 非预乘像素的 source-over
func blendOver(d, s []uint8) {
	sa := uint32(s[3])
	switch sa {
	case 0:
		return
	case 255:
		copy(d, s)
		return
	}

	// 以下各量均放大 255 倍
	dw := uint32(d[3]) * (255 - sa)
	a := sa*255 + dw
	if a == 0 {
		d[0], d[1], d[2], d[3] = 0, 0, 0, 0
		return
	}
	for c := 0; c < 3; c++ {
		d[c] = uint8((uint32(s[c])*sa*255 + uint32(d[c])*dw + a/2) / a)
	}
	d[3] = uint8((a + 127) / 255)
}

// fillFlat 以 (color, opacity) 填满 dst
func fillFlat(dst *image.NRGBA, c model.RGB, opacity int) {
	px := color.NRGBA{R: c.R, G: c.G, B: c.B, A: uint8(opacity)}
	b := dst.Bounds()
	if b.Empty() {
		return
	}
	row := dst.Pix[:b.Dx()*4]
	for x := 0; x < b.Dx(); x++ {
		setPixel(row, x, px)
	}
	copyRow(dst, row)
}

// fillGradient 沿水平或垂直方向线性插值，首像素为 start，末像素为 end
func fillGradient(dst *image.NRGBA, start, end model.RGB, dir model.Direction, opacity int) {
	b := dst.Bounds()
	if b.Empty() {
		return
	}
	w, h := b.Dx(), b.Dy()

	if dir == model.DirectionVertical {
		for y := 0; y < h; y++ {
			px := gradientAt(start, end, offset(y, h), opacity)
			row := dst.Pix[y*dst.Stride : y*dst.Stride+w*4]
			for x := 0; x < w; x++ {
				setPixel(row, x, px)
			}
		}
		return
	}

	row := dst.Pix[:w*4]
	for x := 0; x < w; x++ {
		setPixel(row, x, gradientAt(start, end, offset(x, w), opacity))
	}
	copyRow(dst, row)
}

// offset 像素 i 在 n 个像素上的位置 t ∈ [0,1]
func offset(i, n int) float64 {
	if n <= 1 {
		return 0
	}
	return float64(i) / float64(n-1)
}

func gradientAt(start, end model.RGB, t float64, opacity int) color.NRGBA {
	return color.NRGBA{
		R: lerp(start.R, end.R, t),
		G: lerp(start.G, end.G, t),
		B: lerp(start.B, end.B, t),
		A: uint8(opacity),
	}
}

func lerp(a, b uint8, t float64) uint8 {
	v := float64(a) + (float64(b)-float64(a))*t
	return uint8(math.Round(min(255, max(0, v))))
}

func setPixel(row []uint8, x int, c color.NRGBA) {
	i := x * 4
	row[i+0] = c.R
	row[i+1] = c.G
	row[i+2] = c.B
	row[i+3] = c.A
}

// copyRow 将第一行复制到其余各行
func copyRow(dst *image.NRGBA, row []uint8) {
	h := dst.Bounds().Dy()
	for y := 1; y < h; y++ {
		copy(dst.Pix[y*dst.Stride:], row)
	}
}
