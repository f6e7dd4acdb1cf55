package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/usamasarwar188/BG-Remover/model"
	xdraw "golang.org/x/image/draw"
)

func render(t *testing.T, c *Compositor, fg *model.Foreground, spec model.BackgroundSpec) *image.NRGBA {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Render(ctx, fg, spec).Wait(ctx))
	frame, _ := c.Surface().Snapshot()
	require.NotNil(t, frame)
	return frame
}

// blockingDecoder 在 release 关闭前挂起解码
func blockingDecoder(release <-chan struct{}) AssetDecoder {
	return func(ctx context.Context, asset *model.Asset) (image.Image, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return DecodeAsset(ctx, asset)
	}
}

func TestRenderFlatUniform(t *testing.T) {
	fg := subject(40, 30, image.Rectangle{})

	for _, opacity := range []int{0, 1, 64, 128, 200, 254, 255} {
		t.Run(fmt.Sprintf("opacity=%d", opacity), func(t *testing.T) {
			c := NewCompositor()
			pass := c.Render(context.Background(), fg, flatSpec(red, opacity))

			// 纯色背景同步完成
			select {
			case <-pass.Done():
			default:
				t.Fatal("flat render should complete synchronously")
			}
			require.NoError(t, pass.Err())

			frame, seq := c.Surface().Snapshot()
			require.Equal(t, pass.Seq, seq)
			want := color.NRGBA{R: 0xff, A: uint8(opacity)}
			for y := 0; y < 30; y++ {
				for x := 0; x < 40; x++ {
					requireNear(t, want, frame.NRGBAAt(x, y), 2, x, y)
				}
			}
		})
	}
}

func TestRenderFlatScenario(t *testing.T) {
	square := image.Rect(100, 50, 300, 250)
	fg := subject(400, 300, square)
	frame := render(t, NewCompositor(), fg, flatSpec(model.MustParseRGB("#ff0000"), 128))

	assert.Equal(t, image.Rect(0, 0, 400, 300), frame.Bounds())
	for _, p := range []image.Point{{0, 0}, {399, 299}, {99, 150}, {300, 50}, {200, 299}} {
		requireNear(t, color.NRGBA{R: 0xff, A: 128}, frame.NRGBAAt(p.X, p.Y), 1, p)
	}
	for _, p := range []image.Point{{100, 50}, {299, 249}, {200, 150}} {
		assert.Equal(t, green, frame.NRGBAAt(p.X, p.Y), p)
	}
}

func TestRenderGradientHorizontal(t *testing.T) {
	spec := model.DefaultBackgroundSpec()
	spec.Kind = model.KindGradient
	spec.StartColor = model.MustParseRGB("#3b82f6")
	spec.EndColor = model.MustParseRGB("#ec4899")
	spec.Direction = model.DirectionHorizontal
	spec.Opacity = 255

	frame := render(t, NewCompositor(), subject(400, 300, image.Rectangle{}), spec)

	start := color.NRGBA{R: 0x3b, G: 0x82, B: 0xf6, A: 0xff}
	end := color.NRGBA{R: 0xec, G: 0x48, B: 0x99, A: 0xff}
	for _, y := range []int{0, 1, 150, 299} {
		requireNear(t, start, frame.NRGBAAt(0, y), 1, y)
		requireNear(t, end, frame.NRGBAAt(399, y), 1, y)
	}

	// 沿 x 单调，沿 y 不变
	prev := frame.NRGBAAt(0, 0)
	for x := 1; x < 400; x++ {
		cur := frame.NRGBAAt(x, 0)
		assert.GreaterOrEqual(t, cur.R, prev.R, "R at x=%d", x)
		assert.LessOrEqual(t, cur.G, prev.G, "G at x=%d", x)
		assert.LessOrEqual(t, cur.B, prev.B, "B at x=%d", x)
		for _, y := range []int{100, 299} {
			require.Equal(t, cur, frame.NRGBAAt(x, y), "x=%d y=%d", x, y)
		}
		prev = cur
	}
}

func TestRenderGradientVertical(t *testing.T) {
	spec := model.DefaultBackgroundSpec()
	spec.Kind = model.KindGradient
	spec.StartColor = model.RGB{}
	spec.EndColor = model.RGB{R: 0xff, G: 0xff, B: 0xff}
	spec.Direction = model.DirectionVertical
	spec.Opacity = 100

	frame := render(t, NewCompositor(), subject(20, 50, image.Rectangle{}), spec)

	requireNear(t, color.NRGBA{A: 100}, frame.NRGBAAt(0, 0), 2)
	requireNear(t, color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 100}, frame.NRGBAAt(0, 49), 2)

	prev := frame.NRGBAAt(0, 0)
	for y := 1; y < 50; y++ {
		cur := frame.NRGBAAt(0, y)
		assert.GreaterOrEqual(t, int(cur.R)+2, int(prev.R), "y=%d", y)
		assert.True(t, near(cur.A, 100, 1), "alpha at y=%d is %d", y, cur.A)
		for x := 1; x < 20; x++ {
			require.Equal(t, cur, frame.NRGBAAt(x, y), "x=%d y=%d", x, y)
		}
		prev = cur
	}
}

func TestRenderImageWithoutAssetIsForegroundOnly(t *testing.T) {
	fg := subject(30, 20, image.Rect(5, 5, 15, 15))
	frame := render(t, NewCompositor(), fg, imageSpec(nil, 255))

	assert.Equal(t, fg.Image().Pix, frame.Pix)
}

func TestForegroundAlphaIndependentOfOpacity(t *testing.T) {
	square := image.Rect(0, 0, 10, 10)
	fg := subject(30, 20, square)

	for _, spec := range []func(int) model.BackgroundSpec{
		func(op int) model.BackgroundSpec { return flatSpec(red, op) },
		func(op int) model.BackgroundSpec { return imageSpec(solidAsset(t, 3, 3, color.NRGBA{B: 0xff, A: 0xff}), op) },
	} {
		low := render(t, NewCompositor(), fg, spec(0))
		high := render(t, NewCompositor(), fg, spec(200))

		for y := square.Min.Y; y < square.Max.Y; y++ {
			for x := square.Min.X; x < square.Max.X; x++ {
				require.Equal(t, low.NRGBAAt(x, y), high.NRGBAAt(x, y))
				require.Equal(t, green, high.NRGBAAt(x, y))
			}
		}
		assert.Equal(t, uint8(0), low.NRGBAAt(20, 15).A)
		assert.True(t, near(high.NRGBAAt(20, 15).A, 200, 1))
	}
}

func TestRenderImageStretchesToForeground(t *testing.T) {
	// 2x1 背景：左红右蓝，拉伸到 40x30，不裁剪不留边
	bg := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	bg.SetNRGBA(0, 0, color.NRGBA{R: 0xff, A: 0xff})
	bg.SetNRGBA(1, 0, color.NRGBA{B: 0xff, A: 0xff})
	asset := model.NewAsset(encodePNG(t, bg), "image/png")

	c := NewCompositor(WithScaler(xdraw.NearestNeighbor))
	frame := render(t, c, subject(40, 30, image.Rectangle{}), imageSpec(asset, 255))

	for _, y := range []int{0, 15, 29} {
		assert.Equal(t, color.NRGBA{R: 0xff, A: 0xff}, frame.NRGBAAt(0, y))
		assert.Equal(t, color.NRGBA{R: 0xff, A: 0xff}, frame.NRGBAAt(19, y))
		assert.Equal(t, color.NRGBA{B: 0xff, A: 0xff}, frame.NRGBAAt(20, y))
		assert.Equal(t, color.NRGBA{B: 0xff, A: 0xff}, frame.NRGBAAt(39, y))
	}
}

func TestRenderImageOpacity(t *testing.T) {
	asset := solidAsset(t, 8, 8, color.NRGBA{B: 0xff, A: 0xff})
	fg := subject(40, 30, image.Rect(0, 0, 10, 10))

	frame := render(t, NewCompositor(), fg, imageSpec(asset, 128))

	requireNear(t, color.NRGBA{B: 0xff, A: 128}, frame.NRGBAAt(30, 20), 1)
	assert.Equal(t, green, frame.NRGBAAt(5, 5))
}

func TestRenderImageWaitsForBackground(t *testing.T) {
	release := make(chan struct{})
	square := image.Rect(0, 0, 10, 10)
	fg := subject(40, 30, square)

	var mu sync.Mutex
	var frames []*image.NRGBA
	var c *Compositor
	c = NewCompositor(
		WithDecoder(blockingDecoder(release)),
		WithCommitHook(func(Frame) {
			frame, _ := c.Surface().Snapshot()
			mu.Lock()
			frames = append(frames, frame)
			mu.Unlock()
		}),
	)

	pass := c.Render(context.Background(), fg, imageSpec(solidAsset(t, 4, 4, color.NRGBA{B: 0xff, A: 0xff}), 255))

	// 解码挂起期间不会出现只有前景的帧
	time.Sleep(20 * time.Millisecond)
	select {
	case <-pass.Done():
		t.Fatal("image render completed before decode")
	default:
	}
	frame, seq := c.Surface().Snapshot()
	assert.Nil(t, frame)
	assert.Zero(t, seq)

	close(release)
	require.NoError(t, pass.Wait(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, frames, 1)
	for _, f := range frames {
		assert.Equal(t, green, f.NRGBAAt(5, 5))
		requireNear(t, color.NRGBA{B: 0xff, A: 0xff}, f.NRGBAAt(30, 20), 1)
	}
}

func TestRenderStaleImageDropped(t *testing.T) {
	release := make(chan struct{})
	fg := subject(20, 20, image.Rect(0, 0, 5, 5))
	c := NewCompositor(WithDecoder(blockingDecoder(release)))

	slow := c.Render(context.Background(), fg, imageSpec(solidAsset(t, 4, 4, color.NRGBA{B: 0xff, A: 0xff}), 255))
	fast := c.Render(context.Background(), fg, flatSpec(red, 255))
	require.NoError(t, fast.Err())
	require.Greater(t, fast.Seq, slow.Seq)

	close(release)
	err := slow.Wait(context.Background())
	assert.ErrorIs(t, err, ErrSuperseded)

	frame, seq := c.Surface().Snapshot()
	assert.Equal(t, fast.Seq, seq)
	assert.Equal(t, color.NRGBA{R: 0xff, A: 0xff}, frame.NRGBAAt(15, 15))
}

func TestRenderDecodeFailureLeavesSurface(t *testing.T) {
	fg := subject(20, 20, image.Rect(0, 0, 5, 5))
	c := NewCompositor()
	before := render(t, c, fg, flatSpec(red, 255))
	_, beforeSeq := c.Surface().Snapshot()

	broken := model.NewAsset([]byte("definitely not an image"), "image/png")
	err := c.Render(context.Background(), fg, imageSpec(broken, 255)).Wait(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAssetDecode)

	after, afterSeq := c.Surface().Snapshot()
	assert.Same(t, before, after)
	assert.Equal(t, beforeSeq, afterSeq)
}

func TestRenderCanceledDecode(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	c := NewCompositor(WithDecoder(blockingDecoder(release)))

	ctx, cancel := context.WithCancel(context.Background())
	pass := c.Render(ctx, subject(10, 10, image.Rectangle{}), imageSpec(solidAsset(t, 2, 2, color.NRGBA{A: 0xff}), 255))
	cancel()

	err := pass.Wait(context.Background())
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	frame, _ := c.Surface().Snapshot()
	assert.Nil(t, frame)
}

func TestRenderIdempotent(t *testing.T) {
	fg := subject(50, 40, image.Rect(10, 10, 30, 30))
	gradient := model.DefaultBackgroundSpec()
	gradient.Kind = model.KindGradient

	specs := map[string]model.BackgroundSpec{
		"flat":     flatSpec(red, 77),
		"gradient": gradient,
		"image":    imageSpec(solidAsset(t, 7, 3, color.NRGBA{R: 0x10, G: 0x80, B: 0x40, A: 0xff}), 180),
		"blank":    imageSpec(nil, 255),
	}
	for name, spec := range specs {
		t.Run(name, func(t *testing.T) {
			c := NewCompositor()
			first := render(t, c, fg, spec)
			second := render(t, c, fg, spec)
			assert.True(t, bytes.Equal(first.Pix, second.Pix))
		})
	}
}

func TestRenderWithoutForeground(t *testing.T) {
	c := NewCompositor()
	pass := c.Render(context.Background(), nil, flatSpec(red, 255))

	require.NoError(t, pass.Wait(context.Background()))
	assert.Zero(t, pass.Seq)
	assert.Zero(t, c.Surface().Seq())
	assert.ErrorIs(t, c.Surface().EncodePNG(&bytes.Buffer{}), ErrNoFrame)
}

func TestSurfaceResizesWithForeground(t *testing.T) {
	c := NewCompositor()
	render(t, c, subject(40, 30, image.Rectangle{}), flatSpec(red, 255))
	w, h := c.Surface().Size()
	assert.Equal(t, []int{40, 30}, []int{w, h})

	render(t, c, subject(12, 64, image.Rectangle{}), flatSpec(red, 255))
	w, h = c.Surface().Size()
	assert.Equal(t, []int{12, 64}, []int{w, h})

	var buf bytes.Buffer
	require.NoError(t, c.Surface().EncodePNG(&buf))
	assert.Equal(t, []byte("\x89PNG"), buf.Bytes()[:4])
}

func TestRenderSemiTransparentForeground(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetNRGBA(x, y, color.NRGBA{G: 0xff, A: 128})
		}
	}
	fg := model.NewForeground(img, "half")

	frame := render(t, NewCompositor(), fg, flatSpec(red, 255))
	requireNear(t, color.NRGBA{R: 127, G: 128, A: 255}, frame.NRGBAAt(1, 1), 1)

	frame = render(t, NewCompositor(), fg, flatSpec(red, 128))
	requireNear(t, color.NRGBA{R: 85, G: 170, A: 192}, frame.NRGBAAt(2, 2), 1)

	// 透明背景上前景保持原样
	frame = render(t, NewCompositor(), fg, flatSpec(red, 0))
	assert.Equal(t, color.NRGBA{G: 0xff, A: 128}, frame.NRGBAAt(3, 3))
}

func TestRenderTranslucentAsset(t *testing.T) {
	fg := subject(8, 8, image.Rectangle{})
	asset := solidAsset(t, 2, 2, color.NRGBA{B: 0xff, A: 128})

	frame := render(t, NewCompositor(), fg, imageSpec(asset, 255))
	requireNear(t, color.NRGBA{B: 0xff, A: 128}, frame.NRGBAAt(4, 4), 1)

	frame = render(t, NewCompositor(), fg, imageSpec(asset, 128))
	requireNear(t, color.NRGBA{B: 0xff, A: 64}, frame.NRGBAAt(4, 4), 1)
}
