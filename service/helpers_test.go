package service

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/usamasarwar188/BG-Remover/model"
)

var (
	red   = model.RGB{R: 0xff}
	green = color.NRGBA{G: 0xff, A: 0xff}
)

// subject 透明画布上左上角有一块不透明绿色方块
func subject(w, h int, square image.Rectangle) *model.Foreground {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := square.Min.Y; y < square.Max.Y; y++ {
		for x := square.Min.X; x < square.Max.X; x++ {
			img.SetNRGBA(x, y, green)
		}
	}
	return model.NewForeground(img, "subject")
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func solidAsset(t *testing.T, w, h int, c color.NRGBA) *model.Asset {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return model.NewAsset(encodePNG(t, img), "image/png")
}

func flatSpec(c model.RGB, opacity int) model.BackgroundSpec {
	spec := model.DefaultBackgroundSpec()
	spec.Kind = model.KindFlat
	spec.Color = c
	spec.Opacity = opacity
	return spec
}

func imageSpec(asset *model.Asset, opacity int) model.BackgroundSpec {
	spec := model.DefaultBackgroundSpec()
	spec.Kind = model.KindImage
	spec.Asset = asset
	spec.Opacity = opacity
	return spec
}

func near(a, b uint8, tol int) bool {
	d := int(a) - int(b)
	return d >= -tol && d <= tol
}

func requireNear(t *testing.T, want, got color.NRGBA, tol int, msgAndArgs ...any) {
	t.Helper()
	ok := near(want.A, got.A, tol)
	// alpha 为 0 时颜色无意义
	if want.A != 0 {
		ok = ok && near(want.R, got.R, tol) && near(want.G, got.G, tol) && near(want.B, got.B, tol)
	}
	if !ok {
		require.Failf(t, "pixel mismatch", "want %v, got %v %v", want, got, msgAndArgs)
	}
}
