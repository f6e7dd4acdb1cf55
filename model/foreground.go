package model

import (
	"image"
	"image/draw"
)

// Foreground 去除背景后的主体图像，带 alpha 通道，创建后不可修改
type Foreground struct {
	img *image.NRGBA
	MD5 string
}

// NewForeground 将解码后的图像归一化为原点对齐的 NRGBA
func NewForeground(img image.Image, md5 string) *Foreground {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return &Foreground{img: dst, MD5: md5}
}

// Image 返回只读位图
func (f *Foreground) Image() *image.NRGBA {
	return f.img
}

func (f *Foreground) Bounds() image.Rectangle {
	return f.img.Bounds()
}

func (f *Foreground) Width() int {
	return f.img.Bounds().Dx()
}

func (f *Foreground) Height() int {
	return f.img.Bounds().Dy()
}
