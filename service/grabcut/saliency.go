package grabcut

import (
	"image"

	"gocv.io/x/gocv"
)

// GrabCut 掩码取值，0 为确定背景
const (
	gcProbableBackground = 2
	gcProbableForeground = 3
)

// saliencyMap 基于梯度幅值的显著性图（Otsu 二值化）
func saliencyMap(img *gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(*img, &gray, gocv.ColorBGRToGray)

	gradX := gocv.NewMat()
	gradY := gocv.NewMat()
	defer gradX.Close()
	defer gradY.Close()
	gocv.Sobel(gray, &gradX, gocv.MatTypeCV16S, 1, 0, 3, 1, 0, gocv.BorderDefault)
	gocv.Sobel(gray, &gradY, gocv.MatTypeCV16S, 0, 1, 3, 1, 0, gocv.BorderDefault)

	absX := gocv.NewMat()
	absY := gocv.NewMat()
	defer absX.Close()
	defer absY.Close()
	gocv.ConvertScaleAbs(gradX, &absX, 1, 0)
	gocv.ConvertScaleAbs(gradY, &absY, 1, 0)

	gradient := gocv.NewMat()
	defer gradient.Close()
	gocv.AddWeighted(absX, 0.5, absY, 0.5, 0, &gradient)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gradient, &blurred, image.Point{X: 21, Y: 21}, 0, 0, gocv.BorderDefault)

	saliency := gocv.NewMat()
	gocv.Threshold(blurred, &saliency, 0, 255, gocv.ThresholdOtsu)
	return saliency
}

// saliencyRect 最大显著区域的外接矩形，外扩 5%；没有显著区域时退回到 10% 边距
func saliencyRect(saliency *gocv.Mat, width, height int) image.Rectangle {
	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{X: 21, Y: 21})
	defer kernel.Close()

	dilated := gocv.NewMat()
	defer dilated.Close()
	gocv.Dilate(*saliency, &dilated, kernel)

	contours := gocv.FindContours(dilated, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	if contours.Size() == 0 {
		border := int(float64(width) * 0.1)
		return image.Rect(border, border, width-border, height-border)
	}

	var best image.Rectangle
	bestArea := 0.0
	for i := 0; i < contours.Size(); i++ {
		if area := gocv.ContourArea(contours.At(i)); area > bestArea {
			bestArea = area
			best = gocv.BoundingRect(contours.At(i))
		}
	}

	pad := int(float64(best.Dx()) * 0.05)
	return image.Rect(
		max(0, best.Min.X-pad),
		max(0, best.Min.Y-pad),
		min(width, best.Max.X+pad),
		min(height, best.Max.Y+pad),
	)
}

// initMask 生成 GrabCut 初始掩码：边框为背景，内部为可能背景，显著区域为可能前景
func initMask(saliency *gocv.Mat, width, height int) gocv.Mat {
	mask := gocv.Zeros(height, width, gocv.MatTypeCV8U)

	border := int(float64(width) * 0.03)
	inner := image.Rect(border, border, width-border, height-border)
	if !inner.Empty() {
		region := mask.Region(inner)
		region.SetTo(gocv.NewScalar(gcProbableBackground, 0, 0, 0))
		region.Close()
	}

	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{X: 11, Y: 11})
	defer kernel.Close()

	dilated := gocv.NewMat()
	defer dilated.Close()
	gocv.Dilate(*saliency, &dilated, kernel)

	salient := gocv.NewMat()
	defer salient.Close()
	gocv.Threshold(dilated, &salient, 128, 255, gocv.ThresholdBinary)

	// 边框内的显著像素标为可能前景
	if !inner.Empty() {
		frame := gocv.Zeros(height, width, gocv.MatTypeCV8U)
		defer frame.Close()
		region := frame.Region(inner)
		region.SetTo(gocv.NewScalar(255, 0, 0, 0))
		region.Close()
		gocv.BitwiseAnd(salient, frame, &salient)
	}

	fg := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(gcProbableForeground, 0, 0, 0), height, width, gocv.MatTypeCV8U)
	defer fg.Close()
	fg.CopyToWithMask(&mask, salient)
	return mask
}
