package grabcut

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// foregroundMask 取出确定前景(1)和可能前景(3)，输出 0/255
func foregroundMask(gcMask *gocv.Mat) gocv.Mat {
	sure := gocv.NewMat()
	defer sure.Close()
	gocv.InRangeWithScalar(*gcMask, gocv.NewScalar(1, 0, 0, 0), gocv.NewScalar(1, 0, 0, 0), &sure)

	probable := gocv.NewMat()
	defer probable.Close()
	gocv.InRangeWithScalar(*gcMask, gocv.NewScalar(gcProbableForeground, 0, 0, 0), gocv.NewScalar(gcProbableForeground, 0, 0, 0), &probable)

	combined := gocv.NewMat()
	gocv.BitwiseOr(sure, probable, &combined)
	return combined
}

// morphologyOptimize 开运算去噪点，闭运算填小洞
func morphologyOptimize(mask *gocv.Mat, kernelSize int) gocv.Mat {
	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{X: kernelSize, Y: kernelSize})
	defer kernel.Close()

	opened := gocv.NewMat()
	defer opened.Close()
	gocv.MorphologyEx(*mask, &opened, gocv.MorphOpen, kernel)

	closed := gocv.NewMat()
	gocv.MorphologyEx(opened, &closed, gocv.MorphClose, kernel)
	return closed
}

// refineEdges 轻微膨胀后模糊再二值化，平滑锯齿边缘
func refineEdges(mask *gocv.Mat) gocv.Mat {
	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{X: 2, Y: 2})
	defer kernel.Close()

	dilated := gocv.NewMat()
	defer dilated.Close()
	gocv.Dilate(*mask, &dilated, kernel)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(dilated, &blurred, image.Point{X: 3, Y: 3}, 0, 0, gocv.BorderDefault)

	refined := gocv.NewMat()
	gocv.Threshold(blurred, &refined, 127, 255, gocv.ThresholdBinary)
	return refined
}

// keepLargest 只保留面积最大的连通区域
func keepLargest(mask *gocv.Mat) gocv.Mat {
	contours := gocv.FindContours(*mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	if contours.Size() == 0 {
		return mask.Clone()
	}

	largest, largestArea := 0, 0.0
	for i := 0; i < contours.Size(); i++ {
		if area := gocv.ContourArea(contours.At(i)); area > largestArea {
			largest, largestArea = i, area
		}
	}

	out := gocv.Zeros(mask.Rows(), mask.Cols(), gocv.MatTypeCV8U)
	gocv.DrawContours(&out, contours, largest, color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)
	return out
}

// feather 模糊边缘得到柔和的 alpha 过渡
func feather(mask *gocv.Mat, radius int) gocv.Mat {
	if radius <= 0 {
		return mask.Clone()
	}
	k := radius*2 + 1
	soft := gocv.NewMat()
	gocv.GaussianBlur(*mask, &soft, image.Point{X: k, Y: k}, 0, 0, gocv.BorderDefault)
	return soft
}

// coverage 前景像素占比
func coverage(mask *gocv.Mat) float64 {
	total := mask.Rows() * mask.Cols()
	if total == 0 {
		return 0
	}
	return float64(gocv.CountNonZero(*mask)) / float64(total)
}
