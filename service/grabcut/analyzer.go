package grabcut

import (
	"image"

	"gocv.io/x/gocv"
)

// Level 场景复杂度
type Level string

const (
	LevelSimple   Level = "simple"
	LevelMedium   Level = "medium"
	LevelComplex  Level = "complex"
	LevelPortrait Level = "portrait"
)

// Scene 场景分析结果
type Scene struct {
	Level         Level
	EdgeDensity   float64
	ColorVariance float64
	SkinRatio     float64
}

func (s Scene) IsPortrait() bool {
	return s.Level == LevelPortrait
}

// Analyzer 根据边缘密度、颜色方差和肤色占比判断场景类型
type Analyzer struct {
	portraitSkinRatio float64
}

func NewAnalyzer() *Analyzer {
	return &Analyzer{portraitSkinRatio: 0.15}
}

// Analyze 分析 BGR 图像
func (a *Analyzer) Analyze(img *gocv.Mat) Scene {
	scene := Scene{
		EdgeDensity:   edgeDensity(img),
		ColorVariance: colorVariance(img),
		SkinRatio:     skinRatio(img),
	}

	switch {
	case scene.SkinRatio > a.portraitSkinRatio:
		scene.Level = LevelPortrait
	case scene.EdgeDensity < 0.05 && scene.ColorVariance < 30:
		scene.Level = LevelSimple
	case scene.EdgeDensity > 0.15 || scene.ColorVariance > 60:
		scene.Level = LevelComplex
	default:
		scene.Level = LevelMedium
	}
	return scene
}

func edgeDensity(img *gocv.Mat) float64 {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(*img, &gray, gocv.ColorBGRToGray)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, 50, 150)

	return float64(gocv.CountNonZero(edges)) / float64(img.Rows()*img.Cols())
}

// colorVariance Lab 空间各通道标准差的均值
func colorVariance(img *gocv.Mat) float64 {
	lab := gocv.NewMat()
	defer lab.Close()
	gocv.CvtColor(*img, &lab, gocv.ColorBGRToLab)

	mean := gocv.NewMat()
	stddev := gocv.NewMat()
	defer mean.Close()
	defer stddev.Close()
	gocv.MeanStdDev(lab, &mean, &stddev)

	if stddev.Rows() == 0 {
		return 0
	}
	variance := 0.0
	for i := 0; i < stddev.Rows(); i++ {
		variance += stddev.GetDoubleAt(i, 0)
	}
	return variance / float64(stddev.Rows())
}

func skinRatio(img *gocv.Mat) float64 {
	skin := detectSkin(img)
	defer skin.Close()
	return float64(gocv.CountNonZero(skin)) / float64(img.Rows()*img.Cols())
}

// detectSkin YCrCb 阈值肤色检测
func detectSkin(img *gocv.Mat) gocv.Mat {
	ycrcb := gocv.NewMat()
	defer ycrcb.Close()
	gocv.CvtColor(*img, &ycrcb, gocv.ColorBGRToYCrCb)

	lower := gocv.NewScalar(0, 133, 77, 0)
	upper := gocv.NewScalar(255, 173, 127, 255)

	skin := gocv.NewMat()
	gocv.InRangeWithScalar(ycrcb, lower, upper, &skin)

	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{X: 5, Y: 5})
	defer kernel.Close()

	gocv.MorphologyEx(skin, &skin, gocv.MorphClose, kernel)
	gocv.MorphologyEx(skin, &skin, gocv.MorphOpen, kernel)

	return skin
}

// enhancePortrait 将膨胀后的肤色区域并入前景掩码
func enhancePortrait(fgMask, img *gocv.Mat) gocv.Mat {
	skin := detectSkin(img)
	defer skin.Close()

	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{X: 15, Y: 15})
	defer kernel.Close()

	dilated := gocv.NewMat()
	defer dilated.Close()
	gocv.Dilate(skin, &dilated, kernel)

	enhanced := gocv.NewMat()
	gocv.BitwiseOr(*fgMask, dilated, &enhanced)
	return enhanced
}
