// Package grabcut 使用 OpenCV GrabCut 在本地去除背景，作为远程服务的替代实现。
package grabcut

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/usamasarwar188/BG-Remover/config"
	"github.com/usamasarwar188/BG-Remover/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

var (
	ErrQueueFull    = errors.New("grabcut queue full")
	ErrNoForeground = errors.New("no foreground detected")
)

// Remover 输出 BGRA PNG，alpha 为前景掩码
type Remover struct {
	iterations   int
	borderSize   int
	maxDimension int
	keepLargest  bool
	semaphore    chan struct{}
	queueTimeout time.Duration
	analyzer     *Analyzer
}

func New(cfg *config.GrabCutConfig) *Remover {
	return &Remover{
		iterations:   cfg.Iterations,
		borderSize:   cfg.BorderSize,
		maxDimension: cfg.MaxDimension,
		keepLargest:  cfg.KeepLargest,
		semaphore:    make(chan struct{}, max(1, cfg.MaxConcurrent)),
		queueTimeout: cfg.QueueTimeout,
		analyzer:     NewAnalyzer(),
	}
}

func (r *Remover) Remove(ctx context.Context, data []byte) ([]byte, error) {
	// 并发控制
	queueCtx, cancel := context.WithTimeout(ctx, r.queueTimeout)
	defer cancel()

	select {
	case r.semaphore <- struct{}{}:
		defer func() { <-r.semaphore }()
	case <-queueCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrQueueFull
	}

	start := time.Now()

	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, fmt.Errorf("failed to read image")
	}

	mask, scene := r.segment(&img)
	defer mask.Close()

	ratio := coverage(&mask)
	if ratio == 0 {
		return nil, ErrNoForeground
	}

	alpha := feather(&mask, 1)
	defer alpha.Close()

	out, err := withAlpha(&img, &alpha)
	if err != nil {
		return nil, err
	}

	utils.Logger.Info("grabcut cutout generated",
		zap.Int("width", img.Cols()),
		zap.Int("height", img.Rows()),
		zap.String("complexity", string(scene.Level)),
		zap.Float64("coverage", ratio),
		zap.Duration("duration", time.Since(start)))

	return out, nil
}

// segment 返回原图尺寸的 0/255 前景掩码
func (r *Remover) segment(img *gocv.Mat) (gocv.Mat, Scene) {
	width, height := img.Cols(), img.Rows()

	scaled, scale := r.smartResize(img)
	defer scaled.Close()
	sw, sh := scaled.Cols(), scaled.Rows()

	scene := r.analyzer.Analyze(&scaled)
	utils.Logger.Debug("scene analyzed",
		zap.String("level", string(scene.Level)),
		zap.Float64("edge_density", scene.EdgeDensity),
		zap.Float64("color_variance", scene.ColorVariance))

	bgdModel := gocv.NewMat()
	defer bgdModel.Close()
	fgdModel := gocv.NewMat()
	defer fgdModel.Close()

	var gcMask gocv.Mat
	if scene.Level == LevelSimple {
		border := r.borderSize
		if border < 10 {
			border = int(float64(sw) * 0.05)
		}
		gcMask = gocv.NewMat()
		rect := image.Rect(border, border, sw-border, sh-border)
		gocv.GrabCut(scaled, &gcMask, rect, &bgdModel, &fgdModel, r.iterationsFor(scene), gocv.GCInitWithRect)
	} else {
		saliency := saliencyMap(&scaled)
		if gocv.CountNonZero(saliency) == 0 {
			// 没有显著区域时退回矩形初始化
			gcMask = gocv.NewMat()
			gocv.GrabCut(scaled, &gcMask, saliencyRect(&saliency, sw, sh), &bgdModel, &fgdModel, r.iterationsFor(scene), gocv.GCInitWithRect)
		} else {
			gcMask = initMask(&saliency, sw, sh)
			gocv.GrabCut(scaled, &gcMask, image.Rectangle{}, &bgdModel, &fgdModel, r.iterationsFor(scene), gocv.GCInitWithMask)
		}
		saliency.Close()
		// 再迭代两次收敛边缘
		gocv.GrabCut(scaled, &gcMask, image.Rectangle{}, &bgdModel, &fgdModel, 2, gocv.GCInitWithMask)
	}
	defer gcMask.Close()

	fg := foregroundMask(&gcMask)

	if scene.IsPortrait() {
		enhanced := enhancePortrait(&fg, &scaled)
		fg.Close()
		fg = enhanced
	}

	kernelSize := 3
	if scene.Level == LevelComplex || scene.Level == LevelPortrait {
		kernelSize = 5
	}
	optimized := morphologyOptimize(&fg, kernelSize)
	fg.Close()
	fg = optimized

	if scene.Level != LevelSimple {
		refined := refineEdges(&fg)
		fg.Close()
		fg = refined
	}

	// 还原到原始尺寸
	if scale != 1.0 {
		resized := gocv.NewMat()
		gocv.Resize(fg, &resized, image.Point{X: width, Y: height}, 0, 0, gocv.InterpolationLinear)
		gocv.Threshold(resized, &resized, 127, 255, gocv.ThresholdBinary)
		fg.Close()
		fg = resized
	}

	if r.keepLargest {
		largest := keepLargest(&fg)
		fg.Close()
		fg = largest
	}

	return fg, scene
}

func (r *Remover) iterationsFor(scene Scene) int {
	switch scene.Level {
	case LevelSimple:
		return max(3, r.iterations-2)
	case LevelPortrait:
		return r.iterations + 1
	case LevelComplex:
		return r.iterations + 2
	}
	return r.iterations
}

// smartResize 长边超过 maxDimension 时等比缩小
func (r *Remover) smartResize(img *gocv.Mat) (gocv.Mat, float64) {
	width, height := img.Cols(), img.Rows()
	maxDim := max(width, height)
	if r.maxDimension <= 0 || maxDim <= r.maxDimension {
		return img.Clone(), 1.0
	}

	scale := float64(r.maxDimension) / float64(maxDim)
	size := image.Point{X: int(float64(width) * scale), Y: int(float64(height) * scale)}

	resized := gocv.NewMat()
	gocv.Resize(*img, &resized, size, 0, 0, gocv.InterpolationArea)
	return resized, scale
}

// withAlpha 用掩码替换 alpha 通道并编码为 PNG
func withAlpha(img, alpha *gocv.Mat) ([]byte, error) {
	bgra := gocv.NewMat()
	defer bgra.Close()
	gocv.CvtColor(*img, &bgra, gocv.ColorBGRToBGRA)

	channels := gocv.Split(bgra)
	defer func() {
		for _, ch := range channels {
			ch.Close()
		}
	}()
	alpha.CopyTo(&channels[3])

	merged := gocv.NewMat()
	defer merged.Close()
	gocv.Merge(channels, &merged)

	buf, err := gocv.IMEncode(gocv.PNGFileExt, merged)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cutout: %w", err)
	}
	defer buf.Close()

	raw := buf.GetBytes()
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}
