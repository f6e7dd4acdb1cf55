package service

import (
	"errors"
	"image"
	"io"
	"sync"

	"github.com/usamasarwar188/BG-Remover/utils"
)

var ErrNoFrame = errors.New("surface has no committed frame")

// Surface 最终合成结果，只由 Compositor 写入。
// 每次提交整体替换帧，已提交的帧不会再被修改。
type Surface struct {
	mu    sync.RWMutex
	frame *image.NRGBA
	seq   uint64
}

// Snapshot 返回当前帧（只读）及其渲染序号，未提交过时帧为 nil
func (s *Surface) Snapshot() (*image.NRGBA, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frame, s.seq
}

func (s *Surface) Seq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

// Size 当前帧尺寸，即提交时前景图的尺寸
func (s *Surface) Size() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.frame == nil {
		return 0, 0
	}
	b := s.frame.Bounds()
	return b.Dx(), b.Dy()
}

// EncodePNG 导出当前帧
func (s *Surface) EncodePNG(w io.Writer) error {
	frame, _ := s.Snapshot()
	if frame == nil {
		return ErrNoFrame
	}
	return utils.EncodePNG(w, frame)
}

// swap 仅当 seq 比已提交的更新时替换帧
func (s *Surface) swap(frame *image.NRGBA, seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.seq {
		return false
	}
	s.frame = frame
	s.seq = seq
	return true
}
