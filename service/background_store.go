package service

import (
	"errors"
	"fmt"
	"sync"

	"github.com/usamasarwar188/BG-Remover/model"
)

var (
	ErrInvalidKind      = errors.New("invalid background kind")
	ErrInvalidDirection = errors.New("invalid gradient direction")
	ErrStoreClosed      = errors.New("background store closed")
)

// BackgroundStore 保存当前背景配置和可选的背景图，所有 setter 同步执行。
// 写操作串行化，订阅者按写入顺序收到通知，回调中不得再调用 setter。
type BackgroundStore struct {
	writeMu  sync.Mutex
	mu       sync.Mutex
	spec     model.BackgroundSpec
	preview  *Preview
	previews *PreviewRegistry
	closed   bool

	subMu  sync.Mutex
	subs   map[int]func(model.BackgroundSpec)
	nextID int
}

func NewBackgroundStore(previews *PreviewRegistry) *BackgroundStore {
	return &BackgroundStore{
		spec:     model.DefaultBackgroundSpec(),
		previews: previews,
		subs:     make(map[int]func(model.BackgroundSpec)),
	}
}

// Spec 返回当前配置快照
func (s *BackgroundStore) Spec() model.BackgroundSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spec
}

// PreviewURL 当前背景图的预览地址，无背景图时为空
func (s *BackgroundStore) PreviewURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.preview == nil {
		return ""
	}
	return s.preview.URL
}

// Subscribe 注册变更回调，回调在锁外同步调用
func (s *BackgroundStore) Subscribe(fn func(model.BackgroundSpec)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *BackgroundStore) SetKind(k model.Kind) error {
	return s.Apply(model.BackgroundPatch{Kind: &k})
}

// SetOpacity 超出 [0,255] 的值会被截断
func (s *BackgroundStore) SetOpacity(v int) error {
	return s.Apply(model.BackgroundPatch{Opacity: &v})
}

func (s *BackgroundStore) SetColor(c model.RGB) error {
	return s.Apply(model.BackgroundPatch{Color: &c})
}

func (s *BackgroundStore) SetStartColor(c model.RGB) error {
	return s.Apply(model.BackgroundPatch{StartColor: &c})
}

func (s *BackgroundStore) SetEndColor(c model.RGB) error {
	return s.Apply(model.BackgroundPatch{EndColor: &c})
}

func (s *BackgroundStore) SetDirection(d model.Direction) error {
	return s.Apply(model.BackgroundPatch{Direction: &d})
}

// Apply 原子地应用多个字段，只通知一次；校验失败时配置不变
func (s *BackgroundStore) Apply(p model.BackgroundPatch) error {
	if p.Kind != nil && !p.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, *p.Kind)
	}
	if p.Direction != nil && !p.Direction.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidDirection, *p.Direction)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	next := s.spec
	if p.Kind != nil {
		next.Kind = *p.Kind
	}
	if p.Opacity != nil {
		next.Opacity = model.ClampOpacity(*p.Opacity)
	}
	if p.Color != nil {
		next.Color = *p.Color
	}
	if p.StartColor != nil {
		next.StartColor = *p.StartColor
	}
	if p.EndColor != nil {
		next.EndColor = *p.EndColor
	}
	if p.Direction != nil {
		next.Direction = *p.Direction
	}
	s.spec = next
	s.mu.Unlock()

	s.notify(next)
	return nil
}

// SetAsset 设置背景图，同时获取新的预览句柄并释放旧句柄
func (s *BackgroundStore) SetAsset(asset *model.Asset) (*Preview, error) {
	if asset == nil {
		return nil, s.ClearAsset()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStoreClosed
	}
	old := s.preview
	s.preview = s.previews.Acquire(asset)
	s.spec.Asset = asset
	next, preview := s.spec, s.preview
	s.mu.Unlock()

	old.Release()
	s.notify(next)
	return preview, nil
}

// ClearAsset 移除背景图并释放预览
func (s *BackgroundStore) ClearAsset() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	old := s.preview
	s.preview = nil
	s.spec.Asset = nil
	next := s.spec
	s.mu.Unlock()

	old.Release()
	s.notify(next)
	return nil
}

// Close 释放预览并移除所有订阅，可重复调用
func (s *BackgroundStore) Close() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	old := s.preview
	s.preview = nil
	s.mu.Unlock()

	old.Release()

	s.subMu.Lock()
	clear(s.subs)
	s.subMu.Unlock()
}

func (s *BackgroundStore) notify(spec model.BackgroundSpec) {
	s.subMu.Lock()
	fns := make([]func(model.BackgroundSpec), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(spec)
	}
}
