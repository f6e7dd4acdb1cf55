package service

import (
	"sync"

	"github.com/usamasarwar188/BG-Remover/model"
	"github.com/usamasarwar188/BG-Remover/utils"
	"go.uber.org/zap"
)

// PreviewRegistry 维护可访问的背景图预览句柄，句柄在被替换或会话结束时释放
type PreviewRegistry struct {
	mu      sync.RWMutex
	assets  map[string]*model.Asset
	baseURL string
}

func NewPreviewRegistry(baseURL string) *PreviewRegistry {
	return &PreviewRegistry{
		assets:  make(map[string]*model.Asset),
		baseURL: baseURL,
	}
}

// Preview 一个已获取的预览句柄
type Preview struct {
	ID  string
	URL string

	registry *PreviewRegistry
	once     sync.Once
}

// Acquire 为 asset 分配新的预览句柄
func (r *PreviewRegistry) Acquire(asset *model.Asset) *Preview {
	id := utils.NewID()

	r.mu.Lock()
	r.assets[id] = asset
	r.mu.Unlock()

	utils.Logger.Debug("preview acquired",
		zap.String("preview_id", id),
		zap.String("md5", asset.MD5))

	return &Preview{ID: id, URL: r.baseURL + id, registry: r}
}

// Get 查询句柄对应的数据，已释放时返回 false
func (r *PreviewRegistry) Get(id string) (*model.Asset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	asset, ok := r.assets[id]
	return asset, ok
}

// Len 当前存活的句柄数量
func (r *PreviewRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.assets)
}

func (r *PreviewRegistry) release(id string) {
	r.mu.Lock()
	delete(r.assets, id)
	r.mu.Unlock()

	utils.Logger.Debug("preview released", zap.String("preview_id", id))
}

// Release 释放句柄，可重复调用
func (p *Preview) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		p.registry.release(p.ID)
	})
}
