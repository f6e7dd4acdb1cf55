package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/usamasarwar188/BG-Remover/service"
	"github.com/usamasarwar188/BG-Remover/utils"
)

// PreviewHandler 提供背景图预览句柄的访问
type PreviewHandler struct {
	previews *service.PreviewRegistry
}

func NewPreviewHandler(previews *service.PreviewRegistry) *PreviewHandler {
	return &PreviewHandler{previews: previews}
}

// Get 返回句柄对应的原始图片，句柄释放后返回 404
func (h *PreviewHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if !utils.ValidID(id) {
		fail(c, http.StatusNotFound, "预览已失效", nil)
		return
	}
	asset, found := h.previews.Get(id)
	if !found {
		fail(c, http.StatusNotFound, "预览已失效", nil)
		return
	}
	c.Header("Cache-Control", "private, max-age=300")
	c.Data(http.StatusOK, asset.ContentType, asset.Bytes())
}
