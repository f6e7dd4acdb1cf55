package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/usamasarwar188/BG-Remover/config"
	"github.com/usamasarwar188/BG-Remover/model"
	"github.com/usamasarwar188/BG-Remover/service"
	"github.com/usamasarwar188/BG-Remover/utils"
	"go.uber.org/zap"
)

const (
	// ExportFilename 导出文件名
	ExportFilename = "processed-image.png"
	// ForegroundFilename 透明前景的下载文件名
	ForegroundFilename = "foreground.png"
)

type SessionHandler struct {
	cfg      *config.Config
	sessions *service.SessionManager
	remover  service.Remover
}

func NewSessionHandler(cfg *config.Config, sessions *service.SessionManager, remover service.Remover) *SessionHandler {
	return &SessionHandler{
		cfg:      cfg,
		sessions: sessions,
		remover:  remover,
	}
}

// Create 创建会话
func (h *SessionHandler) Create(c *gin.Context) {
	session, err := h.sessions.Create()
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusCreated, "会话已创建", session.View())
}

// Get 查询会话状态
func (h *SessionHandler) Get(c *gin.Context) {
	session, found := h.session(c)
	if !found {
		return
	}
	ok(c, http.StatusOK, "查询成功", session.View())
}

// Delete 结束会话并释放资源
func (h *SessionHandler) Delete(c *gin.Context) {
	if err := h.sessions.Delete(c.Param("id")); err != nil {
		failService(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UploadForeground 上传原图，去除背景后作为新的前景并重新合成
func (h *SessionHandler) UploadForeground(c *gin.Context) {
	session, found := h.session(c)
	if !found {
		return
	}

	data, _, valid := h.readImage(c)
	if !valid {
		return
	}
	md5 := utils.BytesMD5(data)

	utils.Logger.Info("foreground uploaded",
		zap.String("session_id", session.ID),
		zap.String("md5", md5),
		zap.Int("size", len(data)))

	cutout, err := h.remover.Remove(c.Request.Context(), data)
	if err != nil {
		utils.Logger.Error("failed to remove background",
			zap.String("md5", md5), zap.Error(err))
		if !errors.Is(err, service.ErrRemoval) {
			err = fmt.Errorf("%w: %v", service.ErrRemoval, err)
		}
		failService(c, err)
		return
	}

	img, _, err := utils.DecodeImage(cutout)
	if err != nil {
		fail(c, http.StatusBadGateway, "去背景服务返回了无法解析的图片", err)
		return
	}

	pass, err := session.SetForeground(model.NewForeground(img, md5))
	if err != nil {
		failService(c, err)
		return
	}
	if err := h.wait(c.Request.Context(), pass); err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, "处理成功", session.View())
}

// UpdateBackground 修改背景参数
func (h *SessionHandler) UpdateBackground(c *gin.Context) {
	session, found := h.session(c)
	if !found {
		return
	}

	var patch model.BackgroundPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		fail(c, http.StatusBadRequest, "背景参数格式错误", err)
		return
	}
	if patch.Empty() {
		ok(c, http.StatusOK, "未修改", session.View())
		return
	}

	pass, err := session.ApplyBackground(patch)
	if err != nil {
		failService(c, err)
		return
	}
	if err := h.wait(c.Request.Context(), pass); err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, "更新成功", session.View())
}

// UploadBackgroundImage 上传背景图
func (h *SessionHandler) UploadBackgroundImage(c *gin.Context) {
	session, found := h.session(c)
	if !found {
		return
	}

	data, mime, valid := h.readImage(c)
	if !valid {
		return
	}

	pass, err := session.SetBackgroundAsset(model.NewAsset(data, mime))
	if err != nil {
		failService(c, err)
		return
	}
	if err := h.wait(c.Request.Context(), pass); err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, "背景图已更新", session.View())
}

// ClearBackgroundImage 移除背景图
func (h *SessionHandler) ClearBackgroundImage(c *gin.Context) {
	session, found := h.session(c)
	if !found {
		return
	}

	pass, err := session.ClearBackgroundAsset()
	if err != nil {
		failService(c, err)
		return
	}
	if err := h.wait(c.Request.Context(), pass); err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, "背景图已移除", session.View())
}

// Preview 以内联方式返回当前合成结果
func (h *SessionHandler) Preview(c *gin.Context) {
	h.writeSurface(c, false)
}

// Export 以附件方式下载当前合成结果
func (h *SessionHandler) Export(c *gin.Context) {
	h.writeSurface(c, true)
}

// Foreground 返回去除背景后的透明前景，download=true 时作为附件下载
func (h *SessionHandler) Foreground(c *gin.Context) {
	session, found := h.session(c)
	if !found {
		return
	}

	fg := session.Foreground()
	if fg == nil {
		failService(c, service.ErrNoForeground)
		return
	}

	var buf bytes.Buffer
	if err := utils.EncodePNG(&buf, fg.Image()); err != nil {
		fail(c, http.StatusInternalServerError, "图片编码失败", err)
		return
	}

	if c.Query("download") == "true" {
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, ForegroundFilename))
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

func (h *SessionHandler) writeSurface(c *gin.Context, attachment bool) {
	session, found := h.session(c)
	if !found {
		return
	}

	surface := session.Surface()
	var buf bytes.Buffer
	if err := surface.EncodePNG(&buf); err != nil {
		failService(c, err)
		return
	}

	if attachment {
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, ExportFilename))
	}
	c.Header("Cache-Control", "no-store")
	c.Header("X-Frame-Seq", strconv.FormatUint(surface.Seq(), 10))
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

func (h *SessionHandler) session(c *gin.Context) (*service.Session, bool) {
	id := c.Param("id")
	if !utils.ValidID(id) {
		failService(c, service.ErrSessionNotFound)
		return nil, false
	}
	session, err := h.sessions.Get(id)
	if err != nil {
		failService(c, err)
		return nil, false
	}
	return session, true
}

// readImage 读取 multipart 字段 image，校验大小和真实类型
func (h *SessionHandler) readImage(c *gin.Context) ([]byte, string, bool) {
	file, err := c.FormFile("image")
	if err != nil {
		fail(c, http.StatusBadRequest, "请上传图片文件", err)
		return nil, "", false
	}

	// 验证文件大小
	if file.Size > h.cfg.Upload.MaxSize {
		fail(c, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("文件大小超过限制 (%d MB)", h.cfg.Upload.MaxSize/(1024*1024)), nil)
		return nil, "", false
	}

	f, err := file.Open()
	if err != nil {
		fail(c, http.StatusInternalServerError, "读取文件失败", err)
		return nil, "", false
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.cfg.Upload.MaxSize+1))
	if err != nil {
		fail(c, http.StatusInternalServerError, "读取文件失败", err)
		return nil, "", false
	}
	if int64(len(data)) > h.cfg.Upload.MaxSize {
		fail(c, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("文件大小超过限制 (%d MB)", h.cfg.Upload.MaxSize/(1024*1024)), nil)
		return nil, "", false
	}

	// 验证文件类型（按文件头识别，不信任 Content-Type）
	mime, err := utils.SniffImage(data)
	if err != nil || !h.isAllowedType(mime) {
		fail(c, http.StatusBadRequest, "不支持的文件类型", err)
		return nil, "", false
	}
	return data, mime, true
}

func (h *SessionHandler) isAllowedType(contentType string) bool {
	for _, allowed := range h.cfg.Upload.AllowedTypes {
		if strings.EqualFold(contentType, allowed) {
			return true
		}
	}
	return false
}

// wait 等待渲染落地；被更新的渲染取代不算失败
func (h *SessionHandler) wait(ctx context.Context, pass *service.RenderPass) error {
	timeout := h.cfg.Session.RenderTimeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err := pass.Wait(ctx)
	if errors.Is(err, service.ErrSuperseded) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
