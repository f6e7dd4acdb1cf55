package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/usamasarwar188/BG-Remover/config"
	"github.com/usamasarwar188/BG-Remover/utils"
	"go.uber.org/zap"
)

var ErrRemoval = errors.New("background removal failed")

// maxCutoutSize 去背景服务响应的上限
const maxCutoutSize = 64 << 20

// Remover 背景去除服务：输入原图，输出带 alpha 的前景图
type Remover interface {
	Remove(ctx context.Context, data []byte) ([]byte, error)
}

// RemoverFunc 将普通函数适配为 Remover
type RemoverFunc func(ctx context.Context, data []byte) ([]byte, error)

func (f RemoverFunc) Remove(ctx context.Context, data []byte) ([]byte, error) {
	return f(ctx, data)
}

// HTTPRemover 调用远程去背景服务（multipart 字段 file，响应为图片）
type HTTPRemover struct {
	endpoint string
	client   *http.Client
}

func NewHTTPRemover(cfg *config.RemovalConfig) *HTTPRemover {
	return &HTTPRemover{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

func (r *HTTPRemover) Remove(ctx context.Context, data []byte) ([]byte, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "image")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoval, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: service returned %d: %s", ErrRemoval, resp.StatusCode, bytes.TrimSpace(excerpt))
	}

	out, err := io.ReadAll(io.LimitReader(resp.Body, maxCutoutSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoval, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrRemoval)
	}
	if len(out) > maxCutoutSize {
		return nil, fmt.Errorf("%w: response exceeds %d bytes", ErrRemoval, maxCutoutSize)
	}

	utils.Logger.Info("background removed",
		zap.String("endpoint", r.endpoint),
		zap.Int("input_size", len(data)),
		zap.Int("output_size", len(out)),
		zap.Duration("cost", time.Since(start)))

	return out, nil
}
