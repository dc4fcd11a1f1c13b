package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/TIANLI0/ClearBG/model"
	"github.com/TIANLI0/ClearBG/service"
	"github.com/TIANLI0/ClearBG/utils"
)

const (
	invalidInputMessage = "Invalid input data"
	crossOriginMessage  = "Cross-origin requests are not allowed"
)

// BackgroundRemover 服务端实际调用模型的部分
type BackgroundRemover interface {
	Remove(ctx context.Context, in service.RemovalInput) (string, error)
}

// RemoveOptions 代理的可选配置
type RemoveOptions struct {
	// DefaultColor 请求未指定颜色时使用
	DefaultColor model.BgColor
	// MaxImageSize 解码后图片的上限，0 表示不限制
	MaxImageSize int64
	// AllowedOrigins 除同源外允许调用的 Origin，"*" 表示全部
	AllowedOrigins []string
}

// RemoveHandler 同源去背景代理，API Key 只在服务端使用
type RemoveHandler struct {
	remover        BackgroundRemover
	cache          service.ResultCache
	defaultColor   model.BgColor
	maxBodySize    int64
	allowedOrigins []string
}

// NewRemoveHandler cache 可以为 nil
func NewRemoveHandler(remover BackgroundRemover, cache service.ResultCache, opts RemoveOptions) *RemoveHandler {
	if !opts.DefaultColor.Valid() {
		opts.DefaultColor = model.ColorWhite
	}
	return &RemoveHandler{
		remover:        remover,
		cache:          cache,
		defaultColor:   opts.DefaultColor,
		maxBodySize:    bodyLimit(opts.MaxImageSize),
		allowedOrigins: opts.AllowedOrigins,
	}
}

// bodyLimit base64 膨胀 4/3，再留出 JSON 字段的余量
func bodyLimit(maxImageSize int64) int64 {
	if maxImageSize <= 0 {
		return 0
	}
	return maxImageSize/3*4 + 4 + 4096
}

// RemoveBackground 处理 POST /api/remove-bg
func (h *RemoveHandler) RemoveBackground(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		c.JSON(http.StatusMethodNotAllowed, model.ErrorResponse{Error: "Method not allowed"})
		return
	}

	// 简单请求不经过预检，在这里校验 Origin
	if origin := c.GetHeader("Origin"); origin != "" && !h.originAllowed(c.Request.Host, origin) {
		utils.Logger.Warn("cross-origin remove request rejected", zap.String("origin", origin))
		c.JSON(http.StatusForbidden, model.ErrorResponse{Error: crossOriginMessage})
		return
	}

	if h.maxBodySize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodySize)
	}

	var req model.RemoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Logger.Info("invalid remove request", zap.Error(err))
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: invalidInputMessage})
		return
	}

	input, err := h.parseRequest(&req)
	if err != nil {
		utils.Logger.Info("invalid remove request", zap.Error(err))
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: invalidInputMessage})
		return
	}

	ctx := c.Request.Context()
	digest := utils.BytesMD5(input.Data)

	// 检查缓存（按颜色区分）
	if h.cache != nil {
		cached, err := h.cache.GetResult(ctx, digest, input.Color)
		if err != nil {
			utils.Logger.Warn("failed to get cache", zap.Error(err))
		}
		if cached != nil && cached.Image != "" {
			utils.Logger.Info("cache hit",
				zap.String("digest", digest),
				zap.String("color", input.Color.String()))
			c.JSON(http.StatusOK, model.RemoveResponse{Image: cached.Image})
			return
		}
	}

	start := time.Now()
	image, err := h.remover.Remove(ctx, input)
	if err != nil {
		status := statusFor(err)
		utils.Logger.Error("failed to remove background",
			zap.String("digest", digest),
			zap.String("color", input.Color.String()),
			zap.Int("status", status),
			zap.Error(err))

		msg := model.Message(err)
		if status == http.StatusBadRequest {
			msg = invalidInputMessage
		}
		c.JSON(status, model.ErrorResponse{Error: msg})
		return
	}

	utils.Logger.Info("background removed",
		zap.String("digest", digest),
		zap.String("color", input.Color.String()),
		zap.Duration("cost", time.Since(start)))

	// 保存到缓存
	if h.cache != nil {
		result := &service.CachedResult{
			Image:     image,
			Color:     input.Color.String(),
			Timestamp: time.Now().Unix(),
		}
		if err := h.cache.SetResult(ctx, digest, input.Color, result); err != nil {
			utils.Logger.Warn("failed to set cache", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, model.RemoveResponse{Image: image})
}

// originAllowed 同源或在允许列表中
func (h *RemoveHandler) originAllowed(host, origin string) bool {
	u, err := url.Parse(origin)
	if err == nil && u.Host != "" && strings.EqualFold(u.Host, host) {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (h *RemoveHandler) parseRequest(req *model.RemoveRequest) (service.RemovalInput, error) {
	if req.Base64Image == "" || req.MimeType == "" {
		return service.RemovalInput{}, model.NewInvalidInput("base64Image and mimeType are required")
	}
	if !strings.HasPrefix(strings.ToLower(req.MimeType), "image/") {
		return service.RemovalInput{}, model.NewInvalidInput("mimeType is not an image type")
	}

	data, err := base64.StdEncoding.DecodeString(utils.StripDataURIPrefix(req.Base64Image))
	if err != nil || len(data) == 0 {
		return service.RemovalInput{}, model.NewInvalidInput("base64Image is not valid base64")
	}

	color := h.defaultColor
	if req.BgColor != "" {
		color, err = model.ParseColor(req.BgColor)
		if err != nil {
			return service.RemovalInput{}, err
		}
	}

	return service.RemovalInput{Data: data, MimeType: req.MimeType, Color: color}, nil
}

func statusFor(err error) int {
	if errors.Is(err, service.ErrServiceBusy) {
		return http.StatusServiceUnavailable
	}
	switch model.KindOf(err) {
	case model.KindInvalidInput:
		return http.StatusBadRequest
	case model.KindModel:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}
