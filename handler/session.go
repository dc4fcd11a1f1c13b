package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/TIANLI0/ClearBG/intake"
	"github.com/TIANLI0/ClearBG/model"
	"github.com/TIANLI0/ClearBG/session"
	"github.com/TIANLI0/ClearBG/sse"
	"github.com/TIANLI0/ClearBG/state"
	"github.com/TIANLI0/ClearBG/utils"
)

type SessionHandler struct {
	manager  *session.Manager
	previews *intake.PreviewStore
	hub      *sse.Hub
	maxSize  int64
}

func NewSessionHandler(manager *session.Manager, previews *intake.PreviewStore, hub *sse.Hub, maxSize int64) *SessionHandler {
	return &SessionHandler{
		manager:  manager,
		previews: previews,
		hub:      hub,
		maxSize:  maxSize,
	}
}

// ColorRequest 切换颜色请求
type ColorRequest struct {
	Color string `json:"color" binding:"required"`
}

// Create 新建会话
func (h *SessionHandler) Create(c *gin.Context) {
	ws := h.manager.Create()
	c.JSON(http.StatusCreated, ws.View())
}

// Get 当前界面
func (h *SessionHandler) Get(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ws.View())
}

// UploadImage 处理图片上传，上传后立即开始处理
func (h *SessionHandler) UploadImage(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}

	file, err := c.FormFile("image")
	if err != nil {
		utils.Logger.Info("failed to get uploaded file", zap.Error(err))
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "image file is required"})
		return
	}

	// 验证文件大小
	if h.maxSize > 0 && file.Size > h.maxSize {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error: fmt.Sprintf("file exceeds %d MB", h.maxSize/(1024*1024)),
		})
		return
	}

	f, err := file.Open()
	if err != nil {
		utils.Logger.Error("failed to open uploaded file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "failed to read file"})
		return
	}
	defer f.Close()

	view, err := ws.SelectImage(intake.File{
		Name:      filepath.Base(file.Filename),
		MediaType: file.Header.Get("Content-Type"),
		Reader:    f,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	utils.Logger.Info("file uploaded",
		zap.String("session", ws.ID()),
		zap.String("filename", file.Filename),
		zap.Int64("size", file.Size))

	c.JSON(http.StatusOK, view)
}

// ChangeColor 切换背景颜色
func (h *SessionHandler) ChangeColor(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}

	var req ColorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "color is required"})
		return
	}
	color, err := model.ParseColor(req.Color)
	if err != nil {
		h.fail(c, err)
		return
	}

	view, err := ws.ChangeColor(color)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *SessionHandler) Retry(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	view, err := ws.Retry()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *SessionHandler) Reset(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	view, err := ws.Reset()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Download 下载结果图片
func (h *SessionHandler) Download(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	artifact, err := ws.Download()
	if err != nil {
		h.fail(c, err)
		return
	}

	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": artifact.Filename}))
	c.Data(http.StatusOK, artifact.MediaType, artifact.Data)
}

// Events SSE 推送界面变化
func (h *SessionHandler) Events(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}

	// 快照在订阅之后才取，期间完成的结果不会丢
	sse.Serve(c, h.hub, ws.ID(), func() ([]byte, error) {
		return json.Marshal(ws.View())
	}, ws.Done())
}

// Delete 关闭会话
func (h *SessionHandler) Delete(c *gin.Context) {
	if err := h.manager.Close(c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Preview 原图预览
func (h *SessionHandler) Preview(c *gin.Context) {
	p, ok := h.previews.Get(c.Param("handle"))
	if !ok {
		c.JSON(http.StatusNotFound, model.ErrorResponse{Error: "preview not found"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, p.MediaType, p.Data)
}

func (h *SessionHandler) workspace(c *gin.Context) (*session.Workspace, bool) {
	ws, err := h.manager.Get(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	return ws, true
}

func (h *SessionHandler) fail(c *gin.Context, err error) {
	var status int
	switch {
	case errors.Is(err, session.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrNoImage), errors.Is(err, session.ErrNoResult):
		status = http.StatusConflict
	case errors.Is(err, state.ErrStoreClosed):
		status = http.StatusGone
	case errors.Is(err, model.ErrInvalidInput):
		status = http.StatusBadRequest
	default:
		status = http.StatusInternalServerError
		utils.Logger.Error("session request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}

	msg := err.Error()
	var re *model.RemovalError
	if errors.As(err, &re) {
		msg = model.Message(err)
	}
	c.JSON(status, model.ErrorResponse{Error: msg})
}
