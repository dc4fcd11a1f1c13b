package intake

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp"

	"github.com/TIANLI0/ClearBG/model"
	"github.com/TIANLI0/ClearBG/utils"
)

// File 用户选择的文件
type File struct {
	Name string
	// MediaType 为空时按内容嗅探
	MediaType string
	Reader    io.Reader
}

// Intake 把用户文件读成 EncodedImage
type Intake struct {
	previews *PreviewStore
	maxSize  int64
	logger   *zap.Logger
}

func New(previews *PreviewStore, maxSize int64) *Intake {
	return &Intake{
		previews: previews,
		maxSize:  maxSize,
		logger:   utils.Component("intake"),
	}
}

// SelectImage 读取整个文件，原样保留字节并生成预览句柄
func (in *Intake) SelectImage(f File) (*model.EncodedImage, error) {
	if f.Reader == nil {
		return nil, model.NewInvalidInput("no file")
	}
	if f.MediaType != "" && !isImageType(f.MediaType) {
		return nil, model.NewInvalidInput("not an image")
	}

	data, err := in.readAll(f.Reader)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, model.NewInvalidInput("empty file")
	}

	mediaType := baseType(f.MediaType)
	if mediaType == "" {
		mediaType = baseType(mimetype.Detect(data).String())
		if !isImageType(mediaType) {
			return nil, model.NewInvalidInput("not an image")
		}
	}

	img := &model.EncodedImage{
		ID:        utils.BytesMD5(data),
		Data:      data,
		MediaType: mediaType,
		Name:      f.Name,
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		img.Width, img.Height = cfg.Width, cfg.Height
	}

	// 句柄最后创建，前面任何失败都不会留下未释放的句柄
	img.PreviewHandle = in.previews.Create(data, mediaType)

	in.logger.Debug("image selected",
		zap.String("name", img.Name),
		zap.String("media_type", img.MediaType),
		zap.Int("size", len(data)),
		zap.String("preview", img.PreviewHandle))

	return img, nil
}

// Release 释放图片的预览句柄
func (in *Intake) Release(handle string) {
	in.previews.Release(handle)
}

func (in *Intake) Previews() *PreviewStore {
	return in.previews
}

func (in *Intake) readAll(r io.Reader) ([]byte, error) {
	if in.maxSize <= 0 {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("read image: %w", err)
		}
		return data, nil
	}

	data, err := io.ReadAll(io.LimitReader(r, in.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > in.maxSize {
		return nil, model.NewInvalidInput(fmt.Sprintf("file exceeds %d MB", in.maxSize/(1024*1024)))
	}
	return data, nil
}

func isImageType(mediaType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mediaType)), "image/")
}

// baseType 去掉 "; charset=..." 之类的参数
func baseType(mediaType string) string {
	t, _, _ := strings.Cut(mediaType, ";")
	return strings.ToLower(strings.TrimSpace(t))
}
