package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/TIANLI0/ClearBG/model"
	"github.com/TIANLI0/ClearBG/utils"
	nhttp "github.com/TIANLI0/ClearBG/utils/http"
)

// ProxyClient 通过同源代理调用去背景模型，无状态，可并发使用
type ProxyClient struct {
	proxyURL string
	cli      nhttp.IClient
	logger   *zap.Logger
}

func NewProxyClient(proxyURL string, timeout time.Duration) *ProxyClient {
	return NewProxyClientWithHTTP(proxyURL, nhttp.NewHTTPClientWithTimeout(timeout))
}

func NewProxyClientWithHTTP(proxyURL string, cli nhttp.IClient) *ProxyClient {
	return &ProxyClient{
		proxyURL: proxyURL,
		cli:      cli,
		logger:   utils.Component("proxy-client"),
	}
}

// RemoveBackground 发送一次请求，返回可直接显示的 data URI
func (c *ProxyClient) RemoveBackground(ctx context.Context, img *model.EncodedImage, color model.BgColor) (string, error) {
	if img == nil || len(img.Data) == 0 || img.MediaType == "" {
		return "", model.NewInvalidInput("image payload and media type are required")
	}
	if !color.Valid() {
		return "", model.NewInvalidInput(fmt.Sprintf("unknown background color %q", color))
	}

	var resp model.RemoveResponse
	reqParam := &nhttp.RequestParam{
		RequestURI: c.proxyURL,
		Method:     http.MethodPost,
		Header:     map[string]string{"Content-Type": "application/json"},
		Body: model.RemoveRequest{
			Base64Image: base64.StdEncoding.EncodeToString(img.Data),
			MimeType:    img.MediaType,
			BgColor:     color.String(),
		},
		Response: &resp,
	}

	if err := c.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		c.logger.Warn("remove background request failed",
			zap.String("image", img.ID),
			zap.String("color", color.String()),
			zap.Error(err))
		return "", classify(err)
	}

	if !strings.HasPrefix(resp.Image, "data:image/") {
		return "", model.NewModelFailure("model returned no image")
	}
	if _, _, err := utils.DecodeDataURI(resp.Image); err != nil {
		return "", model.NewModelFailure("model returned no image")
	}

	return resp.Image, nil
}

// classify 把请求错误转换成 RemovalError
func classify(err error) error {
	if errors.Is(err, nhttp.ErrDecodeResponse) {
		return &model.RemovalError{Kind: model.KindModel, Message: "model returned no image", Err: err}
	}

	var statusErr *nhttp.StatusError
	if !errors.As(err, &statusErr) {
		var removalErr *model.RemovalError
		if errors.As(err, &removalErr) {
			return removalErr
		}
		return model.NewTransportFailure("Network error, please check your connection and retry", err)
	}

	var body model.ErrorResponse
	if jsonErr := json.Unmarshal(statusErr.Body, &body); jsonErr == nil && body.Error != "" {
		switch statusErr.StatusCode {
		case http.StatusBadRequest:
			return model.NewInvalidInput(body.Error)
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			// 代理调用上游失败或繁忙
			return model.NewTransportFailure(body.Error, statusErr)
		}
		return &model.RemovalError{Kind: model.KindModel, Message: body.Error, Err: statusErr}
	}

	return model.NewTransportFailure(fmt.Sprintf("HTTP request failed with status %d", statusErr.StatusCode), statusErr)
}
