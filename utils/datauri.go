package utils

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const defaultImageMime = "image/png"

// EncodeDataURI 把图片字节编码成可以直接显示的 data URI
func EncodeDataURI(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = defaultImageMime
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURI 解析 base64 形式的 data URI
func DecodeDataURI(uri string) (string, []byte, error) {
	uri = strings.TrimSpace(uri)
	if !strings.HasPrefix(uri, "data:") {
		return "", nil, errors.New("not a data uri")
	}
	header, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return "", nil, errors.New("data uri has no payload")
	}
	mimeType, isBase64 := strings.CutSuffix(header, ";base64")
	if !isBase64 {
		return "", nil, errors.New("data uri is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data uri: %w", err)
	}
	if len(data) == 0 {
		return "", nil, errors.New("data uri is empty")
	}
	return mimeType, data, nil
}

// StripDataURIPrefix 去掉 "data:...;base64," 前缀，只保留 base64 部分
func StripDataURIPrefix(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "data:") {
		return s
	}
	if _, payload, ok := strings.Cut(s, ","); ok {
		return payload
	}
	return s
}
