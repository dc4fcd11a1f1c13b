package model

// RemoveRequest 去背景代理的请求体
type RemoveRequest struct {
	Base64Image string `json:"base64Image"`
	MimeType    string `json:"mimeType"`
	BgColor     string `json:"bgColor,omitempty"`
}

// RemoveResponse 去背景代理的成功响应
type RemoveResponse struct {
	Image string `json:"image"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error string `json:"error"`
}
