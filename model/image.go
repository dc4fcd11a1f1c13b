package model

// EncodedImage 读入内存的图片，创建后不可修改
type EncodedImage struct {
	// ID 由内容摘要生成，用来给请求打标签
	ID            string
	Data          []byte
	MediaType     string
	Name          string
	PreviewHandle string
	Width         int
	Height        int
}
